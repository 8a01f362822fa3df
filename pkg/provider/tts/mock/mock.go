// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled audio per utterance, to inject failures
// for specific texts, and to verify the requests the orchestrator issues.
//
// Example:
//
//	p := &mock.Provider{
//	    Results: map[string]string{"Olá!": audio.EncodeBase64(pcm)},
//	    Errs:    map[string]error{"Tchau.": errors.New("boom")},
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/aura/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the request passed to Synthesize.
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Result is returned for any text not present in Results.
	Result string

	// Results maps Request.Text to the audio returned for it.
	Results map[string]string

	// Err, if non-nil, is returned for any text not present in Errs.
	Err error

	// Errs maps Request.Text to a failure returned for it.
	Errs map[string]error

	// Delays maps Request.Text to an artificial latency. The call returns
	// ctx.Err() if the context ends first.
	Delays map[string]time.Duration

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order of arrival.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call, waits for any configured delay and returns the
// configured result or error for req.Text.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (string, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	delay := p.Delays[req.Text]
	err, hasErr := p.Errs[req.Text]
	if !hasErr {
		err = p.Err
	}
	result, ok := p.Results[req.Text]
	if !ok {
		result = p.Result
	}
	p.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return result, nil
}

// Calls returns a snapshot of the recorded calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// Texts returns the Text of every recorded call in arrival order.
func (p *Provider) Texts() []string {
	calls := p.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Req.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
