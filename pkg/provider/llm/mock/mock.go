// Package mock provides a test double for the llm.Provider interface.
//
// Set StreamChunks to script a reply and StreamErr to fail the stream start.
// Every call is recorded in StreamCalls.
//
//	p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "Olá! "}, {Text: "Tudo bem?"}}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/aura/pkg/provider/llm"
)

// StreamCall records a single invocation of StreamCompletion.
type StreamCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is sent in order on the returned channel, which is then
	// closed.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned instead of opening a channel.
	StreamErr error

	// Gate, if non-nil, is received from before each chunk is sent, letting a
	// test pace the stream.
	Gate <-chan struct{}

	// StreamCalls records every invocation in order.
	StreamCalls []StreamCall
}

// StreamCompletion records the call and replays StreamChunks.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	req.Messages = append([]llm.Message(nil), req.Messages...)
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := append([]llm.Chunk(nil), p.StreamChunks...)
	gate := p.Gate
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if gate != nil {
				select {
				case <-gate:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []StreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StreamCall(nil), p.StreamCalls...)
}

// Reset clears recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
}

var _ llm.Provider = (*Provider)(nil)
