package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/aura/pkg/provider/llm"
)

// errEmptyStream reports a stream that closed before producing anything.
var errEmptyStream = errors.New("llm: stream closed before the first chunk")

// LLMFallback implements [llm.Provider] with failover across several LLM
// backends.
//
// A stream counts as started once its first chunk arrives. If that chunk is
// an error the next backend is tried, which also covers SDKs that defer the
// HTTP request until the stream is read. Failures after the first chunk are
// passed through; text has already reached the user at that point.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports the breaker state of every backend.
func (f *LLMFallback) Status() []EntryStatus { return f.group.Status() }

// StreamCompletion implements llm.Provider.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return Do(ctx, f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return startStream(ctx, p, req)
	})
}

// startStream opens a stream and waits for its first chunk.
func startStream(ctx context.Context, p llm.Provider, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	in, err := p.StreamCompletion(ctx, req)
	if err != nil {
		return nil, err
	}

	var (
		first llm.Chunk
		ok    bool
	)
	select {
	case first, ok = <-in:
	case <-ctx.Done():
		go drain(in)
		return nil, ctx.Err()
	}
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errEmptyStream
	}
	if err := first.Err(); err != nil {
		go drain(in)
		return nil, err
	}

	out := make(chan llm.Chunk, cap(in)+1)
	out <- first
	go func() {
		defer close(out)
		for c := range in {
			select {
			case out <- c:
			case <-ctx.Done():
				drain(in)
				return
			}
		}
	}()
	return out, nil
}

func drain(ch <-chan llm.Chunk) {
	for range ch {
	}
}
