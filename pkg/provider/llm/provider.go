// Package llm defines the Provider interface for the hosted language models
// that generate Aura's replies.
//
// A provider wraps a remote model API (Gemini, OpenAI, Volcengine Ark, or any
// backend reachable through any-llm-go) behind a single streaming call so the
// orchestrator can consume text increments without coupling to an SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import "context"

// Roles used in [Message.Role].
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FinishReasonError marks a [Chunk] that reports a mid-stream failure; its
// Text carries the error message.
const FinishReasonError = "error"

// Message is one prior turn sent as context.
type Message struct {
	// Role is RoleUser or RoleAssistant.
	Role    string
	Content string
}

// CompletionRequest carries everything the model needs to produce a reply.
type CompletionRequest struct {
	// Messages is the ordered history, ending with the user turn to answer.
	Messages []Message

	// SystemPrompt is the persona instruction.
	SystemPrompt string

	// Temperature and TopP are sampling parameters. Zero means provider
	// default.
	Temperature float64
	TopP        float64

	// MaxTokens caps the reply length. Zero means provider default.
	MaxTokens int
}

// Chunk is one text increment of a streaming completion.
type Chunk struct {
	Text string

	// FinishReason is empty for intermediate chunks, a provider value such as
	// "stop" on the final one, or [FinishReasonError].
	FinishReason string
}

// Err returns the error carried by an error chunk, or nil.
func (c Chunk) Err() error {
	if c.FinishReason != FinishReasonError {
		return nil
	}
	return &StreamError{Message: c.Text}
}

// StreamError is a failure reported after a stream has started.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "llm: stream failed: " + e.Message }

// Provider is the abstraction over any streaming LLM backend.
type Provider interface {
	// StreamCompletion sends req and returns a channel of text increments.
	//
	// The initial error is non-nil only when the stream could not be started.
	// Failures after that are delivered as a Chunk whose FinishReason is
	// [FinishReasonError]. The returned channel is never nil when the error
	// is nil, and callers must drain it.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}
