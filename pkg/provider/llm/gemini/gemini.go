// Package gemini provides an LLM provider backed by the Google Gemini API
// through the official google.golang.org/genai SDK.
package gemini

import (
	"context"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/MrWong99/aura/pkg/provider/llm"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gemini-3-flash-preview"

// streamFunc matches genai's Models.GenerateContentStream.
type streamFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

// Provider implements llm.Provider using Gemini.
type Provider struct {
	model  string
	stream streamFunc
}

type config struct {
	baseURL string
	model   string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL points the SDK at a different endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// New creates a Gemini provider authenticated with apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	cfg := &config{model: DefaultModel}
	for _, o := range opts {
		o(cfg)
	}

	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if cfg.baseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Provider{model: cfg.model, stream: client.Models.GenerateContentStream}, nil
}

// StreamCompletion implements llm.Provider.
//
// The SDK exposes the stream as an iterator that only performs the request
// once iteration begins, so start-up failures (bad key, unknown model) are
// delivered as an error chunk rather than through the returned error.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("gemini: request has no messages")
	}
	seq := p.stream(ctx, p.model, buildContents(req.Messages), buildConfig(req))

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		var finish string
		for resp, err := range seq {
			if err != nil {
				select {
				case ch <- llm.Chunk{FinishReason: llm.FinishReasonError, Text: err.Error()}:
				case <-ctx.Done():
				}
				return
			}
			if resp == nil {
				continue
			}
			if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
				finish = string(resp.Candidates[0].FinishReason)
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			select {
			case ch <- llm.Chunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		if finish == "" {
			finish = "stop"
		}
		select {
		case ch <- llm.Chunk{FinishReason: finish}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// buildContents maps the history onto Gemini roles ("user" and "model").
func buildContents(msgs []llm.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		var role genai.Role = genai.RoleUser
		if m.Role == llm.RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return out
}

func buildConfig(req llm.CompletionRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature != 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.TopP != 0 {
		cfg.TopP = genai.Ptr(float32(req.TopP))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return cfg
}
