// Package ark provides an LLM provider for Volcengine Ark (Doubao) models
// through the CloudWeGo eino ChatModel abstraction.
package ark

import (
	"context"
	"errors"
	"fmt"
	"io"

	arkmodel "github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/MrWong99/aura/pkg/provider/llm"
)

// DefaultBaseURL is the Ark endpoint in the cn-beijing region.
const DefaultBaseURL = "https://ark.cn-beijing.volces.com/api/v3"

// Config holds the Ark connection settings.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Region  string
}

// Provider implements llm.Provider on top of an eino chat model.
type Provider struct {
	chat model.BaseChatModel
}

// New creates an Ark-backed provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ark: apiKey must not be empty")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("ark: model must not be empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cm, err := arkmodel.NewChatModel(ctx, &arkmodel.ChatModelConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
		Region:  cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("ark: create chat model: %w", err)
	}
	return NewWithChatModel(cm), nil
}

// NewWithChatModel wraps any eino chat model.
func NewWithChatModel(cm model.BaseChatModel) *Provider {
	return &Provider{chat: cm}
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	stream, err := p.chat.Stream(ctx, buildMessages(req), callOptions(req)...)
	if err != nil {
		return nil, fmt.Errorf("ark: start stream: %w", err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		var finish string
		for {
			msg, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				select {
				case ch <- llm.Chunk{FinishReason: llm.FinishReasonError, Text: err.Error()}:
				case <-ctx.Done():
				}
				return
			}
			if msg == nil {
				continue
			}
			if msg.ResponseMeta != nil && msg.ResponseMeta.FinishReason != "" {
				finish = msg.ResponseMeta.FinishReason
			}
			if msg.Content == "" {
				continue
			}
			select {
			case ch <- llm.Chunk{Text: msg.Content}:
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

func buildMessages(req llm.CompletionRequest) []*schema.Message {
	out := make([]*schema.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, schema.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		if m.Role == llm.RoleAssistant {
			out = append(out, schema.AssistantMessage(m.Content, nil))
			continue
		}
		out = append(out, schema.UserMessage(m.Content))
	}
	return out
}

func callOptions(req llm.CompletionRequest) []model.Option {
	var opts []model.Option
	if req.Temperature != 0 {
		opts = append(opts, model.WithTemperature(float32(req.Temperature)))
	}
	if req.TopP != 0 {
		opts = append(opts, model.WithTopP(float32(req.TopP)))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	return opts
}
