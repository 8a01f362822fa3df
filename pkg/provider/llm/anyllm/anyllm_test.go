package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/aura/pkg/provider/llm"
)

func TestConvertMessage(t *testing.T) {
	tests := []struct {
		in   llm.Message
		role string
	}{
		{llm.Message{Role: llm.RoleUser, Content: "Oi"}, anyllmlib.RoleUser},
		{llm.Message{Role: llm.RoleAssistant, Content: "Olá"}, anyllmlib.RoleAssistant},
	}
	for _, tt := range tests {
		got := convertMessage(tt.in)
		if got.Role != tt.role {
			t.Errorf("role = %q, want %q", got.Role, tt.role)
		}
		if got.ContentString() != tt.in.Content {
			t.Errorf("content = %q, want %q", got.ContentString(), tt.in.Content)
		}
	}
}

func TestBuildParams(t *testing.T) {
	p := &Provider{model: "gemini-2.0-flash"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Você é Aura.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Oi"}},
		Temperature:  0.8,
		TopP:         0.95,
		MaxTokens:    512,
	})

	if params.Model != "gemini-2.0-flash" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 2 || params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Fatalf("messages = %+v", params.Messages)
	}
	if params.Temperature == nil || *params.Temperature != 0.8 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.TopP == nil || *params.TopP != 0.95 {
		t.Errorf("top_p = %v", params.TopP)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 512 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}
}

func TestBuildParams_ZeroSamplingOmitted(t *testing.T) {
	p := &Provider{model: "llama3"}
	params := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "Oi"}}})
	if params.Temperature != nil || params.TopP != nil || params.MaxTokens != nil {
		t.Error("zero sampling parameters should be left to the provider default")
	}
	if len(params.Messages) != 1 {
		t.Errorf("no system prompt expected, got %d messages", len(params.Messages))
	}
}

func TestNew(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty providerName")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "m", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("expected error for unsupported provider")
	}

	p, err := New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("openai with key: %v", err)
	}
	if p.model != "gpt-4o" {
		t.Errorf("model = %q", p.model)
	}

	if _, err := New("ollama", "llama3"); err != nil {
		t.Errorf("ollama without key: %v", err)
	}
}

func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}
