// Package gemini provides a TTS provider backed by the Gemini speech
// generation models through google.golang.org/genai.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/MrWong99/aura/pkg/audio"
	"github.com/MrWong99/aura/pkg/provider/tts"
)

const (
	// DefaultModel is the speech model used when none is configured.
	DefaultModel = "gemini-2.5-flash-preview-tts"

	// DefaultVoice is the prebuilt voice used when the request names none.
	DefaultVoice = "Kore"
)

type generateFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// Provider implements tts.Provider using Gemini's AUDIO response modality.
type Provider struct {
	model    string
	voice    string
	generate generateFunc
}

type config struct {
	model   string
	voice   string
	baseURL string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithVoice overrides [DefaultVoice].
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithBaseURL points the SDK at a different endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// New creates a Gemini TTS provider authenticated with apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini tts: apiKey must not be empty")
	}
	cfg := &config{model: DefaultModel, voice: DefaultVoice}
	for _, o := range opts {
		o(cfg)
	}
	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if cfg.baseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini tts: create client: %w", err)
	}
	return &Provider{model: cfg.model, voice: cfg.voice, generate: client.Models.GenerateContent}, nil
}

// Synthesize implements tts.Provider. Gemini speech models take the delivery
// style inline, so the prompt is Style followed by Text.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (string, error) {
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}
	contents := []*genai.Content{genai.NewContentFromText(req.Prompt(), genai.RoleUser)}

	resp, err := p.generate(ctx, p.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini tts: generate: %w", err)
	}
	pcm := inlineAudio(resp)
	if len(pcm) == 0 {
		return "", fmt.Errorf("gemini tts: %w", tts.ErrNoAudio)
	}
	return audio.EncodeBase64(pcm), nil
}

// inlineAudio returns the first inline data part of the first candidate.
func inlineAudio(resp *genai.GenerateContentResponse) []byte {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	c := resp.Candidates[0].Content
	if c == nil {
		return nil
	}
	for _, part := range c.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data
		}
	}
	return nil
}

var _ tts.Provider = (*Provider)(nil)
