// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// Audio is requested in the raw "pcm" response format, which OpenAI defines
// as 24 kHz 16-bit signed little-endian mono, so no conversion is needed.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/aura/pkg/audio"
	"github.com/MrWong99/aura/pkg/provider/tts"
)

const (
	// DefaultModel supports free-form delivery instructions.
	DefaultModel = "gpt-4o-mini-tts"

	// DefaultVoice is used when the request names none.
	DefaultVoice = "coral"
)

// Provider implements tts.Provider using OpenAI.
type Provider struct {
	client oai.Client
	model  string
	voice  string
}

type config struct {
	baseURL string
	model   string
	voice   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithVoice overrides [DefaultVoice].
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs an OpenAI TTS provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	cfg := &config{model: DefaultModel, voice: DefaultVoice}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model, voice: cfg.voice}, nil
}

// Synthesize implements tts.Provider. Style is sent as the instructions
// field rather than spoken.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (string, error) {
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}
	params := oai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if req.Style != "" {
		params.Instructions = oai.String(req.Style)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai tts: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("openai tts: read body: %w", err)
	}
	if len(pcm) == 0 {
		return "", fmt.Errorf("openai tts: %w", tts.ErrNoAudio)
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	return audio.EncodeBase64(pcm), nil
}

var _ tts.Provider = (*Provider)(nil)
