// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs input-streaming WebSocket API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/coder/websocket"

	"github.com/MrWong99/aura/pkg/audio"
	"github.com/MrWong99/aura/pkg/provider/tts"
)

const (
	defaultEndpoint  = "wss://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_24000"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_multilingual_v2").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithVoice sets the voice ID used when a request names none.
func WithVoice(voiceID string) Option {
	return func(p *Provider) { p.voice = voiceID }
}

// WithEndpoint overrides the WebSocket origin, e.g. for a proxy.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey   string
	model    string
	voice    string
	endpoint string
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		endpoint: defaultEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is one message received from ElevenLabs.
type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Synthesize implements tts.Provider. It opens one stream per utterance:
// the begin-of-input message, the text, then the empty flush message, and
// concatenates every audio frame until ElevenLabs marks the stream final or
// closes the socket. ElevenLabs has no instruction channel so Style is
// ignored.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (string, error) {
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}
	if voice == "" {
		return "", errors.New("elevenlabs: voice ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, buildURLForVoice(p.endpoint, voice, p.model), nil)
	if err != nil {
		return "", fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	msgs := []textMessage{
		{
			// ElevenLabs requires a non-empty first text value.
			Text:          " ",
			VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
			XiAPIKey:      p.apiKey,
		},
		{Text: req.Text + " "},
		{Text: ""},
	}
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return "", fmt.Errorf("elevenlabs: marshal: %w", err)
		}
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			return "", fmt.Errorf("elevenlabs: write: %w", err)
		}
	}

	var pcm bytes.Buffer
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return "", fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return "", fmt.Errorf("elevenlabs: %s: %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			frame, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return "", fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			pcm.Write(frame)
		}
		if resp.IsFinal {
			break
		}
	}

	out := pcm.Bytes()
	if len(out) == 0 {
		return "", fmt.Errorf("elevenlabs: %w", tts.ErrNoAudio)
	}
	if len(out)%2 != 0 {
		out = out[:len(out)-1]
	}
	return audio.EncodeBase64(out), nil
}

// buildURLForVoice constructs the stream-input URL for a voice and model.
func buildURLForVoice(endpoint, voiceID, model string) string {
	q := url.Values{}
	q.Set("model_id", model)
	q.Set("output_format", defaultOutputFmt)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", endpoint, url.PathEscape(voiceID), q.Encode())
}

var _ tts.Provider = (*Provider)(nil)
