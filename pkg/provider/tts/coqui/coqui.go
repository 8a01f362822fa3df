// Package coqui provides a TTS provider for a self-hosted Coqui TTS server,
// useful as an offline fallback when the hosted speech APIs are unreachable.
//
// Two server flavours are supported:
//
//   - APIModeStandard (default): the stock Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu), synthesizing via GET /api/tts.
//
//   - APIModeXTTS: the XTTS v2 API server, synthesizing via
//     POST /tts_to_audio/ with a reference speaker.
//
// Both return WAV files at the model's native rate. The provider strips the
// container, downmixes and resamples to 24 kHz mono before encoding.
//
//	p, _ := coqui.New("http://localhost:5002", coqui.WithLanguage("pt"))
//	b64, err := p.Synthesize(ctx, tts.Request{Text: "Olá!"})
package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/aura/pkg/audio"
	"github.com/MrWong99/aura/pkg/provider/tts"
)

const (
	defaultLanguage = "pt"
	defaultTimeout  = 30 * time.Second
	xttsEndpoint    = "/tts_to_audio/"
	apiTTSEndpoint  = "/api/tts"
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server.
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server.
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the server. Defaults to "pt".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithVoice sets the speaker used when a request names none. In XTTS mode
// this is the reference speaker; in standard mode the speaker_id of a
// multi-speaker model.
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// Provider implements tts.Provider backed by a Coqui TTS server.
type Provider struct {
	serverURL  string
	language   string
	voice      string
	apiMode    APIMode
	httpClient *http.Client
}

// New creates a Provider for the server at serverURL
// (e.g. "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize implements tts.Provider. Coqui has no instruction input, so
// Style is dropped.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (string, error) {
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}

	var (
		httpReq *http.Request
		err     error
	)
	switch p.apiMode {
	case APIModeXTTS:
		if voice == "" {
			return "", errors.New("coqui: a speaker is required in XTTS mode")
		}
		body, _ := json.Marshal(xttsRequest{Text: req.Text, SpeakerWav: voice, Language: p.language})
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsEndpoint, bytes.NewReader(body))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
	default:
		q := url.Values{}
		q.Set("text", req.Text)
		if voice != "" {
			q.Set("speaker_id", voice)
		}
		if p.language != "" {
			q.Set("language_id", p.language)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+q.Encode(), nil)
	}
	if err != nil {
		return "", fmt.Errorf("coqui: create request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("coqui: %s %s: %w", httpReq.Method, httpReq.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("coqui: %s %s returned status %d", httpReq.Method, httpReq.URL.Path, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("coqui: read WAV response: %w", err)
	}
	pcm, err := toSpeechPCM(wav)
	if err != nil {
		return "", err
	}
	if len(pcm) == 0 {
		return "", fmt.Errorf("coqui: %w", tts.ErrNoAudio)
	}
	return audio.EncodeBase64(pcm), nil
}

// wavInfo holds the fields of a WAV file needed to extract its PCM payload.
type wavInfo struct {
	SampleRate int
	Channels   int
	DataOffset int
	DataSize   int
}

// parseWAV walks the RIFF chunks of b. Coqui servers sometimes emit LIST
// chunks before the data chunk, so the canonical 44-byte layout cannot be
// assumed.
func parseWAV(b []byte) (wavInfo, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return wavInfo{}, fmt.Errorf("coqui: %w: not a RIFF/WAVE file", audio.ErrDecode)
	}
	le := binary.LittleEndian
	var info wavInfo
	var bits int
	for off := 12; off+8 <= len(b); {
		id := string(b[off : off+4])
		size := int(le.Uint32(b[off+4 : off+8]))
		body := off + 8
		switch id {
		case "fmt ":
			if body+16 > len(b) {
				return wavInfo{}, fmt.Errorf("coqui: %w: truncated fmt chunk", audio.ErrDecode)
			}
			info.Channels = int(le.Uint16(b[body+2 : body+4]))
			info.SampleRate = int(le.Uint32(b[body+4 : body+8]))
			bits = int(le.Uint16(b[body+14 : body+16]))
		case "data":
			if info.SampleRate == 0 {
				return wavInfo{}, fmt.Errorf("coqui: %w: data chunk before fmt chunk", audio.ErrDecode)
			}
			if bits != audio.BitsPerSample {
				return wavInfo{}, fmt.Errorf("coqui: %w: unsupported bit depth %d", audio.ErrDecode, bits)
			}
			info.DataOffset = body
			info.DataSize = min(size, len(b)-body)
			return info, nil
		}
		// Chunks are word aligned.
		off = body + size + size%2
	}
	return wavInfo{}, fmt.Errorf("coqui: %w: no data chunk", audio.ErrDecode)
}

// toSpeechPCM extracts the PCM payload of wav as 24 kHz mono.
func toSpeechPCM(wav []byte) ([]byte, error) {
	info, err := parseWAV(wav)
	if err != nil {
		return nil, err
	}
	pcm := wav[info.DataOffset : info.DataOffset+info.DataSize&^1]
	switch info.Channels {
	case 1:
	case 2:
		pcm = audio.StereoToMono(pcm)
	default:
		return nil, fmt.Errorf("coqui: %w: unsupported channel count %d", audio.ErrDecode, info.Channels)
	}
	return audio.ResampleMono16(pcm, info.SampleRate, audio.SampleRate), nil
}

var _ tts.Provider = (*Provider)(nil)
