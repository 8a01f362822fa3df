// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns one utterance into speech and returns the audio as
// base64-encoded 16-bit little-endian mono PCM at 24 kHz, the format the
// audio codec and scheduler expect. Backends that produce a different rate
// resample before returning.
//
// Implementations must be safe for concurrent use: the orchestrator
// synthesizes several segments of one reply in parallel.
package tts

import (
	"context"
	"errors"
)

// ErrNoAudio is returned when a backend answers successfully but the response
// carries no audio payload.
var ErrNoAudio = errors.New("tts: response contained no audio")

// Request describes one utterance.
type Request struct {
	// Text is the utterance to speak.
	Text string

	// Voice is the provider-specific voice name or ID. Empty selects the
	// provider default.
	Voice string

	// Style is an optional natural-language delivery instruction such as
	// "Diga de forma carinhosa e natural: ". Providers that accept free-form
	// instructions send it separately; the others prepend it to Text or
	// ignore it.
	Style string
}

// Prompt returns Style and Text joined the way single-input backends expect.
func (r Request) Prompt() string {
	return r.Style + r.Text
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize speaks req and returns base64 PCM16LE mono 24 kHz audio.
	//
	// Returns an error wrapping [ErrNoAudio] when the backend produced no
	// audio, or any transport or API error otherwise.
	Synthesize(ctx context.Context, req Request) (string, error)
}
