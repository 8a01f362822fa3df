// Package audio holds the PCM primitives shared by the speech pipeline: the
// frame and format types, the base64/WAV codec used for synthesized speech,
// format conversion for output devices and the [Device] abstraction that the
// playback scheduler drives.
//
// All synthesized speech in Aura is 16-bit little-endian mono PCM at 24 kHz
// (see [SpeechFormat]). Devices may request a different format and convert
// with [Convert].
package audio

import (
	"errors"
	"time"
)

// ErrDevice is wrapped by every error a [Device] returns when its output is
// unavailable. Callers test for it with [errors.Is].
var ErrDevice = errors.New("audio: output device unavailable")

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// SpeechFormat is the format of every payload returned by the TTS providers.
var SpeechFormat = Format{SampleRate: SampleRate, Channels: Channels}

// AudioFrame is one block of PCM handed to a [Device].
type AudioFrame struct {
	// Data is little-endian int16 PCM.
	Data []byte

	SampleRate int
	Channels   int

	// Timestamp is the device-clock instant at which playback starts.
	Timestamp time.Duration
}

// Format returns the frame's format.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	return PCMDuration(f.Data, f.Format())
}

// Device is an audio output with its own monotonic clock. Play schedules a
// frame to start at the given device-clock instant; it must not block until
// playback finishes.
//
// Implementations must be safe for concurrent use. Errors wrap [ErrDevice].
type Device interface {
	// Now reports the device clock.
	Now() time.Duration

	// Play schedules frame to start at the device-clock instant at.
	Play(at time.Duration, frame AudioFrame) error
}
