package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// SampleRate is the sample rate of synthesized speech in Hz.
	SampleRate = 24000

	// Channels is the channel count of synthesized speech.
	Channels = 1

	// BitsPerSample is the PCM sample width.
	BitsPerSample = 16

	// WAVHeaderSize is the length of the canonical RIFF/WAVE header written by
	// [WrapWAV].
	WAVHeaderSize = 44

	wavFormatPCM = 1
)

// ErrDecode is wrapped by every error caused by a malformed audio payload.
var ErrDecode = errors.New("audio: malformed audio payload")

// WAVHeader is the parsed form of a canonical 44-byte PCM WAV header.
type WAVHeader struct {
	RIFFSize      uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataSize      uint32
}

// DecodeBase64 reverses the standard base64 encoding of a speech payload and
// returns the raw PCM16LE bytes. Payloads that are not valid base64 or that
// decode to a partial sample fail with an error wrapping [ErrDecode].
func DecodeBase64(s string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d for 16-bit PCM", ErrDecode, len(pcm))
	}
	return pcm, nil
}

// EncodeBase64 is the inverse of [DecodeBase64].
func EncodeBase64(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// WrapWAV prepends a 44-byte RIFF/WAVE header describing pcm as 16-bit mono
// 24 kHz audio. The payload is copied, never modified.
func WrapWAV(pcm []byte) []byte {
	const blockAlign = Channels * BitsPerSample / 8

	out := make([]byte, WAVHeaderSize+len(pcm))
	le := binary.LittleEndian

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], 16)
	le.PutUint16(out[20:22], wavFormatPCM)
	le.PutUint16(out[22:24], Channels)
	le.PutUint32(out[24:28], SampleRate)
	le.PutUint32(out[28:32], SampleRate*blockAlign)
	le.PutUint16(out[32:34], blockAlign)
	le.PutUint16(out[34:36], BitsPerSample)

	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(len(pcm)))

	copy(out[WAVHeaderSize:], pcm)
	return out
}

// ParseWAVHeader reads the canonical header written by [WrapWAV]. Inputs that
// are too short or lack the RIFF/WAVE/fmt/data markers wrap [ErrDecode].
func ParseWAVHeader(b []byte) (WAVHeader, error) {
	if len(b) < WAVHeaderSize {
		return WAVHeader{}, fmt.Errorf("%w: wav header needs %d bytes, got %d", ErrDecode, WAVHeaderSize, len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" ||
		string(b[12:16]) != "fmt " || string(b[36:40]) != "data" {
		return WAVHeader{}, fmt.Errorf("%w: not a canonical PCM wav header", ErrDecode)
	}
	le := binary.LittleEndian
	return WAVHeader{
		RIFFSize:      le.Uint32(b[4:8]),
		AudioFormat:   le.Uint16(b[20:22]),
		Channels:      le.Uint16(b[22:24]),
		SampleRate:    le.Uint32(b[24:28]),
		ByteRate:      le.Uint32(b[28:32]),
		BlockAlign:    le.Uint16(b[32:34]),
		BitsPerSample: le.Uint16(b[34:36]),
		DataSize:      le.Uint32(b[40:44]),
	}, nil
}

// PCMDuration returns the playback length of 16-bit PCM in format f.
func PCMDuration(pcm []byte, f Format) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := int64(len(pcm) / (2 * f.Channels))
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}
