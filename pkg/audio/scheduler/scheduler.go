// Package scheduler plays independently synthesized speech segments as one
// continuous utterance on an [audio.Device].
//
// Every [Scheduler] owns a [Cursor] holding the device-clock instant at which
// the most recently scheduled segment ends. Each new segment starts at
// max(cursor, device.Now()) so consecutive segments chain back-to-back: no
// gap when the next segment is already available, no overlap ever. Callers
// reset the cursor at turn and replay boundaries so a new utterance does not
// inherit timing from an unrelated one.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/aura/pkg/audio"
)

// Cursor tracks the end of the most recently scheduled segment.
type Cursor struct {
	next time.Duration
}

// Next returns the earliest instant the next segment may start.
func (c Cursor) Next() time.Duration { return c.next }

// Scheduled describes one segment handed to the device.
type Scheduled struct {
	Start    time.Duration
	Duration time.Duration
	Bytes    int
}

// End returns Start + Duration.
func (s Scheduled) End() time.Duration { return s.Start + s.Duration }

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithFormat overrides the PCM format of enqueued buffers. Defaults to
// [audio.SpeechFormat].
func WithFormat(f audio.Format) Option {
	return func(s *Scheduler) { s.format = f }
}

// WithObserver registers a callback invoked (under the scheduler lock) after
// each successful schedule. Used for metrics and tests.
func WithObserver(fn func(Scheduled)) Option {
	return func(s *Scheduler) { s.observe = fn }
}

// WithResetHook registers a callback invoked (under the scheduler lock) with
// the new cursor position whenever ResetCursor runs.
func WithResetHook(fn func(at time.Duration)) Option {
	return func(s *Scheduler) { s.onReset = fn }
}

// WithLogger sets the logger used for device failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// Scheduler serialises cursor updates for a single device. All methods are
// safe for concurrent use.
type Scheduler struct {
	dev     audio.Device
	format  audio.Format
	observe func(Scheduled)
	onReset func(time.Duration)
	log     *slog.Logger

	mu     sync.Mutex
	cursor Cursor
}

// New creates a Scheduler for dev with its cursor at dev.Now().
func New(dev audio.Device, opts ...Option) *Scheduler {
	s := &Scheduler{
		dev:    dev,
		format: audio.SpeechFormat,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.cursor.next = dev.Now()
	return s
}

// Enqueue schedules pcm to start at max(cursor, device now) and advances the
// cursor by its duration. Empty buffers are ignored.
//
// A device failure is returned wrapped in [audio.ErrDevice] and leaves the
// cursor untouched so the next segment does not wait for audio that never
// played.
func (s *Scheduler) Enqueue(pcm []byte) (Scheduled, error) {
	if len(pcm) == 0 {
		return Scheduled{}, nil
	}
	frame := audio.AudioFrame{
		Data:       pcm,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := max(s.cursor.next, s.dev.Now())
	frame.Timestamp = start
	sc := Scheduled{Start: start, Duration: frame.Duration(), Bytes: len(pcm)}

	if err := s.dev.Play(start, frame); err != nil {
		s.log.Warn("scheduler: device rejected segment", "start", start, "err", err)
		return Scheduled{}, fmt.Errorf("scheduler: play at %v: %w", start, wrapDevice(err))
	}
	s.cursor.next = sc.End()
	if s.observe != nil {
		s.observe(sc)
	}
	return sc, nil
}

// ResetCursor moves the cursor to the device's current time.
func (s *Scheduler) ResetCursor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor.next = s.dev.Now()
	if s.onReset != nil {
		s.onReset(s.cursor.next)
	}
}

// Cursor returns a copy of the current cursor.
func (s *Scheduler) Cursor() Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func wrapDevice(err error) error {
	if errors.Is(err, audio.ErrDevice) {
		return err
	}
	return fmt.Errorf("%w: %w", audio.ErrDevice, err)
}
