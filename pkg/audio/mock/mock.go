// Package mock provides an in-memory [audio.Device] for unit tests.
//
// Device runs on a virtual clock that only moves when the test calls
// [Device.Advance] or [Device.SetNow], so scheduled start times are fully
// deterministic. Every Play call is recorded.
//
//	dev := &mock.Device{}
//	s := scheduler.New(dev)
//	s.Enqueue(pcm)
//	calls := dev.Calls()
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/aura/pkg/audio"
)

// PlayCall records a single invocation of [Device.Play].
type PlayCall struct {
	// At is the device-clock start instant.
	At time.Duration
	// Frame is a copy of the frame passed to Play.
	Frame audio.AudioFrame
}

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu  sync.Mutex
	now time.Duration

	// PlayErr, if non-nil, is returned by every Play call.
	PlayErr error

	// FailAt, if non-nil, is consulted with the 0-based Play call index;
	// returning a non-nil error fails that call only.
	FailAt func(call int) error

	calls    []PlayCall
	attempts int
}

// Now implements [audio.Device].
func (d *Device) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

// Play implements [audio.Device]. Failed calls are not recorded in Calls.
func (d *Device) Play(at time.Duration, frame audio.AudioFrame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.attempts
	d.attempts++
	if d.PlayErr != nil {
		return d.PlayErr
	}
	if d.FailAt != nil {
		if err := d.FailAt(n); err != nil {
			return err
		}
	}
	cp := frame
	cp.Data = append([]byte(nil), frame.Data...)
	d.calls = append(d.calls, PlayCall{At: at, Frame: cp})
	return nil
}

// Advance moves the virtual clock forward by dt.
func (d *Device) Advance(dt time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now += dt
}

// SetNow sets the virtual clock.
func (d *Device) SetNow(t time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = t
}

// Calls returns a copy of all successful Play calls in order.
func (d *Device) Calls() []PlayCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]PlayCall, len(d.calls))
	copy(out, d.calls)
	return out
}

// Attempts returns the number of Play calls, successful or not.
func (d *Device) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

// Reset clears recorded calls. The clock is left unchanged.
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
	d.attempts = 0
}

var _ audio.Device = (*Device)(nil)
