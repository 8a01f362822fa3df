package orchestrator

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/aura/internal/segment"
)

// recorder collects dispatcher callbacks.
type recorder struct {
	mu      sync.Mutex
	played  []int
	failed  []int
	dropped []int
}

func (r *recorder) play(s segment.Segment, _ []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.played = append(r.played, s.Seq)
}

func (r *recorder) fail(s segment.Segment, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, s.Seq)
}

func (r *recorder) drop(s segment.Segment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped = append(r.dropped, s.Seq)
}

func (r *recorder) snapshot() (played, failed, dropped []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.played), slices.Clone(r.failed), slices.Clone(r.dropped)
}

func TestDispatcher_PlaysInOrderDespiteCompletionOrder(t *testing.T) {
	t.Parallel()
	// Later segments finish first.
	delays := []time.Duration{60 * time.Millisecond, 40 * time.Millisecond, 20 * time.Millisecond, 0}
	rec := &recorder{}
	d := newDispatcher(context.Background(), len(delays),
		func(ctx context.Context, s segment.Segment) ([]byte, error) {
			time.Sleep(delays[s.Seq])
			return []byte{byte(s.Seq)}, nil
		},
		rec.play, rec.fail, rec.drop,
	)
	for i := range delays {
		d.Submit(segment.Segment{Seq: i})
	}
	d.Wait()

	played, failed, dropped := rec.snapshot()
	if want := []int{0, 1, 2, 3}; !slices.Equal(played, want) {
		t.Errorf("played = %v, want %v", played, want)
	}
	if len(failed) != 0 || len(dropped) != 0 {
		t.Errorf("failed = %v, dropped = %v, want none", failed, dropped)
	}
	if d.Released() != 4 {
		t.Errorf("Released() = %d, want 4", d.Released())
	}
}

func TestDispatcher_FailedSlotDoesNotBlockLaterSegments(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	d := newDispatcher(context.Background(), 2,
		func(ctx context.Context, s segment.Segment) ([]byte, error) {
			if s.Seq == 1 {
				return nil, errors.New("tts down")
			}
			return []byte{1}, nil
		},
		rec.play, rec.fail, rec.drop,
	)
	for i := range 3 {
		d.Submit(segment.Segment{Seq: i})
	}
	d.Wait()

	played, failed, _ := rec.snapshot()
	if want := []int{0, 2}; !slices.Equal(played, want) {
		t.Errorf("played = %v, want %v", played, want)
	}
	if want := []int{1}; !slices.Equal(failed, want) {
		t.Errorf("failed = %v, want %v", failed, want)
	}
}

func TestDispatcher_BoundsConcurrency(t *testing.T) {
	t.Parallel()
	var inFlight, peak atomic.Int32
	rec := &recorder{}
	d := newDispatcher(context.Background(), 2,
		func(ctx context.Context, s segment.Segment) ([]byte, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return []byte{1}, nil
		},
		rec.play, rec.fail, rec.drop,
	)
	for i := range 8 {
		d.Submit(segment.Segment{Seq: i})
	}
	d.Wait()

	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrent synth = %d, want <= 2", got)
	}
	played, _, _ := rec.snapshot()
	if len(played) != 8 {
		t.Errorf("played %d segments, want 8", len(played))
	}
}

func TestDispatcher_AbortDropsPending(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	rec := &recorder{}
	d := newDispatcher(context.Background(), 4,
		func(ctx context.Context, s segment.Segment) ([]byte, error) {
			if s.Seq == 0 {
				return []byte{1}, nil
			}
			select {
			case <-release:
				return []byte{1}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
		rec.play, rec.fail, rec.drop,
	)
	d.Submit(segment.Segment{Seq: 0})

	// Wait for slot 0 to be played before queueing the blocked ones.
	deadline := time.Now().Add(2 * time.Second)
	for d.Released() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	d.Submit(segment.Segment{Seq: 1})
	d.Submit(segment.Segment{Seq: 2})

	d.Abort()
	d.Wait()
	close(release)

	played, failed, dropped := rec.snapshot()
	if want := []int{0}; !slices.Equal(played, want) {
		t.Errorf("played = %v, want %v", played, want)
	}
	if len(failed) != 0 {
		t.Errorf("failed = %v, want none after abort", failed)
	}
	if want := []int{1, 2}; !slices.Equal(dropped, want) {
		t.Errorf("dropped = %v, want %v", dropped, want)
	}
}

func TestDispatcher_WaitWithNothingSubmitted(t *testing.T) {
	t.Parallel()
	d := newDispatcher(context.Background(), 0,
		func(context.Context, segment.Segment) ([]byte, error) { return nil, nil },
		func(segment.Segment, []byte) {}, nil, nil,
	)
	d.Wait()
	if d.Released() != 0 {
		t.Errorf("Released() = %d, want 0", d.Released())
	}
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	h := newHub()
	fast, unsubFast := h.subscribe(4)
	defer unsubFast()
	_, unsubSlow := h.subscribe(1)

	h.publish(Event{Type: EventDelta, Delta: "a"})
	if n := h.publish(Event{Type: EventDelta, Delta: "b"}); n != 1 {
		t.Errorf("dropped = %d, want 1", n)
	}
	if got := (<-fast).Delta; got != "a" {
		t.Errorf("first event = %q, want a", got)
	}
	if got := (<-fast).Delta; got != "b" {
		t.Errorf("second event = %q, want b", got)
	}

	unsubSlow()
	unsubSlow()
	if h.len() != 1 {
		t.Errorf("subscribers = %d, want 1", h.len())
	}
}
