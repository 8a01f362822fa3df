package orchestrator

import (
	"container/heap"
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/aura/internal/segment"
)

// synthResult is one finished synthesis waiting for its turn to play.
type synthResult struct {
	slot int
	seg  segment.Segment
	pcm  []byte
	err  error
}

// resultHeap is a min-heap of results keyed by slot.
type resultHeap []synthResult

func (h resultHeap) Len() int           { return len(h) }
func (h resultHeap) Less(i, j int) bool { return h[i].slot < h[j].slot }
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x any)        { *h = append(*h, x.(synthResult)) }
func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	*h = old[:n-1]
	return r
}

// dispatcher synthesizes submitted segments concurrently and releases them
// to play strictly in submission order.
//
// Each Submit takes the next slot. Results are parked in a reorder buffer
// until every earlier slot has been released; a failed slot is released
// without playing so later segments are never held back by it. After Abort
// nothing more is played.
type dispatcher struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted

	synth func(ctx context.Context, seg segment.Segment) ([]byte, error)
	play  func(seg segment.Segment, pcm []byte)
	fail  func(seg segment.Segment, err error)
	drop  func(seg segment.Segment)

	wg sync.WaitGroup

	mu      sync.Mutex
	pending resultHeap
	slots   int
	next    int
	aborted bool
}

func newDispatcher(
	ctx context.Context,
	maxConcurrent int,
	synth func(context.Context, segment.Segment) ([]byte, error),
	play func(segment.Segment, []byte),
	fail func(segment.Segment, error),
	drop func(segment.Segment),
) *dispatcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	return &dispatcher{
		ctx:    ctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		synth:  synth,
		play:   play,
		fail:   fail,
		drop:   drop,
	}
}

// Submit queues seg for synthesis. It never blocks on synthesis.
func (d *dispatcher) Submit(seg segment.Segment) {
	d.mu.Lock()
	slot := d.slots
	d.slots++
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			d.complete(synthResult{slot: slot, seg: seg, err: err})
			return
		}
		pcm, err := d.synth(d.ctx, seg)
		d.sem.Release(1)
		d.complete(synthResult{slot: slot, seg: seg, pcm: pcm, err: err})
	}()
}

// complete parks r and releases every result that is now next in line.
// Playback happens under d.mu so releases can never interleave.
func (d *dispatcher) complete(r synthResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	heap.Push(&d.pending, r)
	for d.pending.Len() > 0 && d.pending[0].slot == d.next {
		r := heap.Pop(&d.pending).(synthResult)
		d.next++
		switch {
		case d.aborted:
			if d.drop != nil {
				d.drop(r.seg)
			}
		case r.err != nil:
			if d.fail != nil {
				d.fail(r.seg, r.err)
			}
		default:
			d.play(r.seg, r.pcm)
		}
	}
}

// Abort cancels in-flight synthesis and guarantees that nothing else is
// played. It does not wait; call Wait for that.
func (d *dispatcher) Abort() {
	d.mu.Lock()
	d.aborted = true
	d.mu.Unlock()
	d.cancel()
}

// Wait blocks until every submitted segment has been released.
func (d *dispatcher) Wait() {
	d.wg.Wait()
	d.cancel()
}

// Released returns how many slots have been released so far.
func (d *dispatcher) Released() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.next
}
