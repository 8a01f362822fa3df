package orchestrator

import (
	"sync"

	"github.com/MrWong99/aura/internal/conversation"
)

// EventType names an [Event].
type EventType string

const (
	// EventState reports a turn state transition.
	EventState EventType = "state"

	// EventDelta carries one streamed text increment and the partial reply.
	EventDelta EventType = "delta"

	// EventSegment reports a sentence that was scheduled for playback.
	EventSegment EventType = "segment"

	// EventDone carries the persisted assistant message.
	EventDone EventType = "done"

	// EventError reports an aborted turn.
	EventError EventType = "error"
)

// Event is published to subscribers while a turn progresses.
type Event struct {
	Type   EventType `json:"type"`
	TurnID string    `json:"turnId,omitempty"`

	// State is set on EventState.
	State State `json:"state,omitempty"`

	// Delta and Partial are set on EventDelta.
	Delta   string `json:"delta,omitempty"`
	Partial string `json:"partial,omitempty"`

	// Seq, Text, StartMs and DurationMs are set on EventSegment. Start is on
	// the output device clock.
	Seq        int    `json:"seq,omitempty"`
	Text       string `json:"text,omitempty"`
	StartMs    int64  `json:"startMs,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`

	// Message is set on EventDone.
	Message *conversation.Message `json:"message,omitempty"`

	// Error is set on EventError.
	Error string `json:"error,omitempty"`
}

// DefaultSubscriberBuffer is used when Subscribe is called with a
// non-positive buffer.
const DefaultSubscriberBuffer = 64

type hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan Event
}

func newHub() *hub {
	return &hub{subs: make(map[uint64]chan Event)}
}

func (h *hub) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// publish delivers ev to every subscriber without blocking and returns the
// number of subscribers that dropped it.
func (h *hub) publish(ev Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	dropped := 0
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}
	return dropped
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
