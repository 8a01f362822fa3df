// Package conversation defines the persisted Aura state: the chat history,
// the mood history and the profile name, plus the only mutations allowed on
// them.
//
// Messages are immutable once appended with one exception: the full-turn
// audio artifact of an assistant message may be attached later (lazy
// synthesis for replay or download). [State.AttachAudio] is the only code
// path that changes an appended message.
package conversation

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// DefaultName is the profile name used until the user sets one.
const DefaultName = "Amiga"

var (
	// ErrMessageNotFound is returned when no message has the given timestamp.
	ErrMessageNotFound = errors.New("conversation: message not found")

	// ErrNotAssistant is returned when audio is attached to a user message.
	ErrNotAssistant = errors.New("conversation: audio can only be attached to assistant messages")

	// ErrInvalidScore is returned for mood scores outside [MinScore, MaxScore].
	ErrInvalidScore = errors.New("conversation: mood score out of range")
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in the conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Timestamp is the creation instant in Unix milliseconds. It is unique
	// within a State and doubles as the message ID.
	Timestamp int64 `json:"timestamp"`

	// AudioBase64 is the full-turn speech (base64 PCM16LE mono 24 kHz).
	AudioBase64 string `json:"audioBase64,omitempty"`
}

// HasAudio reports whether the full-turn audio artifact is attached.
func (m Message) HasAudio() bool { return m.AudioBase64 != "" }

// Time returns Timestamp as a time.Time.
func (m Message) Time() time.Time { return time.UnixMilli(m.Timestamp) }

const (
	MinScore = 1
	MaxScore = 5
)

// MoodEntry is one mood sample.
type MoodEntry struct {
	// Date is the calendar day label, YYYY-MM-DD.
	Date      string `json:"date"`
	Score     int    `json:"score"`
	Timestamp int64  `json:"timestamp"`
	Note      string `json:"note,omitempty"`
}

// State is the aggregate persisted as one record.
type State struct {
	Name        string      `json:"name"`
	MoodHistory []MoodEntry `json:"moodHistory"`
	ChatHistory []Message   `json:"chatHistory"`
}

// NewState returns the initial state used when nothing has been stored yet.
func NewState() State {
	return State{
		Name:        DefaultName,
		MoodHistory: []MoodEntry{},
		ChatHistory: []Message{},
	}
}

// Normalize fills defaults on a freshly decoded state so that older or
// hand-written records behave like ones produced by NewState.
func (s *State) Normalize() {
	if s.Name == "" {
		s.Name = DefaultName
	}
	if s.MoodHistory == nil {
		s.MoodHistory = []MoodEntry{}
	}
	if s.ChatHistory == nil {
		s.ChatHistory = []Message{}
	}
}

// AppendMessage appends m to the chat history and returns it as stored. A
// timestamp that is not strictly after the last message is bumped to
// last+1 so timestamps stay unique and ordered.
func (s *State) AppendMessage(m Message) Message {
	if n := len(s.ChatHistory); n > 0 {
		if last := s.ChatHistory[n-1].Timestamp; m.Timestamp <= last {
			m.Timestamp = last + 1
		}
	}
	s.ChatHistory = append(s.ChatHistory, m)
	return m
}

// FindMessage returns the message with timestamp ts.
func (s State) FindMessage(ts int64) (Message, bool) {
	i := s.indexOf(ts)
	if i < 0 {
		return Message{}, false
	}
	return s.ChatHistory[i], true
}

// AttachAudio sets the audio artifact of the assistant message with
// timestamp ts. Content and Timestamp are never touched.
func (s *State) AttachAudio(ts int64, audioBase64 string) error {
	i := s.indexOf(ts)
	if i < 0 {
		return fmt.Errorf("%w: timestamp %d", ErrMessageNotFound, ts)
	}
	if s.ChatHistory[i].Role != RoleAssistant {
		return fmt.Errorf("%w: timestamp %d", ErrNotAssistant, ts)
	}
	s.ChatHistory[i].AudioBase64 = audioBase64
	return nil
}

// AddMood appends e after validating its score.
func (s *State) AddMood(e MoodEntry) error {
	if e.Score < MinScore || e.Score > MaxScore {
		return fmt.Errorf("%w: %d", ErrInvalidScore, e.Score)
	}
	s.MoodHistory = append(s.MoodHistory, e)
	return nil
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s State) Clone() State {
	return State{
		Name:        s.Name,
		MoodHistory: slices.Clone(s.MoodHistory),
		ChatHistory: slices.Clone(s.ChatHistory),
	}
}

func (s State) indexOf(ts int64) int {
	// Recent messages are looked up far more often than old ones.
	for i := len(s.ChatHistory) - 1; i >= 0; i-- {
		if s.ChatHistory[i].Timestamp == ts {
			return i
		}
	}
	return -1
}
