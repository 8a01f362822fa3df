// Package mood records how the user feels and turns each check-in into a
// chat message so Aura can respond to it.
package mood

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/aura/internal/conversation"
)

// labels maps scores 1..5 to the phrase used in the check-in message.
var labels = [conversation.MaxScore]string{
	"muito triste",
	"triste",
	"neutro",
	"bem",
	"excelente",
}

// Label returns the phrase for score.
func Label(score int) (string, error) {
	if score < conversation.MinScore || score > conversation.MaxScore {
		return "", fmt.Errorf("%w: %d", conversation.ErrInvalidScore, score)
	}
	return labels[score-1], nil
}

// Message returns the chat text sent on the user's behalf after a check-in.
func Message(score int) (string, error) {
	l, err := Label(score)
	if err != nil {
		return "", err
	}
	return "Hoje estou me sentindo " + l + ".", nil
}

// Conversation is the part of the orchestrator the mood flow needs.
type Conversation interface {
	RecordMood(ctx context.Context, e conversation.MoodEntry) error
	Send(ctx context.Context, text string) (conversation.Message, error)
}

// Option configures a [Tracker].
type Option func(*Tracker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLocation sets the time zone used for the calendar day of an entry.
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) {
		if loc != nil {
			t.loc = loc
		}
	}
}

// Tracker records mood check-ins.
type Tracker struct {
	conv Conversation
	now  func() time.Time
	loc  *time.Location
}

// New returns a Tracker writing to conv.
func New(conv Conversation, opts ...Option) *Tracker {
	t := &Tracker{conv: conv, now: time.Now, loc: time.Local}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Entry builds a validated entry for score stamped with the current time.
func (t *Tracker) Entry(score int, note string) (conversation.MoodEntry, error) {
	if _, err := Label(score); err != nil {
		return conversation.MoodEntry{}, err
	}
	now := t.now().In(t.loc)
	return conversation.MoodEntry{
		Date:      now.Format(time.DateOnly),
		Score:     score,
		Timestamp: now.UnixMilli(),
		Note:      strings.TrimSpace(note),
	}, nil
}

// Record stores the check-in and then sends the matching chat message. The
// entry is kept even when the chat turn fails.
func (t *Tracker) Record(ctx context.Context, score int, note string) (conversation.MoodEntry, conversation.Message, error) {
	e, err := t.Entry(score, note)
	if err != nil {
		return conversation.MoodEntry{}, conversation.Message{}, err
	}
	if err := t.conv.RecordMood(ctx, e); err != nil {
		return conversation.MoodEntry{}, conversation.Message{}, fmt.Errorf("mood: record: %w", err)
	}
	text, _ := Message(score)
	msg, err := t.conv.Send(ctx, text)
	if err != nil {
		return e, conversation.Message{}, fmt.Errorf("mood: send check-in: %w", err)
	}
	return e, msg, nil
}

// Summary is the dashboard view of the mood history.
type Summary struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`

	// Latest is nil when nothing has been recorded yet.
	Latest      *conversation.MoodEntry `json:"latest,omitempty"`
	LatestLabel string                  `json:"latestLabel,omitempty"`

	// Recent holds up to the last seven entries, oldest first.
	Recent []conversation.MoodEntry `json:"recent"`
}

// RecentWindow is the number of entries kept in [Summary.Recent].
const RecentWindow = 7

// Summarize computes the dashboard summary. Entries with an out of range
// score are ignored.
func Summarize(entries []conversation.MoodEntry) Summary {
	s := Summary{Recent: []conversation.MoodEntry{}}
	total := 0
	for i := range entries {
		e := entries[i]
		if e.Score < conversation.MinScore || e.Score > conversation.MaxScore {
			continue
		}
		s.Count++
		total += e.Score
		s.Latest = &e
	}
	if s.Count == 0 {
		return s
	}
	s.Average = float64(total) / float64(s.Count)
	s.LatestLabel, _ = Label(s.Latest.Score)

	for i := len(entries) - 1; i >= 0 && len(s.Recent) < RecentWindow; i-- {
		if e := entries[i]; e.Score >= conversation.MinScore && e.Score <= conversation.MaxScore {
			s.Recent = append(s.Recent, e)
		}
	}
	for i, j := 0, len(s.Recent)-1; i < j; i, j = i+1, j-1 {
		s.Recent[i], s.Recent[j] = s.Recent[j], s.Recent[i]
	}
	return s
}
