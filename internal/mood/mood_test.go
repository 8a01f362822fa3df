package mood_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/aura/internal/conversation"
	"github.com/MrWong99/aura/internal/mood"
)

type fakeConversation struct {
	moods   []conversation.MoodEntry
	sent    []string
	moodErr error
	sendErr error
}

func (f *fakeConversation) RecordMood(_ context.Context, e conversation.MoodEntry) error {
	if f.moodErr != nil {
		return f.moodErr
	}
	f.moods = append(f.moods, e)
	return nil
}

func (f *fakeConversation) Send(_ context.Context, text string) (conversation.Message, error) {
	f.sent = append(f.sent, text)
	if f.sendErr != nil {
		return conversation.Message{}, f.sendErr
	}
	return conversation.Message{Role: conversation.RoleAssistant, Content: "Que bom!", Timestamp: 1}, nil
}

func TestMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		score int
		want  string
	}{
		{1, "Hoje estou me sentindo muito triste."},
		{2, "Hoje estou me sentindo triste."},
		{3, "Hoje estou me sentindo neutro."},
		{4, "Hoje estou me sentindo bem."},
		{5, "Hoje estou me sentindo excelente."},
	}
	for _, tc := range tests {
		got, err := mood.Message(tc.score)
		if err != nil {
			t.Fatalf("Message(%d): %v", tc.score, err)
		}
		if got != tc.want {
			t.Errorf("Message(%d) = %q, want %q", tc.score, got, tc.want)
		}
	}
	for _, bad := range []int{0, 6, -1} {
		if _, err := mood.Message(bad); !errors.Is(err, conversation.ErrInvalidScore) {
			t.Errorf("Message(%d) err = %v, want ErrInvalidScore", bad, err)
		}
	}
}

func TestTracker_Record(t *testing.T) {
	t.Parallel()
	conv := &fakeConversation{}
	now := time.Date(2026, 10, 16, 23, 30, 0, 0, time.UTC)
	saoPaulo := time.FixedZone("BRT", -3*60*60)
	tr := mood.New(conv, mood.WithClock(func() time.Time { return now }), mood.WithLocation(saoPaulo))

	e, msg, err := tr.Record(context.Background(), 4, "  dormi bem ")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if e.Date != "2026-10-16" || e.Score != 4 || e.Note != "dormi bem" || e.Timestamp != now.UnixMilli() {
		t.Errorf("entry = %+v", e)
	}
	if len(conv.moods) != 1 || conv.moods[0] != e {
		t.Errorf("recorded moods = %+v", conv.moods)
	}
	if len(conv.sent) != 1 || conv.sent[0] != "Hoje estou me sentindo bem." {
		t.Errorf("sent = %q", conv.sent)
	}
	if msg.Content != "Que bom!" {
		t.Errorf("reply = %+v", msg)
	}
}

func TestTracker_RecordInvalidScore(t *testing.T) {
	t.Parallel()
	conv := &fakeConversation{}
	_, _, err := mood.New(conv).Record(context.Background(), 7, "")
	if !errors.Is(err, conversation.ErrInvalidScore) {
		t.Fatalf("err = %v, want ErrInvalidScore", err)
	}
	if len(conv.moods) != 0 || len(conv.sent) != 0 {
		t.Error("invalid score must not reach the conversation")
	}
}

func TestTracker_RecordSendFailureKeepsEntry(t *testing.T) {
	t.Parallel()
	boom := errors.New("busy")
	conv := &fakeConversation{sendErr: boom}
	e, _, err := mood.New(conv).Record(context.Background(), 2, "")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want busy", err)
	}
	if e.Score != 2 || len(conv.moods) != 1 {
		t.Errorf("entry = %+v, moods = %d", e, len(conv.moods))
	}
}

func TestTracker_RecordStoreFailure(t *testing.T) {
	t.Parallel()
	conv := &fakeConversation{moodErr: errors.New("disk full")}
	if _, _, err := mood.New(conv).Record(context.Background(), 3, ""); err == nil {
		t.Fatal("expected error")
	}
	if len(conv.sent) != 0 {
		t.Error("chat message sent although the entry was not stored")
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		s := mood.Summarize(nil)
		if s.Count != 0 || s.Latest != nil || s.Average != 0 || len(s.Recent) != 0 {
			t.Errorf("summary = %+v", s)
		}
	})

	t.Run("average latest and window", func(t *testing.T) {
		var entries []conversation.MoodEntry
		for i, score := range []int{1, 2, 3, 4, 5, 5, 4, 3, 2, 9} {
			entries = append(entries, conversation.MoodEntry{Score: score, Timestamp: int64(i)})
		}
		s := mood.Summarize(entries)
		if s.Count != 9 {
			t.Errorf("Count = %d, want 9 (out of range ignored)", s.Count)
		}
		if math.Abs(s.Average-29.0/9.0) > 1e-9 {
			t.Errorf("Average = %v", s.Average)
		}
		if s.Latest == nil || s.Latest.Timestamp != 8 || s.LatestLabel != "triste" {
			t.Errorf("Latest = %+v label %q", s.Latest, s.LatestLabel)
		}
		if len(s.Recent) != mood.RecentWindow || s.Recent[0].Timestamp != 2 || s.Recent[6].Timestamp != 8 {
			t.Errorf("Recent = %+v", s.Recent)
		}
	})
}
