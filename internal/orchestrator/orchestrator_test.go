package orchestrator_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/aura/internal/conversation"
	"github.com/MrWong99/aura/internal/observe"
	"github.com/MrWong99/aura/internal/orchestrator"
	"github.com/MrWong99/aura/internal/store"
	"github.com/MrWong99/aura/pkg/audio"
	audiomock "github.com/MrWong99/aura/pkg/audio/mock"
	"github.com/MrWong99/aura/pkg/audio/scheduler"
	"github.com/MrWong99/aura/pkg/provider/llm"
	llmmock "github.com/MrWong99/aura/pkg/provider/llm/mock"
	ttsmock "github.com/MrWong99/aura/pkg/provider/tts/mock"
)

const (
	sentence1 = "Olá, tudo bem com você? "
	sentence2 = "Estou aqui para te ouvir sempre."
	reply     = sentence1 + sentence2
	style     = "Diga de forma carinhosa e natural: "
)

// speech returns base64 PCM lasting d at 24 kHz mono.
func speech(d time.Duration) string {
	samples := int(d * audio.SampleRate / time.Second)
	return audio.EncodeBase64(make([]byte, samples*2))
}

// fakeClock returns strictly increasing instants one second apart.
func fakeClock() func() time.Time {
	var mu sync.Mutex
	t := time.UnixMilli(1_700_000_000_000)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type fixture struct {
	llm   *llmmock.Provider
	tts   *ttsmock.Provider
	store *store.Memory
	dev   *audiomock.Device
	orch  *orchestrator.Orchestrator
}

func newFixture(t *testing.T, chunks []llm.Chunk, opts ...orchestrator.Option) *fixture {
	t.Helper()
	f := &fixture{
		llm: &llmmock.Provider{StreamChunks: chunks},
		tts: &ttsmock.Provider{
			Results: map[string]string{
				strings.TrimSpace(sentence1): speech(100 * time.Millisecond),
				sentence2:                    speech(200 * time.Millisecond),
				reply:                        speech(300 * time.Millisecond),
			},
			Result: speech(50 * time.Millisecond),
		},
		store: store.NewMemory(),
		dev:   &audiomock.Device{},
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	base := []orchestrator.Option{
		orchestrator.WithPersona(orchestrator.Persona{SystemPrompt: "Você é a Aura.", Temperature: 0.8, TopP: 0.95}),
		orchestrator.WithVoice("Kore", style),
		orchestrator.WithClock(fakeClock()),
		orchestrator.WithMetrics(m),
	}
	f.orch = orchestrator.New(f.llm, f.tts, f.store, scheduler.New(f.dev), append(base, opts...)...)
	return f
}

func twoSentenceChunks() []llm.Chunk {
	return []llm.Chunk{
		{Text: sentence1},
		{Text: sentence2},
		{FinishReason: "stop"},
	}
}

// collect drains events until the channel has been quiet for a moment.
func collect(ch <-chan orchestrator.Event) []orchestrator.Event {
	var out []orchestrator.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func ofType(evs []orchestrator.Event, typ orchestrator.EventType) []orchestrator.Event {
	var out []orchestrator.Event
	for _, ev := range evs {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestSend_TwoSentences(t *testing.T) {
	t.Parallel()
	f := newFixture(t, twoSentenceChunks())
	// First sentence is slower so the second finishes synthesis first.
	f.tts.Delays = map[string]time.Duration{strings.TrimSpace(sentence1): 50 * time.Millisecond}

	events, unsub := f.orch.Subscribe(128)
	defer unsub()

	msg, err := f.orch.Send(context.Background(), "Estou triste hoje")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if msg.Role != conversation.RoleAssistant || msg.Content != reply {
		t.Errorf("message = %+v, want assistant %q", msg, reply)
	}
	if msg.AudioBase64 != f.tts.Results[reply] {
		t.Error("full-turn audio not attached")
	}

	// Segments play in order, back to back.
	calls := f.dev.Calls()
	if len(calls) != 2 {
		t.Fatalf("device calls = %d, want 2", len(calls))
	}
	if calls[0].At != 0 || calls[1].At != 100*time.Millisecond {
		t.Errorf("starts = %v, %v; want 0s, 100ms", calls[0].At, calls[1].At)
	}
	if got := calls[1].Frame.Duration(); got != 200*time.Millisecond {
		t.Errorf("second segment duration = %v, want 200ms", got)
	}

	// Every synthesis uses the configured voice and delivery prefix.
	texts := f.tts.Texts()
	slices.Sort(texts)
	want := []string{sentence2, strings.TrimSpace(sentence1), reply}
	slices.Sort(want)
	if !slices.Equal(texts, want) {
		t.Errorf("tts texts = %q, want %q", texts, want)
	}
	for _, c := range f.tts.Calls() {
		if c.Req.Voice != "Kore" || c.Req.Style != style {
			t.Errorf("tts request %q voice=%q style=%q", c.Req.Text, c.Req.Voice, c.Req.Style)
		}
	}

	// The model sees the persona and the history ending with the user turn.
	llmCalls := f.llm.Calls()
	if len(llmCalls) != 1 {
		t.Fatalf("llm calls = %d, want 1", len(llmCalls))
	}
	req := llmCalls[0].Req
	if req.SystemPrompt != "Você é a Aura." || req.Temperature != 0.8 || req.TopP != 0.95 {
		t.Errorf("request persona = %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != "Estou triste hoje" {
		t.Errorf("request messages = %+v", req.Messages)
	}

	// Persisted twice: after the user message and after the reply.
	if got := f.store.Saves(); got != 2 {
		t.Errorf("saves = %d, want 2", got)
	}
	st, err := f.store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(st.ChatHistory) != 2 || st.ChatHistory[1].Timestamp != msg.Timestamp {
		t.Errorf("stored history = %+v", st.ChatHistory)
	}
	if st.ChatHistory[0].Timestamp >= st.ChatHistory[1].Timestamp {
		t.Error("assistant timestamp must follow the user timestamp")
	}

	evs := collect(events)
	var states []orchestrator.State
	for _, ev := range ofType(evs, orchestrator.EventState) {
		states = append(states, ev.State)
	}
	wantStates := []orchestrator.State{
		orchestrator.AwaitingStreamStart, orchestrator.Streaming, orchestrator.Finalizing, orchestrator.Idle,
	}
	if !slices.Equal(states, wantStates) {
		t.Errorf("states = %v, want %v", states, wantStates)
	}
	deltas := ofType(evs, orchestrator.EventDelta)
	if len(deltas) != 2 || deltas[1].Partial != reply {
		t.Errorf("deltas = %+v", deltas)
	}
	segs := ofType(evs, orchestrator.EventSegment)
	if len(segs) != 2 || segs[0].Seq != 0 || segs[1].Seq != 1 || segs[1].StartMs != 100 {
		t.Errorf("segment events = %+v", segs)
	}
	done := ofType(evs, orchestrator.EventDone)
	if len(done) != 1 || done[0].Message == nil || done[0].Message.Timestamp != msg.Timestamp {
		t.Errorf("done events = %+v", done)
	}

	if f.orch.TurnState() != orchestrator.Idle || f.orch.Partial() != "" {
		t.Errorf("after turn: state %q partial %q", f.orch.TurnState(), f.orch.Partial())
	}
}

func TestSend_FailingSegmentIsSkipped(t *testing.T) {
	t.Parallel()
	third := "E lembre-se de respirar fundo."
	f := newFixture(t, []llm.Chunk{
		{Text: sentence1},
		{Text: sentence2 + " "},
		{Text: third},
		{FinishReason: "stop"},
	})
	f.tts.Errs = map[string]error{sentence2: errors.New("tts unavailable")}
	f.tts.Results[third] = speech(150 * time.Millisecond)

	msg, err := f.orch.Send(context.Background(), "Oi")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	calls := f.dev.Calls()
	if len(calls) != 2 {
		t.Fatalf("device calls = %d, want 2 (failed segment skipped)", len(calls))
	}
	// The third sentence follows the first directly; the failed one leaves no gap.
	if calls[1].At != 100*time.Millisecond {
		t.Errorf("third sentence start = %v, want 100ms", calls[1].At)
	}
	if calls[1].Frame.Duration() != 150*time.Millisecond {
		t.Errorf("third sentence duration = %v", calls[1].Frame.Duration())
	}
	if !strings.HasSuffix(msg.Content, third) {
		t.Errorf("content = %q", msg.Content)
	}
}

func TestSend_StreamStartFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.llm.StreamErr = errors.New("dial tcp: connection refused")

	events, unsub := f.orch.Subscribe(32)
	defer unsub()

	_, err := f.orch.Send(context.Background(), "Oi")
	if !errors.Is(err, orchestrator.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}

	st := f.orch.Snapshot()
	if len(st.ChatHistory) != 1 || st.ChatHistory[0].Role != conversation.RoleUser {
		t.Errorf("history = %+v, want only the user message", st.ChatHistory)
	}
	if len(f.tts.Calls()) != 0 {
		t.Errorf("tts calls = %d, want 0", len(f.tts.Calls()))
	}
	if f.orch.TurnState() != orchestrator.Idle {
		t.Errorf("state = %q, want idle", f.orch.TurnState())
	}

	evs := collect(events)
	if errs := ofType(evs, orchestrator.EventError); len(errs) != 1 || !strings.Contains(errs[0].Error, "connection refused") {
		t.Errorf("error events = %+v", errs)
	}
	if len(ofType(evs, orchestrator.EventDone)) != 0 {
		t.Error("unexpected done event")
	}

	// The next turn is accepted.
	f.llm.StreamErr = nil
	f.llm.StreamChunks = twoSentenceChunks()
	if _, err := f.orch.Send(context.Background(), "De novo"); err != nil {
		t.Fatalf("Send after failure: %v", err)
	}
}

func TestSend_MidStreamErrorAborts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []llm.Chunk{
		{Text: sentence1},
		{Text: "boom", FinishReason: llm.FinishReasonError},
	})
	f.tts.Delays = map[string]time.Duration{strings.TrimSpace(sentence1): 200 * time.Millisecond}

	_, err := f.orch.Send(context.Background(), "Oi")
	if !errors.Is(err, orchestrator.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
	var se *llm.StreamError
	if !errors.As(err, &se) || se.Message != "boom" {
		t.Errorf("err = %v, want wrapped StreamError boom", err)
	}

	time.Sleep(250 * time.Millisecond)
	if n := len(f.dev.Calls()); n != 0 {
		t.Errorf("device calls = %d, want 0 after abort", n)
	}
	if st := f.orch.Snapshot(); len(st.ChatHistory) != 1 {
		t.Errorf("history len = %d, want 1", len(st.ChatHistory))
	}
	if f.orch.Partial() != "" {
		t.Errorf("partial = %q, want empty", f.orch.Partial())
	}
}

func TestSend_CancelledContextAborts(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	f := newFixture(t, twoSentenceChunks())
	f.llm.Gate = gate

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := f.orch.Send(ctx, "Oi")
		errCh <- err
	}()
	waitState(t, f.orch, orchestrator.Streaming)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, orchestrator.ErrNetwork) || !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want ErrNetwork wrapping context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after cancel")
	}
}

func TestSend_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, twoSentenceChunks())
	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := f.orch.Send(context.Background(), text); !errors.Is(err, orchestrator.ErrEmptyMessage) {
			t.Errorf("Send(%q) err = %v, want ErrEmptyMessage", text, err)
		}
	}
	if len(f.llm.Calls()) != 0 {
		t.Error("blank input reached the model")
	}
}

func waitState(t *testing.T, o *orchestrator.Orchestrator, want orchestrator.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if o.TurnState() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state never reached %q (now %q)", want, o.TurnState())
}

func TestSend_BusyWhileStreaming(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	f := newFixture(t, twoSentenceChunks())
	f.llm.Gate = gate

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Send(context.Background(), "Primeira")
		done <- err
	}()
	waitState(t, f.orch, orchestrator.Streaming)

	if !f.orch.TurnState().Active() {
		t.Error("Active() = false while streaming")
	}
	if _, err := f.orch.Send(context.Background(), "Segunda"); !errors.Is(err, orchestrator.ErrBusy) {
		t.Errorf("second Send err = %v, want ErrBusy", err)
	}
	if err := f.orch.Replay(context.Background(), 1); !errors.Is(err, orchestrator.ErrBusy) {
		t.Errorf("Replay err = %v, want ErrBusy", err)
	}
	if err := f.orch.RecordMood(context.Background(), conversation.MoodEntry{Date: "2026-10-16", Score: 3, Timestamp: 1}); !errors.Is(err, orchestrator.ErrBusy) {
		t.Errorf("RecordMood err = %v, want ErrBusy", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if st := f.orch.Snapshot(); len(st.ChatHistory) != 2 || len(st.MoodHistory) != 0 {
		t.Errorf("history = %d messages, %d moods, want 2 and 0 (rejected calls leave no trace)", len(st.ChatHistory), len(st.MoodHistory))
	}
}

func TestSend_Muted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, twoSentenceChunks(), orchestrator.WithMuted(true))
	if !f.orch.Muted() {
		t.Fatal("Muted() = false")
	}

	msg, err := f.orch.Send(context.Background(), "Oi")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n := len(f.dev.Calls()); n != 0 {
		t.Errorf("device calls = %d, want 0 while muted", n)
	}
	if got := f.tts.Texts(); !slices.Equal(got, []string{reply}) {
		t.Errorf("tts texts = %q, want only the full reply", got)
	}
	if !msg.HasAudio() {
		t.Error("full-turn audio missing while muted")
	}

	f.orch.SetMuted(false)
	if f.orch.Muted() {
		t.Error("Muted() = true after unmute")
	}
}

func TestSend_FullSynthesisFailureKeepsMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t, twoSentenceChunks())
	f.tts.Errs = map[string]error{reply: errors.New("quota exceeded")}

	msg, err := f.orch.Send(context.Background(), "Oi")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.HasAudio() {
		t.Error("audio attached despite synthesis failure")
	}
	if len(f.dev.Calls()) != 2 {
		t.Errorf("live segments = %d, want 2", len(f.dev.Calls()))
	}
}

func TestReplay_LazyAndIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, twoSentenceChunks(), orchestrator.WithMuted(true))
	f.tts.Errs = map[string]error{reply: errors.New("quota exceeded")}

	msg, err := f.orch.Send(context.Background(), "Oi")
	if err != nil {
		t.Fatal(err)
	}
	if msg.HasAudio() {
		t.Fatal("precondition: message should have no audio")
	}
	f.tts.Errs = nil
	f.tts.Reset()
	savesBefore := f.store.Saves()

	ctx := context.Background()
	if err := f.orch.Replay(ctx, msg.Timestamp); err != nil {
		t.Fatalf("first Replay: %v", err)
	}
	if err := f.orch.Replay(ctx, msg.Timestamp); err != nil {
		t.Fatalf("second Replay: %v", err)
	}

	if got := f.tts.Texts(); !slices.Equal(got, []string{reply}) {
		t.Errorf("tts texts = %q, want one synthesis of the reply", got)
	}
	if got := f.store.Saves() - savesBefore; got != 1 {
		t.Errorf("saves during replay = %d, want 1", got)
	}
	m, ok := f.orch.Snapshot().FindMessage(msg.Timestamp)
	if !ok || m.AudioBase64 != f.tts.Results[reply] || m.Content != reply {
		t.Errorf("message after replay = %+v", m)
	}

	// Both replays start from a reset cursor.
	calls := f.dev.Calls()
	if len(calls) != 2 || calls[0].At != 0 || calls[1].At != 0 {
		t.Errorf("replay starts = %+v", calls)
	}
	if calls[0].Frame.Duration() != 300*time.Millisecond {
		t.Errorf("replay duration = %v, want 300ms", calls[0].Frame.Duration())
	}
}

func TestReplay_Errors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, twoSentenceChunks())
	if _, err := f.orch.Send(context.Background(), "Oi"); err != nil {
		t.Fatal(err)
	}
	user := f.orch.Snapshot().ChatHistory[0]

	if err := f.orch.Replay(context.Background(), user.Timestamp); !errors.Is(err, conversation.ErrNotAssistant) {
		t.Errorf("replay user message err = %v, want ErrNotAssistant", err)
	}
	if err := f.orch.Replay(context.Background(), 42); !errors.Is(err, conversation.ErrMessageNotFound) {
		t.Errorf("replay unknown err = %v, want ErrMessageNotFound", err)
	}
	if _, err := f.orch.Download(context.Background(), 42); !errors.Is(err, conversation.ErrMessageNotFound) {
		t.Errorf("download unknown err = %v, want ErrMessageNotFound", err)
	}
}

func TestReplay_SynthesisFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, twoSentenceChunks(), orchestrator.WithMuted(true))
	f.tts.Errs = map[string]error{reply: errors.New("quota exceeded")}
	msg, err := f.orch.Send(context.Background(), "Oi")
	if err != nil {
		t.Fatal(err)
	}

	if err := f.orch.Replay(context.Background(), msg.Timestamp); err == nil {
		t.Fatal("expected error when synthesis fails")
	}
	if m, _ := f.orch.Snapshot().FindMessage(msg.Timestamp); m.HasAudio() {
		t.Error("audio attached after failed synthesis")
	}
	if n := len(f.dev.Calls()); n != 0 {
		t.Errorf("device calls = %d, want 0", n)
	}
}

func TestDownload(t *testing.T) {
	t.Parallel()
	f := newFixture(t, twoSentenceChunks())
	msg, err := f.orch.Send(context.Background(), "Oi")
	if err != nil {
		t.Fatal(err)
	}
	synths := len(f.tts.Calls())

	dl, err := f.orch.Download(context.Background(), msg.Timestamp)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if want := orchestrator.DownloadFilename(msg.Timestamp); dl.Filename != want || !strings.HasSuffix(want, ".wav") {
		t.Errorf("filename = %q, want %q", dl.Filename, want)
	}
	if dl.ContentType != "audio/wav" {
		t.Errorf("content type = %q", dl.ContentType)
	}
	h, err := audio.ParseWAVHeader(dl.Data)
	if err != nil {
		t.Fatalf("ParseWAVHeader: %v", err)
	}
	pcm, _ := audio.DecodeBase64(f.tts.Results[reply])
	if int(h.DataSize) != len(pcm) || len(dl.Data) != audio.WAVHeaderSize+len(pcm) {
		t.Errorf("data size = %d, file len = %d, pcm len = %d", h.DataSize, len(dl.Data), len(pcm))
	}
	if len(f.tts.Calls()) != synths {
		t.Error("download synthesized although audio was attached")
	}
}

func TestDownloadFilename(t *testing.T) {
	t.Parallel()
	if got := orchestrator.DownloadFilename(1700000000123); got != "aura_1700000000123.wav" {
		t.Errorf("DownloadFilename = %q", got)
	}
}

func TestApply_UsedByNextTurn(t *testing.T) {
	t.Parallel()
	f := newFixture(t, twoSentenceChunks())
	f.orch.Apply(orchestrator.Settings{
		Persona: orchestrator.Persona{SystemPrompt: "Seja breve.", Temperature: 0.2, TopP: 0.5, MaxTokens: 64},
		Voice:   orchestrator.Voice{Name: "Puck", StylePrefix: "Calmamente: "},
	})
	if got := f.orch.Settings().MaxConcurrentSynth; got != orchestrator.DefaultMaxConcurrentSynth {
		t.Errorf("MaxConcurrentSynth = %d, want default", got)
	}

	if _, err := f.orch.Send(context.Background(), "Oi"); err != nil {
		t.Fatal(err)
	}
	req := f.llm.Calls()[0].Req
	if req.SystemPrompt != "Seja breve." || req.Temperature != 0.2 || req.TopP != 0.5 || req.MaxTokens != 64 {
		t.Errorf("request = %+v", req)
	}
	for _, c := range f.tts.Calls() {
		if c.Req.Voice != "Puck" || c.Req.Style != "Calmamente: " {
			t.Errorf("tts request = %+v", c.Req)
		}
	}
}

func TestHistoryIncludesPriorTurns(t *testing.T) {
	t.Parallel()
	f := newFixture(t, twoSentenceChunks())
	ctx := context.Background()
	if _, err := f.orch.Send(ctx, "Primeira"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.orch.Send(ctx, "Segunda"); err != nil {
		t.Fatal(err)
	}
	msgs := f.llm.Calls()[1].Req.Messages
	var roles []string
	for _, m := range msgs {
		roles = append(roles, m.Role)
	}
	want := []string{llm.RoleUser, llm.RoleAssistant, llm.RoleUser}
	if !slices.Equal(roles, want) {
		t.Errorf("roles = %v, want %v", roles, want)
	}
	if msgs[1].Content != reply {
		t.Errorf("assistant context = %q", msgs[1].Content)
	}
}

func TestSetNameAndMood(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.orch.SetName(ctx, "  "); !errors.Is(err, orchestrator.ErrEmptyName) {
		t.Errorf("SetName blank err = %v", err)
	}
	if err := f.orch.SetName(ctx, " Maria "); err != nil {
		t.Fatal(err)
	}
	if err := f.orch.RecordMood(ctx, conversation.MoodEntry{Date: "2026-10-16", Score: 9}); !errors.Is(err, conversation.ErrInvalidScore) {
		t.Errorf("RecordMood err = %v, want ErrInvalidScore", err)
	}
	if err := f.orch.RecordMood(ctx, conversation.MoodEntry{Date: "2026-10-16", Score: 4, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}

	st, err := f.store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Name != "Maria" || len(st.MoodHistory) != 1 || st.MoodHistory[0].Score != 4 {
		t.Errorf("stored state = %+v", st)
	}
}

// slowStore holds the first Save until release is closed, before it reaches
// the wrapped store.
type slowStore struct {
	store.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowStore) Save(ctx context.Context, st conversation.State) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.Store.Save(ctx, st)
}

func TestPersist_SlowSaveKeepsNewestState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()
	slow := &slowStore{Store: store.Serialized(mem), entered: make(chan struct{}), release: make(chan struct{})}
	orch := orchestrator.New(&llmmock.Provider{}, &ttsmock.Provider{}, slow, scheduler.New(&audiomock.Device{}))

	nameDone := make(chan error, 1)
	go func() { nameDone <- orch.SetName(ctx, "Ana") }()
	<-slow.entered

	moodDone := make(chan error, 1)
	go func() {
		moodDone <- orch.RecordMood(ctx, conversation.MoodEntry{Date: "2026-10-16", Score: 4, Timestamp: 1})
	}()
	// Give the mood save a chance to overtake the stalled one.
	time.Sleep(20 * time.Millisecond)
	close(slow.release)

	if err := <-nameDone; err != nil {
		t.Fatalf("SetName: %v", err)
	}
	if err := <-moodDone; err != nil {
		t.Fatalf("RecordMood: %v", err)
	}

	st, err := mem.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Name != "Ana" || len(st.MoodHistory) != 1 {
		t.Errorf("persisted name=%q moods=%d, want Ana and 1", st.Name, len(st.MoodHistory))
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("fresh store uses default name", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil, orchestrator.WithDefaultName("Querida"))
		if err := f.orch.Load(ctx); err != nil {
			t.Fatal(err)
		}
		if got := f.orch.Snapshot().Name; got != "Querida" {
			t.Errorf("name = %q, want Querida", got)
		}
	})

	t.Run("stored state wins", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil, orchestrator.WithDefaultName("Querida"))
		st := conversation.NewState()
		st.Name = "Ana"
		st.AppendMessage(conversation.Message{Role: conversation.RoleUser, Content: "oi", Timestamp: 5})
		if err := f.store.Save(ctx, st); err != nil {
			t.Fatal(err)
		}
		if err := f.orch.Load(ctx); err != nil {
			t.Fatal(err)
		}
		snap := f.orch.Snapshot()
		if snap.Name != "Ana" || len(snap.ChatHistory) != 1 {
			t.Errorf("snapshot = %+v", snap)
		}
	})
}
