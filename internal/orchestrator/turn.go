package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/aura/internal/conversation"
	"github.com/MrWong99/aura/internal/observe"
	"github.com/MrWong99/aura/internal/segment"
	"github.com/MrWong99/aura/pkg/audio"
	"github.com/MrWong99/aura/pkg/provider/llm"
)

// turn is the per-Send working set.
type turn struct {
	id       string
	settings Settings
	log      *slog.Logger
	started  time.Time
}

// Send runs one user turn to completion and returns the persisted assistant
// message.
//
// The user message is appended and persisted before the model is called and
// stays in the history even if the turn aborts. An aborted turn returns an
// error wrapping [ErrNetwork] and appends no assistant message.
//
// Send blocks for the whole turn. Callers that serve a request should pass a
// context that outlives the request and follow progress through Subscribe.
func (o *Orchestrator) Send(ctx context.Context, text string) (conversation.Message, error) {
	if strings.TrimSpace(text) == "" {
		return conversation.Message{}, ErrEmptyMessage
	}

	o.mu.Lock()
	if o.state.Active() {
		o.mu.Unlock()
		o.metrics.RecordTurn(ctx, observe.TurnRejected)
		return conversation.Message{}, ErrBusy
	}
	t := &turn{
		id:       uuid.NewString(),
		settings: o.settings,
		started:  o.now(),
	}
	o.state = AwaitingStreamStart
	o.turnID = t.id
	o.partial = ""
	o.st.AppendMessage(conversation.Message{
		Role:      conversation.RoleUser,
		Content:   text,
		Timestamp: t.started.UnixMilli(),
	})
	history := toLLMHistory(o.st.ChatHistory)
	o.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "orchestrator.turn")
	defer span.End()
	span.SetAttributes(attribute.String("turn.id", t.id))
	t.log = observe.Logger(ctx).With("turnID", t.id)

	o.metrics.ActiveTurns.Add(ctx, 1)
	defer o.metrics.ActiveTurns.Add(ctx, -1)

	o.publish(Event{Type: EventState, TurnID: t.id, State: AwaitingStreamStart})
	o.persist(ctx)
	t.log.Info("orchestrator: turn started", "historyLen", len(history))

	req := llm.CompletionRequest{
		Messages:     history,
		SystemPrompt: t.settings.Persona.SystemPrompt,
		Temperature:  t.settings.Persona.Temperature,
		TopP:         t.settings.Persona.TopP,
		MaxTokens:    t.settings.Persona.MaxTokens,
	}
	llmStart := time.Now()
	ch, err := o.llm.StreamCompletion(ctx, req)
	if err != nil {
		o.metrics.RecordProviderRequest(ctx, o.llmName, "llm", "error")
		span.SetStatus(codes.Error, err.Error())
		return o.abort(ctx, t, nil, fmt.Errorf("start stream: %w", err))
	}

	o.setState(Streaming, t.id)
	o.player.ResetCursor()

	seg := segment.New()
	d := newDispatcher(ctx, t.settings.MaxConcurrentSynth,
		func(ctx context.Context, s segment.Segment) ([]byte, error) {
			return o.synthesizeSegment(ctx, t, s)
		},
		func(s segment.Segment, pcm []byte) { o.playSegment(ctx, t, s, pcm) },
		func(s segment.Segment, err error) {
			t.log.Warn("orchestrator: segment skipped", "seq", s.Seq, "err", err)
			o.metrics.RecordSegment(ctx, observe.SegmentFailed)
		},
		func(s segment.Segment) {
			t.log.Debug("orchestrator: segment dropped", "seq", s.Seq)
			o.metrics.RecordSegment(ctx, observe.SegmentDropped)
		},
	)

	var (
		full     strings.Builder
		first    = true
		finished bool
	)
	for chunk := range ch {
		if err := chunk.Err(); err != nil {
			go audio.Drain(ch)
			o.metrics.RecordProviderRequest(ctx, o.llmName, "llm", "error")
			span.SetStatus(codes.Error, err.Error())
			return o.abort(ctx, t, d, err)
		}
		if chunk.Text != "" {
			if first {
				first = false
				o.metrics.LLMTimeToFirstToken.Record(ctx, time.Since(llmStart).Seconds())
			}
			full.WriteString(chunk.Text)
			partial := full.String()
			o.mu.Lock()
			o.partial = partial
			o.mu.Unlock()
			o.publish(Event{Type: EventDelta, TurnID: t.id, Delta: chunk.Text, Partial: partial})

			if s, ok := seg.Push(chunk.Text); ok {
				o.submit(d, t, s)
			}
		}
		if chunk.FinishReason != "" {
			finished = true
		}
	}
	if !finished && ctx.Err() != nil {
		o.metrics.RecordProviderRequest(ctx, o.llmName, "llm", "error")
		span.SetStatus(codes.Error, ctx.Err().Error())
		return o.abort(ctx, t, d, fmt.Errorf("stream interrupted: %w", ctx.Err()))
	}
	o.metrics.RecordProviderRequest(ctx, o.llmName, "llm", "ok")
	o.metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())

	return o.finalize(ctx, t, d, seg, full.String())
}

// finalize speaks the tail, synthesizes the whole reply for replay, waits
// for live playback to be handed off and persists the assistant message.
func (o *Orchestrator) finalize(ctx context.Context, t *turn, d *dispatcher, seg *segment.Segmenter, reply string) (conversation.Message, error) {
	o.setState(Finalizing, t.id)

	if s, ok := seg.Flush(); ok {
		o.submit(d, t, s)
	}

	// Runs alongside the tail segments; muting only affects live playback.
	var full string
	if strings.TrimSpace(reply) != "" {
		b64, err := o.synthesize(ctx, "full", reply, t.settings.Voice)
		if err != nil {
			t.log.Warn("orchestrator: full reply synthesis failed, audio will be generated on demand", "err", err)
		} else {
			full = b64
		}
	}
	d.Wait()

	o.mu.Lock()
	msg := o.st.AppendMessage(conversation.Message{
		Role:        conversation.RoleAssistant,
		Content:     reply,
		Timestamp:   o.now().UnixMilli(),
		AudioBase64: full,
	})
	o.partial = ""
	o.mu.Unlock()

	o.persist(ctx)
	o.publish(Event{Type: EventDone, TurnID: t.id, Message: &msg})
	o.metrics.RecordTurn(ctx, observe.TurnCompleted)
	t.log.Info("orchestrator: turn completed",
		"replyLen", len(reply),
		"segments", d.Released(),
		"audio", msg.HasAudio(),
		"elapsed", o.now().Sub(t.started),
	)
	o.endTurn(t)
	return msg, nil
}

func (o *Orchestrator) submit(d *dispatcher, t *turn, s segment.Segment) {
	if o.Muted() {
		t.log.Debug("orchestrator: muted, segment not spoken", "seq", s.Seq)
		return
	}
	d.Submit(s)
}

func (o *Orchestrator) synthesizeSegment(ctx context.Context, t *turn, s segment.Segment) ([]byte, error) {
	b64, err := o.synthesize(ctx, "segment", s.Text, t.settings.Voice)
	if err != nil {
		return nil, err
	}
	pcm, err := audio.DecodeBase64(b64)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: segment %d: %w", s.Seq, err)
	}
	return pcm, nil
}

func (o *Orchestrator) playSegment(ctx context.Context, t *turn, s segment.Segment, pcm []byte) {
	sc, err := o.player.Enqueue(pcm)
	if err != nil {
		t.log.Error("orchestrator: schedule segment", "seq", s.Seq, "err", err)
		o.metrics.RecordSegment(ctx, observe.SegmentFailed)
		return
	}
	o.metrics.RecordSegment(ctx, observe.SegmentPlayed)
	o.metrics.SpeechScheduled.Add(ctx, sc.Duration.Seconds())
	t.log.Debug("orchestrator: segment scheduled", "seq", s.Seq, "start", sc.Start, "duration", sc.Duration)
	o.publish(Event{
		Type:       EventSegment,
		TurnID:     t.id,
		Seq:        s.Seq,
		Text:       s.Text,
		StartMs:    sc.Start.Milliseconds(),
		DurationMs: sc.Duration.Milliseconds(),
	})
}

// abort ends the turn after a stream failure. Nothing queued in d is played
// after this returns.
func (o *Orchestrator) abort(ctx context.Context, t *turn, d *dispatcher, cause error) (conversation.Message, error) {
	if d != nil {
		d.Abort()
		d.Wait()
	}
	o.mu.Lock()
	o.partial = ""
	o.mu.Unlock()

	t.log.Error("orchestrator: turn aborted", "err", cause)
	o.setState(ErrorAbort, t.id)
	o.publish(Event{Type: EventError, TurnID: t.id, Error: cause.Error()})
	o.metrics.RecordTurn(ctx, observe.TurnAborted)
	o.endTurn(t)
	return conversation.Message{}, fmt.Errorf("%w: %w", ErrNetwork, cause)
}

// endTurn returns to Idle.
func (o *Orchestrator) endTurn(t *turn) {
	o.mu.Lock()
	o.turnID = ""
	o.mu.Unlock()
	o.setState(Idle, t.id)
}

func toLLMHistory(msgs []conversation.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := llm.RoleUser
		if m.Role == conversation.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}
