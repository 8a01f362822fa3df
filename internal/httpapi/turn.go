package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/aura/internal/conversation"
	"github.com/MrWong99/aura/internal/mood"
	"github.com/MrWong99/aura/internal/observe"
	"github.com/MrWong99/aura/internal/orchestrator"
)

type chatRequest struct {
	Text string `json:"text"`
}

type moodRequest struct {
	Score int    `json:"score"`
	Note  string `json:"note"`
}

// turnResult is what a turn goroutine reports when it returns.
type turnResult struct {
	entry *conversation.MoodEntry
	err   error
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if s.conv.TurnState().Active() {
		respondTurnError(w, orchestrator.ErrBusy)
		return
	}
	s.streamTurn(w, r, func(ctx context.Context) turnResult {
		_, err := s.conv.Send(ctx, req.Text)
		return turnResult{err: err}
	})
}

func (s *Server) handleMood(w http.ResponseWriter, r *http.Request) {
	var req moodRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if _, err := mood.Label(req.Score); err != nil {
		respondTurnError(w, err)
		return
	}
	if s.conv.TurnState().Active() {
		respondTurnError(w, orchestrator.ErrBusy)
		return
	}
	s.streamTurn(w, r, func(ctx context.Context) turnResult {
		e, _, err := s.mood.Record(ctx, req.Score, req.Note)
		res := turnResult{err: err}
		if e.Timestamp != 0 {
			res.entry = &e
		}
		return res
	})
}

// streamTurn runs fn on the base context and relays the turn's events as
// server-sent events. Rejections that happen before the turn starts (busy,
// empty text) are answered with a plain JSON error instead.
//
// A client that disconnects stops receiving events; the turn itself runs to
// completion.
func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context) turnResult) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response does not support streaming")
		return
	}

	events, unsubscribe := s.conv.Subscribe(s.eventBuffer)
	defer unsubscribe()

	ctx := mergeValues(s.base, r.Context())
	done := make(chan turnResult, 1)
	go func() { done <- fn(ctx) }()

	var (
		first   orchestrator.Event
		haveEvt bool
		res     turnResult
		settled bool
	)
	select {
	case first, haveEvt = <-events:
	case res = <-done:
		settled = true
		if rejected(res.err) {
			status, code := turnErrorStatus(res.err)
			respondJSON(w, status, errorResponse{Error: res.err.Error(), Code: code, Mood: res.entry})
			return
		}
	case <-r.Context().Done():
		return
	}

	setupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	sse := &sseWriter{w: w, flusher: flusher}
	if haveEvt {
		sse.event(first)
	}

	if !settled {
	loop:
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					res = <-done
					break loop
				}
				sse.event(ev)
			case res = <-done:
				break loop
			case <-r.Context().Done():
				observe.Logger(r.Context()).Debug("httpapi: client left, turn continues")
				return
			}
		}
	}

	// Events published before fn returned are already buffered.
	for drained := false; !drained; {
		select {
		case ev, ok := <-events:
			if !ok {
				drained = true
				continue
			}
			sse.event(ev)
		default:
			drained = true
		}
	}

	if res.entry != nil {
		sse.send("mood", res.entry)
	}
	if res.err != nil && !sse.terminal {
		sse.send(string(orchestrator.EventError), orchestrator.Event{
			Type:  orchestrator.EventError,
			Error: res.err.Error(),
		})
	}
	if sse.err != nil {
		s.log.Debug("httpapi: event stream write failed", "err", sse.err)
	}
}

// rejected reports errors returned before a turn publishes anything.
func rejected(err error) bool {
	return errors.Is(err, orchestrator.ErrBusy) || errors.Is(err, orchestrator.ErrEmptyMessage)
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

type sseWriter struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	turnID   string
	terminal bool
	err      error
}

// event relays ev unless it belongs to a different turn than the first one
// seen.
func (s *sseWriter) event(ev orchestrator.Event) {
	if ev.TurnID != "" {
		if s.turnID == "" {
			s.turnID = ev.TurnID
		} else if ev.TurnID != s.turnID {
			return
		}
	}
	if ev.Type == orchestrator.EventDone || ev.Type == orchestrator.EventError {
		s.terminal = true
	}
	s.send(string(ev.Type), ev)
}

func (s *sseWriter) send(name string, v any) {
	if s.err != nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.err = fmt.Errorf("marshal %s event: %w", name, err)
		return
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		s.err = err
		return
	}
	s.flusher.Flush()
}

// valueCtx carries the lifetime of base and the values of vals, so a turn
// keeps the request's trace but is not cancelled with it.
type valueCtx struct {
	context.Context
	vals context.Context
}

func (c valueCtx) Value(key any) any {
	if v := c.vals.Value(key); v != nil {
		return v
	}
	return c.Context.Value(key)
}

func mergeValues(base, vals context.Context) context.Context {
	return valueCtx{Context: base, vals: context.WithoutCancel(vals)}
}
