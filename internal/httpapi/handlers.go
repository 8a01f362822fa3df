package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/aura/internal/conversation"
	"github.com/MrWong99/aura/internal/mood"
	"github.com/MrWong99/aura/internal/observe"
	"github.com/MrWong99/aura/internal/orchestrator"
)

type stateResponse struct {
	conversation.State

	TurnState orchestrator.State `json:"turnState"`
	Partial   string             `json:"partial,omitempty"`
	Muted     bool               `json:"muted"`
	Mood      mood.Summary       `json:"mood"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	st := s.conv.Snapshot()
	respondJSON(w, http.StatusOK, stateResponse{
		State:     st,
		TurnState: s.conv.TurnState(),
		Partial:   s.conv.Partial(),
		Muted:     s.conv.Muted(),
		Mood:      mood.Summarize(st.MoodHistory),
	})
}

type profileRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.conv.SetName(r.Context(), req.Name); err != nil {
		respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, profileRequest{Name: strings.TrimSpace(req.Name)})
}

type muteRequest struct {
	Muted *bool `json:"muted"`
}

type muteResponse struct {
	Muted bool `json:"muted"`
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if req.Muted == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "muted is required")
		return
	}
	s.conv.SetMuted(*req.Muted)
	observe.Logger(r.Context()).Info("httpapi: mute changed", "muted", *req.Muted)
	respondJSON(w, http.StatusOK, muteResponse{Muted: *req.Muted})
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	ts, ok := timestampParam(w, r)
	if !ok {
		return
	}
	if err := s.conv.Replay(r.Context(), ts); err != nil {
		respondTurnError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	ts, ok := timestampParam(w, r)
	if !ok {
		return
	}
	dl, err := s.conv.Download(r.Context(), ts)
	if err != nil {
		respondTurnError(w, err)
		return
	}
	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+dl.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(dl.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(dl.Data)
}

func timestampParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	ts, err := strconv.ParseInt(chi.URLParam(r, "ts"), 10, 64)
	if err != nil || ts <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "timestamp must be a positive integer")
		return 0, false
	}
	return ts, true
}
