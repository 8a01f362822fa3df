// Package httpapi exposes Aura over HTTP.
//
// Turns are driven through server-sent events: POST /api/chat and
// POST /api/mood answer with a text/event-stream that carries the
// orchestrator events of the turn they started. Audio is not part of these
// responses; it is pushed to the listeners of GET /ws/audio.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/aura/internal/conversation"
	"github.com/MrWong99/aura/internal/health"
	"github.com/MrWong99/aura/internal/observe"
	"github.com/MrWong99/aura/internal/orchestrator"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// Conversation is the orchestrator surface the API drives.
type Conversation interface {
	Send(ctx context.Context, text string) (conversation.Message, error)
	Subscribe(buffer int) (<-chan orchestrator.Event, func())
	Snapshot() conversation.State
	TurnState() orchestrator.State
	Partial() string
	Muted() bool
	SetMuted(muted bool)
	SetName(ctx context.Context, name string) error
	Replay(ctx context.Context, ts int64) error
	Download(ctx context.Context, ts int64) (orchestrator.Download, error)
}

// MoodRecorder records a check-in and sends it as a chat turn.
type MoodRecorder interface {
	Record(ctx context.Context, score int, note string) (conversation.MoodEntry, conversation.Message, error)
}

var _ Conversation = (*orchestrator.Orchestrator)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithBaseContext sets the context turns run on. Turns outlive the request
// that started them and stop only when this context is cancelled.
// Defaults to context.Background().
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) {
		if ctx != nil {
			s.base = ctx
		}
	}
}

// WithAudioHandler mounts h on GET /ws/audio.
func WithAudioHandler(h http.Handler) Option {
	return func(s *Server) { s.audio = h }
}

// WithHealth mounts the liveness and readiness probes.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics enables the request middleware recording into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithEventBuffer sets the per-request event subscription buffer.
func WithEventBuffer(n int) Option {
	return func(s *Server) { s.eventBuffer = n }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// Server routes the Aura API.
type Server struct {
	conv Conversation
	mood MoodRecorder

	base           context.Context
	audio          http.Handler
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	eventBuffer    int
	log            *slog.Logger
}

// New creates a Server.
func New(conv Conversation, mood MoodRecorder, opts ...Option) *Server {
	s := &Server{
		conv:        conv,
		mood:        mood,
		base:        context.Background(),
		eventBuffer: orchestrator.DefaultSubscriberBuffer * 4,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	if s.metrics != nil {
		r.Use(observe.Middleware(s.metrics))
	}

	if s.health != nil {
		s.health.Register(r)
	}
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}
	if s.audio != nil {
		r.Method(http.MethodGet, "/ws/audio", s.audio)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Get("/state", s.handleState)
		r.Put("/profile", s.handleProfile)
		r.Post("/mood", s.handleMood)
		r.Put("/settings/mute", s.handleMute)
		r.Post("/messages/{ts}/replay", s.handleReplay)
		r.Get("/messages/{ts}/audio", s.handleAudio)
	})
	return r
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`

	// Mood is set when a check-in was stored but its chat turn was rejected.
	Mood *conversation.MoodEntry `json:"mood,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondTurnError maps orchestrator and conversation errors to statuses.
func respondTurnError(w http.ResponseWriter, err error) {
	status, code := turnErrorStatus(err)
	respondError(w, status, code, err.Error())
}

func turnErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, orchestrator.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, orchestrator.ErrEmptyMessage),
		errors.Is(err, orchestrator.ErrEmptyName),
		errors.Is(err, conversation.ErrInvalidScore):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, conversation.ErrMessageNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, conversation.ErrNotAssistant):
		return http.StatusUnprocessableEntity, "not_assistant"
	default:
		return http.StatusBadGateway, "upstream"
	}
}

func badRequest(w http.ResponseWriter, err error) {
	msg := "invalid JSON body"
	if errors.Is(err, errEmptyBody) {
		msg = "request body is empty"
	} else if err != nil {
		msg = strings.TrimSpace(err.Error())
	}
	respondError(w, http.StatusBadRequest, "invalid_request", msg)
}
