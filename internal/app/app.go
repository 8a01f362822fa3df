// Package app wires all Aura subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until its context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/aura/internal/config"
	"github.com/MrWong99/aura/internal/health"
	"github.com/MrWong99/aura/internal/httpapi"
	"github.com/MrWong99/aura/internal/mood"
	"github.com/MrWong99/aura/internal/observe"
	"github.com/MrWong99/aura/internal/orchestrator"
	"github.com/MrWong99/aura/internal/resilience"
	"github.com/MrWong99/aura/internal/store"
	"github.com/MrWong99/aura/pkg/audio"
	"github.com/MrWong99/aura/pkg/audio/scheduler"
	"github.com/MrWong99/aura/pkg/audio/wsdevice"
	"github.com/MrWong99/aura/pkg/provider/llm"
	"github.com/MrWong99/aura/pkg/provider/tts"
)

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// Providers holds the provider chain for each slot. Populated by main.go via
// the config registry.
type Providers struct {
	LLM llm.Provider
	TTS tts.Provider

	// LLMName and TTSName label metrics and logs.
	LLMName string
	TTSName string

	// LLMStatus and TTSStatus report circuit breaker states for /readyz.
	// Nil when the provider is not wrapped in a fallback group.
	LLMStatus func() []resilience.EntryStatus
	TTSStatus func() []resilience.EntryStatus
}

// App owns all subsystem lifetimes.
type App struct {
	providers *Providers

	// mu guards cfg, which changes on config reload.
	mu  sync.Mutex
	cfg *config.Config

	store          store.Store
	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar
	configPath     string
	watchInterval  time.Duration

	device  *wsdevice.Device
	player  *scheduler.Scheduler
	orch    *orchestrator.Orchestrator
	tracker *mood.Tracker
	api     *httpapi.Server
	server  *http.Server

	// base is the context turns run on. It is cancelled last in Shutdown so
	// a reply in flight can finish while HTTP drains.
	base       context.Context
	cancelBase context.CancelFunc

	addrMu sync.Mutex
	addr   net.Addr

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithStore injects a state store instead of opening one from config. The
// App does not close an injected store.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics when observe.metrics is enabled.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigWatch makes Run poll path and apply live-reloadable changes.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together and loading the
// persisted conversation state.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil || providers.TTS == nil {
		return nil, errors.New("app: llm and tts providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.base, a.cancelBase = context.WithCancel(context.WithoutCancel(ctx))

	// ── 1. State store ───────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.cancelBase()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Audio output ──────────────────────────────────────────────────
	a.initAudio()

	// ── 3. Orchestrator + mood ───────────────────────────────────────────
	if err := a.initOrchestrator(ctx); err != nil {
		_ = a.Shutdown(ctx)
		return nil, fmt.Errorf("app: init orchestrator: %w", err)
	}

	// ── 4. HTTP ──────────────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	s, err := store.Open(ctx, store.Options{
		Backend: a.cfg.Store.Backend,
		DSN:     a.cfg.Store.DSN,
		Path:    a.cfg.Store.Path,
	})
	if err != nil {
		return err
	}
	a.store = s
	a.closers = append(a.closers, s.Close)
	return nil
}

func (a *App) initAudio() {
	a.device = wsdevice.New(
		wsdevice.WithFormat(audio.Format{SampleRate: a.cfg.Audio.OutputSampleRate, Channels: audio.Channels}),
		wsdevice.WithBuffer(a.cfg.Audio.ListenBuffer),
		wsdevice.WithListenerHook(func(delta int) {
			a.metrics.ActiveListeners.Add(context.Background(), int64(delta))
		}),
	)
	a.player = scheduler.New(a.device, scheduler.WithResetHook(a.device.Reset))
	// Device first so listeners disconnect before the store closes.
	a.closers = append([]func() error{a.device.Close}, a.closers...)
}

func (a *App) initOrchestrator(ctx context.Context) error {
	cfg := a.cfg
	backend := cfg.Store.Backend
	if backend == "" {
		backend = "default"
	}
	s := settingsFromConfig(cfg)
	a.orch = orchestrator.New(a.providers.LLM, a.providers.TTS, a.store, a.player,
		orchestrator.WithPersona(s.Persona),
		orchestrator.WithVoice(s.Voice.Name, s.Voice.StylePrefix),
		orchestrator.WithMaxConcurrentSynth(s.MaxConcurrentSynth),
		orchestrator.WithMuted(cfg.Voice.Muted),
		orchestrator.WithDefaultName(cfg.Persona.UserName),
		orchestrator.WithProviderNames(nameOr(a.providers.LLMName, cfg.Providers.LLM.Name), nameOr(a.providers.TTSName, cfg.Providers.TTS.Name)),
		orchestrator.WithStoreBackend(backend),
		orchestrator.WithMetrics(a.metrics),
	)
	if err := a.orch.Load(ctx); err != nil {
		return err
	}
	a.tracker = mood.New(a.orch)
	return nil
}

func (a *App) initHTTP() {
	checks := []health.Checker{health.PingCheck("store", a.store)}
	if a.providers.LLMStatus != nil {
		checks = append(checks, health.BreakerCheck("llm", a.providers.LLMStatus))
	}
	if a.providers.TTSStatus != nil {
		checks = append(checks, health.BreakerCheck("tts", a.providers.TTSStatus))
	}

	opts := []httpapi.Option{
		httpapi.WithBaseContext(a.base),
		httpapi.WithAudioHandler(a.device),
		httpapi.WithHealth(health.New(checks...)),
		httpapi.WithMetrics(a.metrics),
	}
	if a.cfg.Observe.Metrics && a.metricsHandler != nil {
		opts = append(opts, httpapi.WithMetricsHandler(a.metricsHandler))
	}
	a.api = httpapi.New(a.orch, a.tracker, opts...)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.api.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler served by Run.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Orchestrator returns the conversation orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Addr returns the address Run is listening on, or nil before it listens.
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and blocks until ctx is cancelled, then drains open
// requests within server.shutdown_timeout. It returns ctx.Err() after a
// clean stop.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()

	if a.configPath != "" {
		var wopts []config.WatcherOption
		if a.watchInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.watchInterval))
		}
		w, err := config.NewWatcher(a.configPath, func(_, next *config.Config) {
			a.ApplyConfig(next)
		}, wopts...)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("app: watch config: %w", err)
		}
		defer w.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.mu.Lock()
		timeout := a.cfg.Server.ShutdownTimeout
		a.mu.Unlock()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := a.server.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})

	slog.Info("app running", "listeners", a.device.Listeners())
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ApplyConfig switches to next and applies everything that can change while
// running. It returns what changed.
func (a *App) ApplyConfig(next *config.Config) config.ConfigDiff {
	a.mu.Lock()
	prev := a.cfg
	a.cfg = next
	a.mu.Unlock()

	d := config.Diff(prev, next)
	if d.PersonaChanged || d.VoiceChanged {
		a.orch.Apply(settingsFromConfig(next))
	}
	if d.MutedChanged {
		a.orch.SetMuted(next.Voice.Muted)
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(observe.ParseLevel(string(d.NewLogLevel)))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
	return d
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		defer a.cancelBase()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// settingsFromConfig converts the persona and voice sections.
func settingsFromConfig(cfg *config.Config) orchestrator.Settings {
	return orchestrator.Settings{
		Persona: orchestrator.Persona{
			SystemPrompt: cfg.Persona.SystemPrompt,
			Temperature:  cfg.Persona.Temperature,
			TopP:         cfg.Persona.TopP,
			MaxTokens:    cfg.Persona.MaxTokens,
		},
		Voice: orchestrator.Voice{
			Name:        cfg.Voice.Name,
			StylePrefix: cfg.Voice.StylePrefix,
		},
		MaxConcurrentSynth: cfg.Voice.MaxConcurrentSynth,
	}
}

func nameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}
