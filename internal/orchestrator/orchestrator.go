// Package orchestrator drives one conversation turn from user text to spoken
// reply.
//
// A turn streams the model reply, splits it into sentences as it arrives and
// speaks each sentence as soon as its audio is ready, in order and without
// gaps. When the stream ends the whole reply is synthesized once more so it
// can be replayed or downloaded later, then the assistant message is
// persisted.
//
// Only one turn runs at a time. States move
//
//	Idle → AwaitingStreamStart → Streaming → Finalizing → Idle
//
// and any stream failure goes through ErrorAbort back to Idle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/aura/internal/conversation"
	"github.com/MrWong99/aura/internal/observe"
	"github.com/MrWong99/aura/internal/store"
	"github.com/MrWong99/aura/pkg/audio/scheduler"
	"github.com/MrWong99/aura/pkg/provider/llm"
	"github.com/MrWong99/aura/pkg/provider/tts"
)

var (
	// ErrNetwork wraps every failure that aborts a turn: the stream could not
	// be started, reported an error, or was cut off.
	ErrNetwork = errors.New("orchestrator: network error")

	// ErrBusy is returned when a turn is already in progress.
	ErrBusy = errors.New("orchestrator: a reply is already in progress")

	// ErrEmptyMessage is returned for blank user text.
	ErrEmptyMessage = errors.New("orchestrator: message is empty")

	// ErrEmptyName is returned by SetName for a blank name.
	ErrEmptyName = errors.New("orchestrator: name is empty")
)

// State is the turn state.
type State string

const (
	Idle                State = "idle"
	AwaitingStreamStart State = "awaiting_stream_start"
	Streaming           State = "streaming"
	Finalizing          State = "finalizing"
	ErrorAbort          State = "error_abort"
)

// Active reports whether a turn is running. The UI shows its typing
// indicator while this is true.
func (s State) Active() bool { return s != Idle && s != "" }

// Player schedules decoded speech. [*scheduler.Scheduler] implements it.
type Player interface {
	Enqueue(pcm []byte) (scheduler.Scheduled, error)
	ResetCursor()
}

var _ Player = (*scheduler.Scheduler)(nil)

// Persona is the instruction and sampling used for completions.
type Persona struct {
	SystemPrompt string
	Temperature  float64
	TopP         float64
	MaxTokens    int
}

// Voice selects how replies are spoken.
type Voice struct {
	Name string

	// StylePrefix is the delivery instruction sent with every synthesis.
	StylePrefix string
}

// Settings are the live-reloadable parts of the orchestrator.
type Settings struct {
	Persona            Persona
	Voice              Voice
	MaxConcurrentSynth int
}

// DefaultMaxConcurrentSynth bounds in-flight segment synthesis per turn.
const DefaultMaxConcurrentSynth = 4

// Download is a full-turn audio file ready to hand to a client.
type Download struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithPersona sets the system prompt and sampling.
func WithPersona(p Persona) Option {
	return func(o *Orchestrator) { o.settings.Persona = p }
}

// WithSampling overrides temperature and top-p.
func WithSampling(temperature, topP float64) Option {
	return func(o *Orchestrator) {
		o.settings.Persona.Temperature = temperature
		o.settings.Persona.TopP = topP
	}
}

// WithVoice sets the synthesis voice and delivery prefix.
func WithVoice(name, stylePrefix string) Option {
	return func(o *Orchestrator) {
		o.settings.Voice = Voice{Name: name, StylePrefix: stylePrefix}
	}
}

// WithMaxConcurrentSynth bounds in-flight segment synthesis.
func WithMaxConcurrentSynth(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.settings.MaxConcurrentSynth = n
		}
	}
}

// WithMuted sets the initial mute state.
func WithMuted(muted bool) Option {
	return func(o *Orchestrator) { o.muted = muted }
}

// WithDefaultName sets the profile name used for a fresh state.
func WithDefaultName(name string) Option {
	return func(o *Orchestrator) {
		if name = strings.TrimSpace(name); name != "" {
			o.defaultName = name
		}
	}
}

// WithProviderNames labels provider metrics.
func WithProviderNames(llmName, ttsName string) Option {
	return func(o *Orchestrator) {
		o.llmName, o.ttsName = llmName, ttsName
	}
}

// WithStoreBackend labels store metrics.
func WithStoreBackend(name string) Option {
	return func(o *Orchestrator) { o.backend = name }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// Orchestrator owns the conversation state and runs turns against it. All
// methods are safe for concurrent use.
type Orchestrator struct {
	llm    llm.Provider
	tts    tts.Provider
	store  store.Store
	player Player

	metrics     *observe.Metrics
	now         func() time.Time
	log         *slog.Logger
	llmName     string
	ttsName     string
	backend     string
	defaultName string

	events *hub
	lazy   singleflight.Group

	// saveMu is held from snapshot to Save so saves land in snapshot order.
	saveMu sync.Mutex

	mu       sync.Mutex
	state    State
	partial  string
	turnID   string
	st       conversation.State
	settings Settings
	muted    bool
}

// New creates an Orchestrator. Call [Orchestrator.Load] before the first
// turn to pick up persisted state.
func New(l llm.Provider, t tts.Provider, s store.Store, p Player, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		llm:         l,
		tts:         t,
		store:       s,
		player:      p,
		now:         time.Now,
		log:         slog.Default(),
		llmName:     "llm",
		ttsName:     "tts",
		backend:     "store",
		defaultName: conversation.DefaultName,
		events:      newHub(),
		state:       Idle,
		st:          conversation.NewState(),
		settings:    Settings{MaxConcurrentSynth: DefaultMaxConcurrentSynth},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	o.st.Name = o.defaultName
	return o
}

// Load replaces the in-memory state with the stored one.
func (o *Orchestrator) Load(ctx context.Context) error {
	st, err := o.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: load state: %w", err)
	}
	st.Normalize()
	if st.Name == conversation.DefaultName && len(st.ChatHistory) == 0 && len(st.MoodHistory) == 0 {
		st.Name = o.defaultName
	}

	o.mu.Lock()
	o.st = st
	o.mu.Unlock()

	o.log.Info("orchestrator: state loaded", "messages", len(st.ChatHistory), "moods", len(st.MoodHistory))
	return nil
}

// Snapshot returns a deep copy of the conversation state.
func (o *Orchestrator) Snapshot() conversation.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.st.Clone()
}

// TurnState returns the current turn state.
func (o *Orchestrator) TurnState() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Partial returns the reply text streamed so far in the active turn.
func (o *Orchestrator) Partial() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.partial
}

// SetMuted toggles live sentence playback. Full-turn synthesis for replay
// and download still happens while muted.
func (o *Orchestrator) SetMuted(muted bool) {
	o.mu.Lock()
	o.muted = muted
	o.mu.Unlock()
	o.log.Info("orchestrator: mute changed", "muted", muted)
}

// Muted reports whether live playback is muted.
func (o *Orchestrator) Muted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.muted
}

// Settings returns the active settings.
func (o *Orchestrator) Settings() Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.settings
}

// Apply replaces the live settings. A running turn keeps the settings it
// started with.
func (o *Orchestrator) Apply(s Settings) {
	if s.MaxConcurrentSynth <= 0 {
		s.MaxConcurrentSynth = DefaultMaxConcurrentSynth
	}
	o.mu.Lock()
	o.settings = s
	o.mu.Unlock()
	o.log.Info("orchestrator: settings applied",
		"voice", s.Voice.Name,
		"temperature", s.Persona.Temperature,
		"topP", s.Persona.TopP,
		"maxConcurrentSynth", s.MaxConcurrentSynth,
	)
}

// SetName changes the profile name and persists it.
func (o *Orchestrator) SetName(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	o.mu.Lock()
	o.st.Name = name
	o.mu.Unlock()

	o.persist(ctx)
	return nil
}

// RecordMood appends e to the mood history and persists it. It returns
// [ErrBusy] while a turn is active, since a check-in is always followed by one.
func (o *Orchestrator) RecordMood(ctx context.Context, e conversation.MoodEntry) error {
	o.mu.Lock()
	if o.state.Active() {
		o.mu.Unlock()
		return ErrBusy
	}
	if err := o.st.AddMood(e); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	o.persist(ctx)
	return nil
}

// Subscribe registers a listener for turn events. Events are dropped for a
// listener whose buffer is full. The returned function unsubscribes and
// closes the channel.
func (o *Orchestrator) Subscribe(buffer int) (<-chan Event, func()) {
	return o.events.subscribe(buffer)
}

func (o *Orchestrator) publish(ev Event) {
	if n := o.events.publish(ev); n > 0 {
		o.log.Debug("orchestrator: slow subscriber dropped event", "type", ev.Type, "dropped", n)
	}
}

// setState moves to s and publishes the transition.
func (o *Orchestrator) setState(s State, turnID string) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.publish(Event{Type: EventState, TurnID: turnID, State: s})
}

// persist saves the current state. The snapshot is taken after any earlier
// save has finished, so a slow save never overwrites a newer state. Failures
// are logged and never abort the caller.
func (o *Orchestrator) persist(ctx context.Context) {
	o.saveMu.Lock()
	defer o.saveMu.Unlock()

	o.mu.Lock()
	snap := o.st.Clone()
	o.mu.Unlock()

	start := time.Now()
	err := o.store.Save(ctx, snap)
	o.metrics.RecordStoreSave(ctx, o.backend, time.Since(start).Seconds())
	if err != nil {
		observe.Logger(ctx).Error("orchestrator: persist state", "err", err)
	}
}

// synthesize runs one TTS request with the active voice.
func (o *Orchestrator) synthesize(ctx context.Context, kind, text string, v Voice) (string, error) {
	start := time.Now()
	b64, err := o.tts.Synthesize(ctx, tts.Request{Text: text, Voice: v.Name, Style: v.StylePrefix})
	o.metrics.RecordTTS(ctx, kind, time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.metrics.RecordProviderRequest(ctx, o.ttsName, "tts", status)
	if err != nil {
		return "", fmt.Errorf("orchestrator: synthesize %s: %w", kind, err)
	}
	return b64, nil
}

