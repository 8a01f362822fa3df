// Package wsdevice implements [audio.Device] on top of WebSocket listeners.
//
// The device clock is the time since the device was created. Every played
// frame is converted to the listener format once and pushed to every
// connected client as a JSON header message followed by one binary message
// with the PCM payload. Clients schedule the payload at Header.StartMs on
// their own clock, aligned using the NowMs field of the hello and reset
// messages.
//
// A client that falls behind loses frames rather than slowing playback for
// everyone else.
package wsdevice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/MrWong99/aura/pkg/audio"
)

// Message types sent in [Header.Type].
const (
	TypeHello   = "hello"
	TypeSegment = "segment"
	TypeReset   = "reset"
)

// ErrClosed is returned by Play after Close. It wraps [audio.ErrDevice].
var ErrClosed = fmt.Errorf("%w: websocket device closed", audio.ErrDevice)

// Header describes the binary message that follows it. Hello and reset
// messages are sent without a payload.
type Header struct {
	Type string `json:"type"`

	// NowMs is the device clock when the message was built.
	NowMs int64 `json:"nowMs"`

	// StartMs is the device-clock instant the payload must start playing.
	StartMs    int64 `json:"startMs,omitempty"`
	DurationMs int64 `json:"durationMs,omitempty"`

	SampleRate int `json:"sampleRate,omitempty"`
	Channels   int `json:"channels,omitempty"`
	Bytes      int `json:"bytes,omitempty"`
}

type outbound struct {
	header Header
	pcm    []byte
}

type listener struct {
	id string
	ch chan outbound
}

// Option configures a [Device].
type Option func(*Device)

// WithFormat sets the PCM format pushed to listeners. Defaults to
// [audio.SpeechFormat].
func WithFormat(f audio.Format) Option {
	return func(d *Device) { d.conv.Target = f }
}

// WithBuffer sets the per-listener queue length. Defaults to 64.
func WithBuffer(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.buffer = n
		}
	}
}

// WithWriteTimeout bounds a single WebSocket write. Defaults to 10 s.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(d *Device) {
		if timeout > 0 {
			d.writeTimeout = timeout
		}
	}
}

// WithAcceptOptions sets the options used to accept WebSocket upgrades
// (allowed origins, compression).
func WithAcceptOptions(o *websocket.AcceptOptions) Option {
	return func(d *Device) { d.accept = o }
}

// WithListenerHook registers a callback invoked with +1 and -1 as listeners
// connect and disconnect.
func WithListenerHook(fn func(delta int)) Option {
	return func(d *Device) { d.onListener = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Device) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

// Device is an [audio.Device] that fans audio out to WebSocket clients. It
// is also the http.Handler that accepts those clients.
type Device struct {
	now          func() time.Time
	start        time.Time
	buffer       int
	writeTimeout time.Duration
	accept       *websocket.AcceptOptions
	onListener   func(int)
	log          *slog.Logger
	conv         audio.Converter

	mu        sync.Mutex
	listeners map[string]*listener
	closed    bool
}

var (
	_ audio.Device = (*Device)(nil)
	_ http.Handler = (*Device)(nil)
)

// New creates a Device whose clock starts now.
func New(opts ...Option) *Device {
	d := &Device{
		now:          time.Now,
		buffer:       64,
		writeTimeout: 10 * time.Second,
		log:          slog.Default(),
		conv:         audio.Converter{Target: audio.SpeechFormat},
		listeners:    make(map[string]*listener),
	}
	for _, o := range opts {
		o(d)
	}
	d.start = d.now()
	return d
}

// Now implements [audio.Device].
func (d *Device) Now() time.Duration {
	return d.now().Sub(d.start)
}

// Play implements [audio.Device]. With no listeners connected the frame is
// discarded and Play succeeds; the clock keeps running either way.
func (d *Device) Play(at time.Duration, frame audio.AudioFrame) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	ls := make([]*listener, 0, len(d.listeners))
	for _, l := range d.listeners {
		ls = append(ls, l)
	}
	d.mu.Unlock()

	if len(ls) == 0 {
		return nil
	}

	out := d.conv.Convert(frame)
	msg := outbound{
		header: Header{
			Type:       TypeSegment,
			NowMs:      d.Now().Milliseconds(),
			StartMs:    at.Milliseconds(),
			DurationMs: frame.Duration().Milliseconds(),
			SampleRate: out.SampleRate,
			Channels:   out.Channels,
			Bytes:      len(out.Data),
		},
		pcm: out.Data,
	}
	d.broadcast(ls, msg)
	return nil
}

// Reset tells listeners that a new utterance starts at the given device
// instant so they can drop queued audio from the previous one.
func (d *Device) Reset(at time.Duration) {
	d.mu.Lock()
	ls := make([]*listener, 0, len(d.listeners))
	for _, l := range d.listeners {
		ls = append(ls, l)
	}
	d.mu.Unlock()

	d.broadcast(ls, outbound{header: Header{
		Type:    TypeReset,
		NowMs:   d.Now().Milliseconds(),
		StartMs: at.Milliseconds(),
	}})
}

func (d *Device) broadcast(ls []*listener, msg outbound) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, l := range ls {
		if _, ok := d.listeners[l.id]; !ok {
			continue
		}
		select {
		case l.ch <- msg:
		default:
			d.log.Warn("wsdevice: listener too slow, dropping message", "listener", l.id, "type", msg.header.Type)
		}
	}
}

// Listeners returns the number of connected clients.
func (d *Device) Listeners() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners)
}

// Close disconnects every listener. Play fails afterwards.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for id, l := range d.listeners {
		close(l.ch)
		delete(d.listeners, id)
		if d.onListener != nil {
			d.onListener(-1)
		}
	}
	return nil
}

func (d *Device) add() (*listener, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	l := &listener{id: uuid.NewString(), ch: make(chan outbound, d.buffer)}
	d.listeners[l.id] = l
	if d.onListener != nil {
		d.onListener(1)
	}
	return l, nil
}

func (d *Device) remove(l *listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.listeners[l.id]; !ok {
		return
	}
	delete(d.listeners, l.id)
	close(l.ch)
	if d.onListener != nil {
		d.onListener(-1)
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams audio to it
// until the client goes away or the device is closed. Messages from the
// client are ignored.
func (d *Device) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, d.accept)
	if err != nil {
		d.log.Warn("wsdevice: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer c.CloseNow()

	l, err := d.add()
	if err != nil {
		c.Close(websocket.StatusGoingAway, "device closed")
		return
	}
	defer d.remove(l)

	log := d.log.With("listener", l.id, "remote", r.RemoteAddr)
	log.Info("wsdevice: listener connected")

	ctx := c.CloseRead(r.Context())
	hello := outbound{header: Header{
		Type:       TypeHello,
		NowMs:      d.Now().Milliseconds(),
		SampleRate: d.conv.Target.SampleRate,
		Channels:   d.conv.Target.Channels,
	}}
	if err := d.write(ctx, c, hello); err != nil {
		log.Debug("wsdevice: hello failed", "err", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("wsdevice: listener disconnected")
			return
		case msg, ok := <-l.ch:
			if !ok {
				c.Close(websocket.StatusGoingAway, "device closed")
				return
			}
			if err := d.write(ctx, c, msg); err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Warn("wsdevice: write failed", "err", err)
				}
				return
			}
		}
	}
}

func (d *Device) write(ctx context.Context, c *websocket.Conn, msg outbound) error {
	ctx, cancel := context.WithTimeout(ctx, d.writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c, msg.header); err != nil {
		return fmt.Errorf("wsdevice: write header: %w", err)
	}
	if len(msg.pcm) == 0 {
		return nil
	}
	if err := c.Write(ctx, websocket.MessageBinary, msg.pcm); err != nil {
		return fmt.Errorf("wsdevice: write audio: %w", err)
	}
	return nil
}
