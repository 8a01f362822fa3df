// Package observe provides Aura's observability primitives: OpenTelemetry
// metrics, tracing helpers, trace-aware logging and the HTTP middleware that
// ties them together.
//
// Metrics go through the OpenTelemetry Metrics API and are exposed on
// /metrics by the Prometheus exporter bridge installed by [InitProvider].
// Tests should build their own [Metrics] with [NewMetrics] and a manual
// reader instead of touching [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/aura"

// Turn outcomes for [Metrics.RecordTurn].
const (
	TurnCompleted = "completed"
	TurnAborted   = "aborted"
	TurnRejected  = "rejected"
)

// Segment outcomes for [Metrics.RecordSegment].
const (
	SegmentPlayed  = "played"
	SegmentFailed  = "failed"
	SegmentDropped = "dropped"
)

// Metrics holds every instrument Aura records. The OTel types handle their
// own synchronisation.
type Metrics struct {
	// LLMTimeToFirstToken is the delay between sending a message and the
	// first text delta.
	LLMTimeToFirstToken metric.Float64Histogram

	// LLMDuration is the full streaming time of a reply.
	LLMDuration metric.Float64Histogram

	// TTSDuration is the latency of one synthesis call, by "kind"
	// (segment, full, replay).
	TTSDuration metric.Float64Histogram

	// ProviderRequests counts provider calls by provider, kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures by provider and kind.
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by provider
	// and target state.
	BreakerTransitions metric.Int64Counter

	// Turns counts conversation turns by outcome.
	Turns metric.Int64Counter

	// Segments counts spoken segments by outcome.
	Segments metric.Int64Counter

	// SpeechScheduled accumulates the seconds of audio handed to the device.
	SpeechScheduled metric.Float64Counter

	// ActiveTurns is 1 while a reply is streaming.
	ActiveTurns metric.Int64UpDownCounter

	// ActiveListeners is the number of connected audio clients.
	ActiveListeners metric.Int64UpDownCounter

	// StoreSaveDuration is the latency of persisting the user state, by
	// backend.
	StoreSaveDuration metric.Float64Histogram

	// HTTPRequestDuration is request latency by method and route.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds tuned for hosted model
// round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 0.75, 1, 1.5, 2.5, 5, 10, 20,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.LLMTimeToFirstToken, err = histogram("aura.llm.time_to_first_token",
		"Delay until the first streamed text delta."); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = histogram("aura.llm.duration",
		"Total streaming time of a reply."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = histogram("aura.tts.duration",
		"Latency of one speech synthesis call."); err != nil {
		return nil, err
	}
	if met.StoreSaveDuration, err = histogram("aura.store.save.duration",
		"Latency of persisting the user state."); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("aura.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("aura.provider.requests",
		metric.WithDescription("Provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("aura.provider.errors",
		metric.WithDescription("Provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("aura.provider.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider and target state."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("aura.turns",
		metric.WithDescription("Conversation turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("aura.segments",
		metric.WithDescription("Spoken sentence segments by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SpeechScheduled, err = m.Float64Counter("aura.audio.scheduled",
		metric.WithDescription("Seconds of speech scheduled on the output device."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.ActiveTurns, err = m.Int64UpDownCounter("aura.active_turns",
		metric.WithDescription("Replies currently streaming."),
	); err != nil {
		return nil, err
	}
	if met.ActiveListeners, err = m.Int64UpDownCounter("aura.active_listeners",
		metric.WithDescription("Connected audio clients."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first use
// from [otel.GetMeterProvider]. Call it after [InitProvider] so the
// instruments land on the Prometheus-backed provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one provider call. status is "ok" or "error";
// errors are also counted in ProviderErrors.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider), Attr("kind", kind), Attr("status", status),
	))
	if status == "error" {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)))
	}
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("state", to)))
}

// RecordTurn counts a finished turn.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordSegment counts a segment outcome.
func (m *Metrics) RecordSegment(ctx context.Context, outcome string) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordTTS records one synthesis latency.
func (m *Metrics) RecordTTS(ctx context.Context, kind string, seconds float64) {
	m.TTSDuration.Record(ctx, seconds, metric.WithAttributes(Attr("kind", kind)))
}

// RecordStoreSave records one persistence latency.
func (m *Metrics) RecordStoreSave(ctx context.Context, backend string, seconds float64) {
	m.StoreSaveDuration.Record(ctx, seconds, metric.WithAttributes(Attr("backend", backend)))
}
