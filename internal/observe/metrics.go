// Package observe provides the gateway's observability primitives:
// OpenTelemetry metrics and tracing, trace-aware slog loggers, and the HTTP
// middleware that ties them together.
//
// Metrics go through the OpenTelemetry Metrics API and are exposed for
// Prometheus scraping via [InitProvider]. [DefaultMetrics] is bound to the
// global provider; tests should call [NewMetrics] with their own
// [metric.MeterProvider] so instruments do not leak between tests.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every gateway instrument.
const meterName = "github.com/MrWong99/mentrabridge"

// Metrics holds the gateway's metric instruments. The OTel types are safe
// for concurrent use.
type Metrics struct {
	// GateDecisions counts voice gate verdicts. Attributes: reason, accepted.
	GateDecisions metric.Int64Counter

	// Dispatches counts agent dispatches. Attributes: kind (text|photo),
	// status (ok|error|empty).
	Dispatches metric.Int64Counter

	// DispatchDuration is the time from envelope hand-off until the agent
	// finished streaming.
	DispatchDuration metric.Float64Histogram

	// AgentReplies counts streamed reply chunks. Attribute: kind.
	AgentReplies metric.Int64Counter

	// SpeakRequests counts speech sent to devices. Attributes: track, status.
	SpeakRequests metric.Int64Counter

	// ActiveSessions tracks connected device sessions.
	ActiveSessions metric.Int64UpDownCounter

	// EventsDropped counts device events discarded because a session queue
	// was full.
	EventsDropped metric.Int64Counter

	// BreakerTransitions counts agent circuit breaker state changes.
	// Attribute: to.
	BreakerTransitions metric.Int64Counter

	// HTTPRequestDuration tracks HTTP handling time. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Agent turns commonly
// take several seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.GateDecisions, err = m.Int64Counter("mentrabridge.gate.decisions",
		metric.WithDescription("Voice gate decisions by reason."),
	); err != nil {
		return nil, err
	}
	if met.Dispatches, err = m.Int64Counter("mentrabridge.dispatch.requests",
		metric.WithDescription("Agent dispatches by input kind and status."),
	); err != nil {
		return nil, err
	}
	if met.DispatchDuration, err = m.Float64Histogram("mentrabridge.dispatch.duration",
		metric.WithDescription("Latency of a full agent turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AgentReplies, err = m.Int64Counter("mentrabridge.agent.replies",
		metric.WithDescription("Reply chunks streamed by the agent backend, by kind."),
	); err != nil {
		return nil, err
	}
	if met.SpeakRequests, err = m.Int64Counter("mentrabridge.speak.requests",
		metric.WithDescription("Speech requests sent to devices by track and status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("mentrabridge.active_sessions",
		metric.WithDescription("Number of connected device sessions."),
	); err != nil {
		return nil, err
	}
	if met.EventsDropped, err = m.Int64Counter("mentrabridge.events.dropped",
		metric.WithDescription("Device events dropped because the session queue was full."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("mentrabridge.breaker.transitions",
		metric.WithDescription("Agent circuit breaker transitions by target state."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("mentrabridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] bound to
// [otel.GetMeterProvider], creating it on first use. It panics if an
// instrument cannot be created.
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

// RecordGateDecision counts one voice gate verdict.
func (m *Metrics) RecordGateDecision(ctx context.Context, reason string, accepted bool) {
	m.GateDecisions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("reason", reason),
			attribute.Bool("accepted", accepted),
		),
	)
}

// RecordDispatch counts one agent turn and its latency.
func (m *Metrics) RecordDispatch(ctx context.Context, kind, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.Dispatches.Add(ctx, 1, attrs)
	m.DispatchDuration.Record(ctx, seconds, attrs)
}

// RecordAgentReply counts one streamed reply chunk.
func (m *Metrics) RecordAgentReply(ctx context.Context, kind string) {
	m.AgentReplies.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSpeak counts one speech request.
func (m *Metrics) RecordSpeak(ctx context.Context, track, status string) {
	m.SpeakRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("track", track),
			attribute.String("status", status),
		),
	)
}

// RecordBreakerTransition counts one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}
