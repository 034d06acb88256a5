// Package observe provides application-wide observability primitives for
// Mnemoxa: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Mnemoxa metrics.
const meterName = "github.com/MrWong99/mnemoxa"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ChatTurnDuration tracks end-to-end chat turn latency (message in,
	// reply out, memory writes included).
	ChatTurnDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// MemoryOpDuration tracks memory provider operation latency. Use with
	// attributes:
	//   attribute.String("provider", ...), attribute.String("op", ...)
	MemoryOpDuration metric.Float64Histogram

	// --- Counters ---

	// MemoryRequests counts memory provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("op", ...), attribute.String("status", ...)
	MemoryRequests metric.Int64Counter

	// MemoryDegradations counts memory provider failures that were absorbed
	// by returning an empty result. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("op", ...)
	MemoryDegradations metric.Int64Counter

	// ChatTurns counts completed chat turns. Use with attribute:
	//   attribute.String("status", ...)
	ChatTurns metric.Int64Counter

	// --- Gauges ---

	// ActiveAgents tracks the number of per-user agents currently cached.
	ActiveAgents metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for chat-turn latencies dominated by LLM inference and remote memory calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ChatTurnDuration, err = m.Float64Histogram("mnemoxa.chat.turn.duration",
		metric.WithDescription("End-to-end latency of one chat turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("mnemoxa.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MemoryOpDuration, err = m.Float64Histogram("mnemoxa.memory.op.duration",
		metric.WithDescription("Latency of memory provider operations by provider and op."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.MemoryRequests, err = m.Int64Counter("mnemoxa.memory.requests",
		metric.WithDescription("Total memory provider requests by provider, op, and status."),
	); err != nil {
		return nil, err
	}
	if met.MemoryDegradations, err = m.Int64Counter("mnemoxa.memory.degradations",
		metric.WithDescription("Total memory provider failures absorbed by returning empty results."),
	); err != nil {
		return nil, err
	}
	if met.ChatTurns, err = m.Int64Counter("mnemoxa.chat.turns",
		metric.WithDescription("Total completed chat turns by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveAgents, err = m.Int64UpDownCounter("mnemoxa.active_agents",
		metric.WithDescription("Number of per-user agents currently cached."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("mnemoxa.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// MemoryOpAttrs builds the standard attribute set for memory operation
// measurements.
func MemoryOpAttrs(provider, op string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("op", op),
	)
}

// ChatTurnAttrs builds the standard attribute set for chat turn
// measurements.
func ChatTurnAttrs(status string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("status", status))
}

// RecordMemoryRequest is a convenience method that records a memory provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordMemoryRequest(ctx context.Context, provider, op, status string) {
	m.MemoryRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

// RecordMemoryDegradation is a convenience method that records a degradation
// counter increment.
func (m *Metrics) RecordMemoryDegradation(ctx context.Context, provider, op string) {
	m.MemoryDegradations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("op", op),
		),
	)
}

// RecordChatTurn is a convenience method that records a completed chat turn.
func (m *Metrics) RecordChatTurn(ctx context.Context, status string) {
	m.ChatTurns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
