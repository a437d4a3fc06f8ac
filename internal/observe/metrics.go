// Package observe provides application-wide observability primitives for
// voxloop: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. [Metrics] implements
// [dialogue.Metrics], so a single instance serves both the conversation
// pipeline and the HTTP surface; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxloop/voxloop/internal/dialogue"
)

// meterName is the instrumentation scope name used for all voxloop metrics.
const meterName = "github.com/voxloop/voxloop"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Per-turn latency histograms ---

	// TurnVADToLLM tracks the gap between end of caller speech and the
	// LLM request.
	TurnVADToLLM metric.Float64Histogram

	// TurnLLMFirstToken tracks LLM time-to-first-token.
	TurnLLMFirstToken metric.Float64Histogram

	// TurnTokenToAudio tracks the gap between the first LLM token and the
	// first synthesized audio frame.
	TurnTokenToAudio metric.Float64Histogram

	// TurnEndToEnd tracks end of caller speech to first audio frame.
	TurnEndToEnd metric.Float64Histogram

	// --- Counters ---

	// Turns counts dispatched turns.
	Turns metric.Int64Counter

	// Interrupts counts barge-in interrupts.
	Interrupts metric.Int64Counter

	// ProviderErrors counts upstream failures. Use with attribute:
	//   attribute.String("stage", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live call sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
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
	if met.TurnVADToLLM, err = m.Float64Histogram("voxloop.turn.vad_to_llm",
		metric.WithDescription("End of caller speech to LLM request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnLLMFirstToken, err = m.Float64Histogram("voxloop.turn.llm_first_token",
		metric.WithDescription("LLM request to first token."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnTokenToAudio, err = m.Float64Histogram("voxloop.turn.token_to_audio",
		metric.WithDescription("First LLM token to first synthesized audio frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnEndToEnd, err = m.Float64Histogram("voxloop.turn.end_to_end",
		metric.WithDescription("End of caller speech to first audio frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("voxloop.turns",
		metric.WithDescription("Total dispatched turns."),
	); err != nil {
		return nil, err
	}
	if met.Interrupts, err = m.Int64Counter("voxloop.interrupts",
		metric.WithDescription("Total barge-in interrupts."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxloop.provider.errors",
		metric.WithDescription("Total upstream failures by pipeline stage."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxloop.sessions.active",
		metric.WithDescription("Number of live call sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxloop.http.request.duration",
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

// ---- dialogue.Metrics ----

// SessionStarted implements [dialogue.Metrics].
func (m *Metrics) SessionStarted() {
	m.ActiveSessions.Add(context.Background(), 1)
}

// SessionEnded implements [dialogue.Metrics].
func (m *Metrics) SessionEnded() {
	m.ActiveSessions.Add(context.Background(), -1)
}

// TurnStarted implements [dialogue.Metrics].
func (m *Metrics) TurnStarted() {
	m.Turns.Add(context.Background(), 1)
}

// TurnCompleted implements [dialogue.Metrics] by recording all four latency
// deltas of a clean turn.
func (m *Metrics) TurnCompleted(d dialogue.TurnDeltas) {
	ctx := context.Background()
	m.TurnVADToLLM.Record(ctx, d.VADToLLM.Seconds())
	m.TurnLLMFirstToken.Record(ctx, d.LLMFirstToken.Seconds())
	m.TurnTokenToAudio.Record(ctx, d.TokenToAudio.Seconds())
	m.TurnEndToEnd.Record(ctx, d.EndToEnd.Seconds())
}

// Interrupted implements [dialogue.Metrics].
func (m *Metrics) Interrupted() {
	m.Interrupts.Add(context.Background(), 1)
}

// ProviderError implements [dialogue.Metrics].
func (m *Metrics) ProviderError(stage string) {
	m.ProviderErrors.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

var _ dialogue.Metrics = (*Metrics)(nil)
