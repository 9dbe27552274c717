// Package observe provides application-wide observability primitives for
// Kepler: OpenTelemetry metrics, tracing helpers, and structured-logging
// glue.
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

// meterName is the instrumentation scope name used for all Kepler metrics.
const meterName = "github.com/MrWong99/kepler"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks per-stage pipeline latency. Use with attribute:
	//   attribute.String("stage", ...) — "smooth", "premerge", "correct", "postmerge", ...
	StageDuration metric.Float64Histogram

	// LLMDuration tracks oracle round-trip latency per correction chunk.
	LLMDuration metric.Float64Histogram

	// EvaluationDuration tracks end-to-end content evaluation latency.
	EvaluationDuration metric.Float64Histogram

	// --- Counters ---

	// CorrectionChunks counts correction batches sent to the oracle. Use with
	// attribute: attribute.String("status", ...) — "ok", "degraded".
	CorrectionChunks metric.Int64Counter

	// ParseOutcomes counts response-parse attempts by recovery tier. Use with
	// attribute: attribute.String("tier", ...) — "strict", "extract", "salvage", "failed".
	ParseOutcomes metric.Int64Counter

	// UnitsDegraded counts utterances whose corrected text fell back to the
	// original recogniser output.
	UnitsDegraded metric.Int64Counter

	// --- Gauges ---

	// InFlightRequests tracks concurrently outstanding oracle requests.
	InFlightRequests metric.Int64UpDownCounter

	// ActiveTasks tracks refinement tasks currently running.
	ActiveTasks metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Oracle
// round-trips for a full chunk routinely take multiple seconds, so the upper
// buckets stretch further than typical RPC defaults.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("kepler.pipeline.stage.duration",
		metric.WithDescription("Latency of one refinement pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("kepler.llm.duration",
		metric.WithDescription("Oracle round-trip latency per correction chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EvaluationDuration, err = m.Float64Histogram("kepler.evaluation.duration",
		metric.WithDescription("End-to-end content evaluation latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CorrectionChunks, err = m.Int64Counter("kepler.correction.chunks",
		metric.WithDescription("Total correction batches sent to the oracle, by status."),
	); err != nil {
		return nil, err
	}
	if met.ParseOutcomes, err = m.Int64Counter("kepler.correction.parse_outcomes",
		metric.WithDescription("Oracle response parse attempts by recovery tier."),
	); err != nil {
		return nil, err
	}
	if met.UnitsDegraded, err = m.Int64Counter("kepler.correction.units_degraded",
		metric.WithDescription("Utterances degraded to original recogniser text."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.InFlightRequests, err = m.Int64UpDownCounter("kepler.llm.in_flight",
		metric.WithDescription("Concurrently outstanding oracle requests."),
	); err != nil {
		return nil, err
	}
	if met.ActiveTasks, err = m.Int64UpDownCounter("kepler.active_tasks",
		metric.WithDescription("Refinement tasks currently running."),
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

// RecordStage records a stage duration sample with the standard attribute.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordChunk records one correction batch outcome.
func (m *Metrics) RecordChunk(ctx context.Context, status string) {
	m.CorrectionChunks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordParseOutcome records which tier of the defensive parser resolved an
// oracle response ("strict", "extract", "salvage") or that all tiers failed
// ("failed").
func (m *Metrics) RecordParseOutcome(ctx context.Context, tier string) {
	m.ParseOutcomes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("tier", tier)),
	)
}

// RecordDegraded records n utterances falling back to original text.
func (m *Metrics) RecordDegraded(ctx context.Context, n int64) {
	if n > 0 {
		m.UnitsDegraded.Add(ctx, n)
	}
}
