// Package observe provides application-wide observability primitives for
// livescribe: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all livescribe metrics.
const meterName = "github.com/MrWong99/livescribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SessionConnectDuration tracks the time from dial to session
	// acknowledgement. Use with attribute.String("provider", ...).
	SessionConnectDuration metric.Float64Histogram

	// BatchDuration tracks batch transcription latency.
	BatchDuration metric.Float64Histogram

	// RecordingDuration tracks the elapsed recording time of completed
	// recordings.
	RecordingDuration metric.Float64Histogram

	// --- Counters ---

	// FramesCaptured counts frames forwarded by the capture pipeline.
	FramesCaptured metric.Int64Counter

	// FramesSent counts frames written to a live session.
	FramesSent metric.Int64Counter

	// FramesDropped counts frames discarded. Use with attribute:
	//   attribute.String("stage", "capture"|"session")
	FramesDropped metric.Int64Counter

	// TranscriptDeltas counts transcript deltas received from live sessions.
	TranscriptDeltas metric.Int64Counter

	// RecorderTransitions counts recording state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	RecorderTransitions metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of open live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Ops listener ---

	// OpsRequests counts requests to the ops listener. Use with attributes:
	//   attribute.String("route", "/healthz"|"/readyz"|"/metrics"|"unmatched"),
	//   attribute.Int("status", ...)
	OpsRequests metric.Int64Counter

	// OpsRequestDuration tracks ops request latency, with the same
	// attributes as OpsRequests.
	OpsRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// connection and transcription latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// recordingBuckets defines histogram bucket boundaries (in seconds) for
// recording lengths.
var recordingBuckets = []float64{
	1, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SessionConnectDuration, err = m.Float64Histogram("livescribe.session.connect.duration",
		metric.WithDescription("Latency from dial to live session acknowledgement."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BatchDuration, err = m.Float64Histogram("livescribe.batch.duration",
		metric.WithDescription("Latency of batch transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("livescribe.recording.duration",
		metric.WithDescription("Elapsed recording time of completed recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesCaptured, err = m.Int64Counter("livescribe.frames.captured",
		metric.WithDescription("Total audio frames forwarded by the capture pipeline."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("livescribe.frames.sent",
		metric.WithDescription("Total audio frames written to live sessions."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("livescribe.frames.dropped",
		metric.WithDescription("Total audio frames dropped by stage."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptDeltas, err = m.Int64Counter("livescribe.transcript.deltas",
		metric.WithDescription("Total transcript deltas received from live sessions."),
	); err != nil {
		return nil, err
	}
	if met.RecorderTransitions, err = m.Int64Counter("livescribe.recorder.transitions",
		metric.WithDescription("Total recording state transitions by from and to state."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("livescribe.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("livescribe.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("livescribe.active_sessions",
		metric.WithDescription("Number of open live transcription sessions."),
	); err != nil {
		return nil, err
	}

	// Ops listener.
	if met.OpsRequests, err = m.Int64Counter("livescribe.ops.requests",
		metric.WithDescription("Total ops listener requests by route and status."),
	); err != nil {
		return nil, err
	}
	if met.OpsRequestDuration, err = m.Float64Histogram("livescribe.ops.request.duration",
		metric.WithDescription("Ops listener request latency by route and status."),
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTransition records one recording state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.RecorderTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordFramesDropped adds n to the dropped-frames counter for stage.
func (m *Metrics) RecordFramesDropped(ctx context.Context, stage string, n int64) {
	if n <= 0 {
		return
	}
	m.FramesDropped.Add(ctx, n, metric.WithAttributes(attribute.String("stage", stage)))
}
