package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"livescribe.session.connect.duration", m.SessionConnectDuration},
		{"livescribe.batch.duration", m.BatchDuration},
		{"livescribe.recording.duration", m.RecordingDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

// sumFor returns the value of the data point carrying key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q: data point with %s=%s not found", name, key, value)
	return 0
}

func TestCounterIncrement(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "gemini", "batch", "ok")
	m.RecordProviderRequest(ctx, "gemini", "batch", "ok")
	m.RecordProviderRequest(ctx, "gemini", "batch", "error")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "livescribe.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("counter value = %d, want 2", got)
	}
}

func TestRecorderTransitionsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTransition(ctx, "idle", "processing")
	m.RecordTransition(ctx, "processing", "recording")
	m.RecordTransition(ctx, "recording", "paused")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "livescribe.recorder.transitions", "to", "recording"); got != 1 {
		t.Errorf("counter value = %d, want 1", got)
	}
}

func TestFramesDroppedCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFramesDropped(ctx, "capture", 3)
	m.RecordFramesDropped(ctx, "capture", 0) // ignored
	m.RecordFramesDropped(ctx, "session", 2)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "livescribe.frames.dropped", "stage", "capture"); got != 3 {
		t.Errorf("capture drops = %d, want 3", got)
	}
	if got := sumFor(t, rm, "livescribe.frames.dropped", "stage", "session"); got != 2 {
		t.Errorf("session drops = %d, want 2", got)
	}
}

func TestProviderErrorsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderError(ctx, "openai", "live")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "livescribe.provider.errors", "kind", "live"); got != 1 {
		t.Errorf("counter value = %d, want 1", got)
	}
}

func TestPlainCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.FramesCaptured.Add(ctx, 4)
	m.FramesSent.Add(ctx, 3)
	m.TranscriptDeltas.Add(ctx, 2)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)

	counters := []struct {
		name string
		want int64
	}{
		{"livescribe.frames.captured", 4},
		{"livescribe.frames.sent", 3},
		{"livescribe.transcript.deltas", 2},
		{"livescribe.active_sessions", 1},
	}

	for _, tc := range counters {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestOpsRequestInstruments(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	attrs := metric.WithAttributes(
		attribute.String("route", "/readyz"),
		attribute.Int("status", http.StatusServiceUnavailable),
	)
	m.OpsRequests.Add(ctx, 1, attrs)
	m.OpsRequestDuration.Record(ctx, 0.002, attrs)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "livescribe.ops.requests", "route", "/readyz"); got != 1 {
		t.Errorf("ops requests for /readyz = %d, want 1", got)
	}
	met := findMetric(rm, "livescribe.ops.request.duration")
	if met == nil {
		t.Fatal("livescribe.ops.request.duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("duration data = %+v, want one sample", met.Data)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}

func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("response does not look like a Prometheus exposition")
	}
}
