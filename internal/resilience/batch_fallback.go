package resilience

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/pkg/provider/batch"
)

// BatchFallback implements [batch.Provider] with failover across several
// batch backends.
type BatchFallback struct {
	group   *FallbackGroup[batch.Provider]
	metrics *observe.Metrics
}

var _ batch.Provider = (*BatchFallback)(nil)

// NewBatchFallback creates a BatchFallback with primary as the preferred
// backend. met may be nil.
func NewBatchFallback(primary batch.Provider, cfg FallbackConfig, met *observe.Metrics) *BatchFallback {
	return &BatchFallback{
		group:   NewFallbackGroup(primary, primary.Name(), cfg),
		metrics: met,
	}
}

// AddFallback registers another backend, tried after the earlier ones.
func (f *BatchFallback) AddFallback(p batch.Provider) {
	f.group.AddFallback(p.Name(), p)
}

// Name implements [batch.Provider].
func (f *BatchFallback) Name() string { return "fallback" }

// Health returns the breaker state of each backend.
func (f *BatchFallback) Health() []EntryHealth { return f.group.Health() }

// Transcribe implements [batch.Provider]. A result that breaks the output
// contract counts as a backend failure so the next backend is tried.
func (f *BatchFallback) Transcribe(ctx context.Context, req batch.Request) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p batch.Provider) (string, error) {
		start := time.Now()
		text, err := p.Transcribe(ctx, req)
		if err == nil {
			err = batch.CheckContract(text)
		}
		f.record(ctx, p.Name(), time.Since(start), err)
		if err != nil {
			return "", err
		}
		return text, nil
	})
}

func (f *BatchFallback) record(ctx context.Context, name string, d time.Duration, err error) {
	if f.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		f.metrics.RecordProviderError(ctx, name, "batch")
	}
	f.metrics.RecordProviderRequest(ctx, name, "batch", status)
	f.metrics.BatchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(observe.Attr("provider", name)))
}
