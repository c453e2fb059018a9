package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed or
// was skipped by an open breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the breaker created for each entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// EntryHealth is the breaker state of one entry.
type EntryHealth struct {
	Name  string
	State State
}

// FallbackGroup holds a primary and ordered fallbacks of the same type, each
// behind its own [CircuitBreaker]. Register every entry before the first
// call; entries are not added concurrently with Execute.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after every earlier one.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cb := fg.cfg.CircuitBreaker
	cb.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cb),
	})
}

// Len returns the number of entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Health returns the breaker state of every entry in order.
func (fg *FallbackGroup[T]) Health() []EntryHealth {
	out := make([]EntryHealth, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = EntryHealth{Name: e.name, State: e.breaker.State()}
	}
	return out
}

// Execute calls fn on each entry in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// ExecuteWithResult calls fn on each entry in order until one succeeds and
// returns its result. When ctx is done the walk stops with ctx's error. The
// error after a complete walk wraps [ErrAllFailed] and every entry's error.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range fg.entries {
		e := &fg.entries[i]
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var result R
		err := e.breaker.Execute(ctx, func(ctx context.Context) error {
			var inner error
			result, inner = fn(ctx, e.value)
			return inner
		})
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}
		errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", e.name)
			continue
		}
		slog.Warn("provider failed, trying next", "provider", e.name, "error", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
