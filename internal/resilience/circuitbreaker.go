// Package resilience provides circuit breakers and ordered failover across
// interchangeable transcription backends.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open).
// [FallbackGroup] pairs each backend with its own breaker and tries them in
// registration order. [BatchFallback] applies that to [batch.Provider].
//
// Failures caused by the caller's context (cancellation or deadline) never
// count against a breaker and stop the failover walk.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets a limited number of trial calls through.
	StateHalfOpen
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker]. Zero
// values select the defaults.
type CircuitBreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful trial calls that closes the
	// breaker again. Default: 1.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition. It must not
	// call back into the breaker.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker guards calls to one backend.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	trials    int
	successes int
}

// NewCircuitBreaker creates a closed [CircuitBreaker].
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn unless the breaker is open. Errors that stem from ctx
// being done are returned as-is and leave the breaker untouched.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := cb.allow()
	if err != nil {
		return err
	}
	err = fn(ctx)
	if err != nil && ctx.Err() != nil {
		cb.release(trial)
		return err
	}
	cb.record(trial, err)
	return err
}

// allow admits one call, reporting whether it is a half-open trial.
func (cb *CircuitBreaker) allow() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.trials >= cb.cfg.HalfOpenMax {
			return false, ErrCircuitOpen
		}
		cb.trials++
		return true, nil
	}
	return false, nil
}

// release returns an unused trial slot.
func (cb *CircuitBreaker) release(trial bool) {
	if !trial {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.trials > 0 {
		cb.trials--
	}
}

func (cb *CircuitBreaker) record(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err != nil && trial:
		cb.trip()
	case err != nil:
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			cb.trip()
		}
	case trial:
		cb.successes++
		if cb.successes >= cb.cfg.HalfOpenMax {
			cb.failures = 0
			cb.setState(StateClosed)
		}
	default:
		cb.failures = 0
	}
}

// trip opens the breaker. Must be called with cb.mu held.
func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.now()
	if cb.state != StateOpen {
		slog.Warn("circuit breaker opened", "name", cb.cfg.Name, "consecutive_failures", cb.failures)
	}
	cb.setState(StateOpen)
}

// setState changes state and resets the trial counters. Must be called with
// cb.mu held.
func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	cb.state = to
	cb.trials = 0
	cb.successes = 0
	if from == to {
		return
	}
	slog.Info("circuit breaker state change", "name", cb.cfg.Name, "from", from, "to", to)
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.setState(StateClosed)
}
