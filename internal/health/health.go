// Package health serves the liveness and readiness checks of the ops
// listener.
//
//   - /healthz reports 200 while the process can serve HTTP.
//   - /readyz reports 200 only when every registered [Checker] passes.
//
// Responses are JSON objects with a "status" field ("ok" or "fail") and,
// for /readyz, a "checks" map with the outcome of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/livescribe/internal/resilience"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates checkers in order on each /readyz
// request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 when every checker passes and 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	code := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			code = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, code, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ─── Checkers ─────────────────────────────────────────────────────────────────

// LiveProvider fails when no live transcription provider is configured.
func LiveProvider(name string) Checker {
	return Checker{Name: "live_provider", Check: func(context.Context) error {
		if name == "" {
			return errors.New("no live provider configured")
		}
		return nil
	}}
}

// Runner is implemented by long-running loops such as the recorder.
type Runner interface {
	Running() bool
}

// Recorder fails while the recorder event loop is not running.
func Recorder(r Runner) Checker {
	return Checker{Name: "recorder", Check: func(context.Context) error {
		if !r.Running() {
			return errors.New("recorder loop not running")
		}
		return nil
	}}
}

// BatchBackends fails when every batch backend has an open circuit breaker.
// No backends at all is not a failure; batch transcription is optional.
func BatchBackends(health func() []resilience.EntryHealth) Checker {
	return Checker{Name: "batch_backends", Check: func(context.Context) error {
		entries := health()
		for _, e := range entries {
			if e.State != resilience.StateOpen {
				return nil
			}
		}
		if len(entries) == 0 {
			return nil
		}
		return fmt.Errorf("all %d batch backends unavailable", len(entries))
	}}
}
