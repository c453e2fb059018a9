package observe

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// RouteUnmatched labels ops requests that no registered route serves.
const RouteUnmatched = "unmatched"

// RouteResolver reports the pattern a request would be served by.
// [*http.ServeMux] implements it.
type RouteResolver interface {
	Handler(r *http.Request) (h http.Handler, pattern string)
}

// opsResponse captures the status code written by an ops handler.
type opsResponse struct {
	http.ResponseWriter
	status int
}

func (w *opsResponse) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware instruments the ops listener (/healthz, /readyz, /metrics).
//
// Each request is labelled with the path of the route that serves it, as
// resolved by routes; anything else is labelled [RouteUnmatched]. The label
// names the server span ("ops /readyz"), and tags
// [Metrics.OpsRequests] and [Metrics.OpsRequestDuration]. An incoming W3C
// traceparent is continued and its trace ID echoed as X-Correlation-ID.
//
// Successful health checks and scrapes log at debug level; responses of 500 and
// above (typically a failing readiness check) log a warning.
func Middleware(m *Metrics, routes RouteResolver) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := routeOf(routes, r)

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "ops "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}

			resp := &opsResponse{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(resp, r.WithContext(ctx))

			elapsed := time.Since(start)
			attrs := metric.WithAttributes(
				attribute.String("route", route),
				attribute.Int("status", resp.status),
			)
			m.OpsRequests.Add(ctx, 1, attrs)
			m.OpsRequestDuration.Record(ctx, elapsed.Seconds(), attrs)
			span.SetAttributes(semconv.HTTPResponseStatusCode(resp.status))

			level, msg := slog.LevelDebug, "ops request served"
			if resp.status >= http.StatusInternalServerError {
				level, msg = slog.LevelWarn, "ops request failed"
			}
			slog.LogAttrs(ctx, level, msg,
				slog.String("route", route),
				slog.String("method", r.Method),
				slog.Int("status", resp.status),
				slog.Duration("duration", elapsed),
			)
		})
	}
}

// routeOf returns the path part of the pattern serving r ("GET /readyz"
// becomes "/readyz").
func routeOf(routes RouteResolver, r *http.Request) string {
	if routes == nil {
		return RouteUnmatched
	}
	_, pattern := routes.Handler(r)
	if pattern == "" {
		return RouteUnmatched
	}
	if _, path, ok := strings.Cut(pattern, " "); ok {
		return path
	}
	return pattern
}
