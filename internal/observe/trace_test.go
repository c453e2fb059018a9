package observe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer provider as the global one for the
// duration of the test.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return exp
}

// captureLogs routes the default logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStartSpan_ProviderSpanNestsUnderTranscribe(t *testing.T) {
	exp := useTracer(t)

	ctx, outer := StartSpan(context.Background(), "app.transcribe")
	_, inner := StartSpan(ctx, "batch.openai.transcribe")
	inner.End()
	outer.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	child, parent := spans[0], spans[1]
	if child.Name != "batch.openai.transcribe" || parent.Name != "app.transcribe" {
		t.Fatalf("span names = %q, %q", child.Name, parent.Name)
	}
	if child.Parent.SpanID() != parent.SpanContext.SpanID() {
		t.Error("provider span is not a child of the transcribe span")
	}
	if child.SpanContext.TraceID() != parent.SpanContext.TraceID() {
		t.Error("provider span is in a different trace")
	}
	if child.InstrumentationScope.Name != tracerName {
		t.Errorf("scope = %q, want %q", child.InstrumentationScope.Name, tracerName)
	}
}

func TestEndSpan_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  codes.Code
		wantEvent string
	}{
		{"connected", nil, codes.Unset, ""},
		{"dial refused", errors.New("dial tcp: connection refused"), codes.Error, "exception"},
		{"cancelled mid-dial", fmt.Errorf("gemini: dial: %w", context.Canceled), codes.Unset, "cancelled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := useTracer(t)

			_, span := StartSpan(context.Background(), "session.connect")
			EndSpan(span, tt.err)

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			got := spans[0]
			if got.Status.Code != tt.wantCode {
				t.Errorf("status = %v, want %v", got.Status.Code, tt.wantCode)
			}
			if tt.wantCode == codes.Error && got.Status.Description != tt.err.Error() {
				t.Errorf("status description = %q", got.Status.Description)
			}
			switch {
			case tt.wantEvent == "" && len(got.Events) != 0:
				t.Errorf("events = %v, want none", got.Events)
			case tt.wantEvent != "" && (len(got.Events) != 1 || got.Events[0].Name != tt.wantEvent):
				t.Errorf("events = %v, want one %q", got.Events, tt.wantEvent)
			}
		})
	}
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without span = %q, want empty", got)
	}

	useTracer(t)
	ctx, span := StartSpan(context.Background(), "session.connect")
	defer span.End()
	if got, want := CorrelationID(ctx), span.SpanContext().TraceID().String(); got != want {
		t.Errorf("CorrelationID = %q, want %q", got, want)
	}
}

func TestLogger_TagsSessionLogsWithTrace(t *testing.T) {
	useTracer(t)
	buf := captureLogs(t)

	ctx, span := StartSpan(context.Background(), "session.connect")
	Logger(ctx).Warn("live session failed to connect", "provider", "gemini")
	span.End()

	line := buf.String()
	for _, want := range []string{
		"trace_id=" + span.SpanContext().TraceID().String(),
		"span_id=" + span.SpanContext().SpanID().String(),
		"provider=gemini",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("log line missing %q: %s", want, line)
		}
	}
}

func TestLogger_NoSpanAddsNothing(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("recording started")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log line has trace_id without a span: %s", buf.String())
	}
}
