package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/delayed/job"
	mw "github.com/xraph/delayed/middleware"
)

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

func spanAttrs(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, a := range attrs {
		switch a.Value.Type() {
		case attribute.STRING:
			out[string(a.Key)] = a.Value.AsString()
		case attribute.INT64:
			out[string(a.Key)] = a.Value.AsInt64()
		}
	}
	return out
}

func TestTracing_SpanAttributes(t *testing.T) {
	sr, tracer := setupTestTracer()
	j := newTestJob()

	_ = mw.TracingWithTracer(tracer)(context.Background(), j, func(_ context.Context) error {
		return nil
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "delayed.job.execute" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("expected status Ok, got %v", spans[0].Status().Code)
	}

	expected := map[string]any{
		"delayed.job.id":   j.ID.String(),
		"delayed.actor_id": "order-1",
		"delayed.queue":    "EMAIL_CONFIRM",
		"delayed.attempt":  int64(3),
		"delayed.outcome":  "ok",
	}
	got := spanAttrs(spans[0].Attributes())
	for key, want := range expected {
		if got[key] != want {
			t.Errorf("attribute %q = %v, want %v", key, got[key], want)
		}
	}
}

func TestTracing_Error_RecordsOnSpan(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome string
	}{
		{"recoverable", errors.New("smtp timeout"), "recoverable"},
		{"fatal", job.Fatal("order deleted"), "fatal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr, tracer := setupTestTracer()

			err := mw.TracingWithTracer(tracer)(context.Background(), newTestJob(), func(_ context.Context) error {
				return tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected handler error, got %v", err)
			}

			span := sr.Ended()[0]
			if span.Status().Code != codes.Error {
				t.Errorf("expected status Error, got %v", span.Status().Code)
			}
			if span.Status().Description != tt.err.Error() {
				t.Errorf("status description = %q", span.Status().Description)
			}
			if got := spanAttrs(span.Attributes())["delayed.outcome"]; got != tt.outcome {
				t.Errorf("outcome = %v, want %v", got, tt.outcome)
			}

			found := false
			for _, ev := range span.Events() {
				if ev.Name == "exception" {
					found = true
				}
			}
			if !found {
				t.Error("expected 'exception' event to be recorded on span")
			}
		})
	}
}

func TestTracing_PropagatesContext(t *testing.T) {
	sr, tracer := setupTestTracer()

	var handlerSpanCtx trace.SpanContext
	_ = mw.TracingWithTracer(tracer)(context.Background(), newTestJob(), func(ctx context.Context) error {
		handlerSpanCtx = trace.SpanFromContext(ctx).SpanContext()
		return nil
	})

	if !handlerSpanCtx.IsValid() {
		t.Fatal("expected valid span context in handler")
	}
	if handlerSpanCtx.TraceID() != sr.Ended()[0].SpanContext().TraceID() {
		t.Error("handler span context trace ID does not match middleware span")
	}
}

func TestTracing_DefaultNoopSafe(t *testing.T) {
	called := false
	err := mw.Tracing()(context.Background(), newTestJob(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("called=%v err=%v", called, err)
	}
}
