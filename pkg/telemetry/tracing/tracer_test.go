package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"mercator-hq/gatekeeper/pkg/config"
)

func TestNew_Disabled(t *testing.T) {
	tracer, err := New(&config.TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if tracer.Enabled() {
		t.Error("disabled tracer reports Enabled")
	}
	ctx, span := tracer.Start(context.Background(), "noop")
	span.End()
	if TraceID(ctx) != "" {
		t.Error("noop span has a valid trace id")
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNew_NilConfig(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestNilTracer(t *testing.T) {
	var tracer *Tracer
	ctx, span := tracer.Start(context.Background(), "x")
	span.End()
	if ctx == nil || tracer.Enabled() {
		t.Error("nil tracer misbehaves")
	}
}

func TestTracer_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := NewWithProvider(provider)

	ctx, parent := tracer.Start(context.Background(), "rules.match", Tenant("acme"))
	if TraceID(ctx) == "" {
		t.Error("expected trace id in context")
	}
	_, child := tracer.Start(ctx, "rules.evaluate", Rule("r1"))
	End(child, errors.New("boom"))
	End(parent, nil)

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Name() != "rules.evaluate" || spans[0].Status().Code != codes.Error {
		t.Errorf("child span = %s status %v", spans[0].Name(), spans[0].Status())
	}
	if spans[0].Parent().SpanID() != spans[1].SpanContext().SpanID() {
		t.Error("child span not linked to parent")
	}
	if spans[1].Status().Code != codes.Ok {
		t.Errorf("parent status = %v", spans[1].Status())
	}
	found := false
	for _, a := range spans[1].Attributes() {
		if string(a.Key) == AttrTenantID && a.Value.AsString() == "acme" {
			found = true
		}
	}
	if !found {
		t.Error("tenant attribute missing")
	}
}

func TestSampler(t *testing.T) {
	for _, ratio := range []float64{0, 0.5, 1} {
		if sampler(ratio) == nil {
			t.Errorf("sampler(%v) = nil", ratio)
		}
	}
}
