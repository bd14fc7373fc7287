package engine

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/anchor/cleanup"
	"github.com/xraph/anchor/store/memory"
)

func spanNames(spans []sdktrace.ReadOnlySpan) []string {
	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name()
	}
	return names
}

func hasAttr(s sdktrace.ReadOnlySpan, key attribute.Key, value string) bool {
	for _, kv := range s.Attributes() {
		if kv.Key == key && kv.Value.AsString() == value {
			return true
		}
	}
	return false
}

func TestOperationsEmitSpans(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	eng := New(memory.New(), cleanup.NewRegistry(),
		WithLogger(testLogger()),
		WithTracer(provider.Tracer(tracerName)),
	)
	ctx := context.Background()

	cp, err := eng.Load(ctx, "order-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, cp, err = Step(ctx, eng, cp, "charge", "in", func(context.Context) (string, error) {
		return "ch_1", nil
	}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if _, err = eng.Sweep(ctx, 0); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	spans := recorder.Ended()
	names := spanNames(spans)
	want := map[string]bool{"anchor.load": false, "anchor.step": false, "anchor.sweep": false}
	for _, name := range names {
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("span %q not recorded; got %v", name, names)
		}
	}

	for _, s := range spans {
		if s.Name() != "anchor.step" {
			continue
		}
		if !hasAttr(s, "anchor.run_id", "order-1") {
			t.Errorf("step span missing run id attribute: %v", s.Attributes())
		}
		if !hasAttr(s, "anchor.step", "charge") {
			t.Errorf("step span missing step attribute: %v", s.Attributes())
		}
	}
}

func TestFailedStepMarksSpanError(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	eng := New(memory.New(), cleanup.NewRegistry(),
		WithLogger(testLogger()),
		WithTracer(provider.Tracer(tracerName)),
	)
	ctx := context.Background()

	cp, err := eng.Load(ctx, "order-2")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, _, err = Step(ctx, eng, cp, "charge", "in", func(context.Context) (string, error) {
		return "", errors.New("card declined")
	}); err == nil {
		t.Fatal("Step should fail")
	}

	found := false
	for _, s := range recorder.Ended() {
		if s.Name() != "anchor.step" {
			continue
		}
		found = true
		if s.Status().Code != codes.Error {
			t.Errorf("step span status = %v, want Error", s.Status())
		}
	}
	if !found {
		t.Fatal("no anchor.step span recorded")
	}
}
