// Package observability provides an OpenTelemetry-backed engine.Emitter.
// Wire it with engine.WithEmitter to track step executions, cache hits,
// failures, recoveries, and sweep activity.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/anchor/engine"
)

// meterName is the instrumentation scope name for anchor metrics.
const meterName = "github.com/xraph/anchor"

// Compile-time interface check.
var _ engine.Emitter = (*Metrics)(nil)

// Metrics records run and step lifecycle counters plus a step duration
// histogram. Instruments carry the step or cleanup type as an attribute;
// run IDs are deliberately not recorded to keep cardinality bounded.
type Metrics struct {
	stepCompleted  metric.Int64Counter
	stepCached     metric.Int64Counter
	stepFailed     metric.Int64Counter
	stepDuration   metric.Float64Histogram
	runRecovered   metric.Int64Counter
	runCompleted   metric.Int64Counter
	runFailed      metric.Int64Counter
	runSwept       metric.Int64Counter
	cleanupFailed  metric.Int64Counter
	cleanupActions metric.Int64Counter
}

// NewMetrics creates a Metrics emitter using the globally registered
// MeterProvider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter creates a Metrics emitter on the provided meter.
// Use an sdk/metric meter with a ManualReader for testing.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.stepCompleted, err = meter.Int64Counter("anchor.step.completed",
		metric.WithDescription("Steps executed and durably saved")); err != nil {
		return nil, err
	}
	if m.stepCached, err = meter.Int64Counter("anchor.step.cached",
		metric.WithDescription("Steps replayed from the checkpoint without executing")); err != nil {
		return nil, err
	}
	if m.stepFailed, err = meter.Int64Counter("anchor.step.failed",
		metric.WithDescription("Step functions that returned an error")); err != nil {
		return nil, err
	}
	if m.stepDuration, err = meter.Float64Histogram("anchor.step.duration",
		metric.WithDescription("Step execution time"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.runRecovered, err = meter.Int64Counter("anchor.run.recovered",
		metric.WithDescription("Runs recovered from a crash with pending cleanup")); err != nil {
		return nil, err
	}
	if m.runCompleted, err = meter.Int64Counter("anchor.run.completed",
		metric.WithDescription("Runs transitioned to completed")); err != nil {
		return nil, err
	}
	if m.runFailed, err = meter.Int64Counter("anchor.run.failed",
		metric.WithDescription("Runs transitioned to failed")); err != nil {
		return nil, err
	}
	if m.runSwept, err = meter.Int64Counter("anchor.run.swept",
		metric.WithDescription("Abandoned runs reaped by a sweep pass")); err != nil {
		return nil, err
	}
	if m.cleanupFailed, err = meter.Int64Counter("anchor.cleanup.failed",
		metric.WithDescription("Compensation actions that failed")); err != nil {
		return nil, err
	}
	if m.cleanupActions, err = meter.Int64Counter("anchor.cleanup.attempted",
		metric.WithDescription("Compensation actions attempted during recovery")); err != nil {
		return nil, err
	}

	return m, nil
}

// EmitStepCompleted implements engine.Emitter.
func (m *Metrics) EmitStepCompleted(ctx context.Context, _, step string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("step", step))
	m.stepCompleted.Add(ctx, 1, attrs)
	m.stepDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// EmitStepCached implements engine.Emitter.
func (m *Metrics) EmitStepCached(ctx context.Context, _, step string) {
	m.stepCached.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}

// EmitStepFailed implements engine.Emitter.
func (m *Metrics) EmitStepFailed(ctx context.Context, _, step string, _ error) {
	m.stepFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}

// EmitRunRecovered implements engine.Emitter.
func (m *Metrics) EmitRunRecovered(ctx context.Context, _ string, actions int) {
	m.runRecovered.Add(ctx, 1)
	m.cleanupActions.Add(ctx, int64(actions))
}

// EmitRunCompleted implements engine.Emitter.
func (m *Metrics) EmitRunCompleted(ctx context.Context, _ string) {
	m.runCompleted.Add(ctx, 1)
}

// EmitRunFailed implements engine.Emitter.
func (m *Metrics) EmitRunFailed(ctx context.Context, _ string) {
	m.runFailed.Add(ctx, 1)
}

// EmitRunSwept implements engine.Emitter.
func (m *Metrics) EmitRunSwept(ctx context.Context, _ string) {
	m.runSwept.Add(ctx, 1)
}

// EmitCleanupFailed implements engine.Emitter.
func (m *Metrics) EmitCleanupFailed(ctx context.Context, _, actionType string, _ error) {
	m.cleanupFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("type", actionType)))
}
