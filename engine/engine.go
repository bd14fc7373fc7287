// Package engine exposes the orchestration surface over checkpoints: load
// with crash recovery, memoized step execution, saga-style compensation
// registration, terminal transitions, and the sweeping passes that reap
// abandoned runs.
//
// Every operation persists the derived checkpoint and returns it; the
// caller must adopt the returned value before the next call on the same
// run. Nothing is mutated in place.
//
// "At most one execution per step fingerprint" holds only within a single
// in-process caller threading the current checkpoint value. Two processes
// racing on the same run ID can both miss the cache and both execute the
// step, with the last durable write winning; callers needing cross-process
// exclusion must serialize externally.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/anchor"
	"github.com/xraph/anchor/checkpoint"
	"github.com/xraph/anchor/cleanup"
)

// tracerName is the instrumentation scope name for anchor tracing.
const tracerName = "github.com/xraph/anchor"

// Engine orchestrates checkpointed runs against a storage adapter and a
// cleanup registry, both provided by the caller.
type Engine struct {
	store    checkpoint.Store
	registry *cleanup.Registry
	exec     *cleanup.Executor
	emitter  Emitter
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the logger for the engine and its cleanup executor.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEmitter sets the lifecycle emitter.
func WithEmitter(em Emitter) Option {
	return func(e *Engine) {
		e.emitter = em
	}
}

// WithTracer sets the tracer for engine operation spans. By default the
// globally registered TracerProvider is used; without one, spans are noops
// with zero overhead.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithExecutor replaces the default cleanup executor, e.g. to add
// concurrency caps or rate limits to recovery passes.
func WithExecutor(exec *cleanup.Executor) Option {
	return func(e *Engine) {
		e.exec = exec
	}
}

// New creates an Engine over the given store and cleanup registry.
func New(store checkpoint.Store, registry *cleanup.Registry, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		registry: registry,
		emitter:  NopEmitter{},
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.exec == nil {
		e.exec = cleanup.NewExecutor(registry, cleanup.WithLogger(e.logger))
	}
	return e
}

// Load fetches the checkpoint for runID, creating and persisting a fresh
// running one when none exists. If the fetched checkpoint carries pending
// cleanup actions — the mark of a crash after a risky operation was
// registered but before it was confirmed safe — all of them are executed
// and a recovered checkpoint (no cleanup, running, restarted now) is
// persisted before control returns to the caller.
func (e *Engine) Load(ctx context.Context, runID string) (checkpoint.Checkpoint, error) {
	ctx, span := e.startSpan(ctx, "anchor.load", runID)
	defer span.End()

	cp, err := e.store.FetchOne(ctx, runID)
	switch {
	case errors.Is(err, anchor.ErrRunNotFound):
		cp = checkpoint.New(runID)
		if upErr := e.store.Upsert(ctx, cp); upErr != nil {
			return checkpoint.Checkpoint{}, e.spanErr(span, fmt.Errorf("anchor/engine: create run %s: %w", runID, upErr))
		}
		return cp, nil
	case err != nil:
		return checkpoint.Checkpoint{}, e.spanErr(span, fmt.Errorf("anchor/engine: load run %s: %w", runID, err))
	}

	if !cp.PendingCleanup() {
		return cp, nil
	}

	// Crash-recovery pass: attempt every pending compensation once, then
	// persist the recovered state. Action failures are contained; only the
	// persist can fail the Load.
	results := e.exec.ExecuteAll(ctx, cp.Cleanup)
	e.emitCleanupFailures(ctx, runID, results)

	recovered := cp.Restarted()
	if upErr := e.store.Upsert(ctx, recovered); upErr != nil {
		return checkpoint.Checkpoint{}, e.spanErr(span, fmt.Errorf("anchor/engine: persist recovered run %s: %w", runID, upErr))
	}

	e.logger.Info("recovered run with pending cleanup",
		slog.String("run_id", runID),
		slog.Int("actions", len(results)),
		slog.Int("failures", cleanup.Failures(results)),
	)
	e.emitter.EmitRunRecovered(ctx, runID, len(results))

	return recovered, nil
}

// BeforeRisky durably registers a compensation of the given type before
// the caller performs an operation whose effects cannot be trivially
// undone. It must complete before the risky operation begins; a persist
// failure therefore aborts the caller's plan.
func (e *Engine) BeforeRisky(ctx context.Context, cp checkpoint.Checkpoint, actionType string, params map[string]any) (checkpoint.Checkpoint, error) {
	next := cp.WithCleanup(actionType, params)
	if err := e.store.Upsert(ctx, next); err != nil {
		return cp, fmt.Errorf("anchor/engine: register cleanup %q for run %s: %w", actionType, cp.RunID, err)
	}
	return next, nil
}

// AfterSafe durably clears every compensation of the given type once the
// risky operation is confirmed successful.
func (e *Engine) AfterSafe(ctx context.Context, cp checkpoint.Checkpoint, actionType string) (checkpoint.Checkpoint, error) {
	next := cp.WithoutCleanup(actionType)
	if err := e.store.Upsert(ctx, next); err != nil {
		return cp, fmt.Errorf("anchor/engine: clear cleanup %q for run %s: %w", actionType, cp.RunID, err)
	}
	return next, nil
}

// Complete persists the run as completed. Runs already in a terminal
// status are rejected with ErrInvalidStatus; re-entry to running happens
// only through Load's recovery pass.
func (e *Engine) Complete(ctx context.Context, cp checkpoint.Checkpoint) (checkpoint.Checkpoint, error) {
	if cp.Status.Terminal() {
		return cp, fmt.Errorf("anchor/engine: complete run %s from %s: %w", cp.RunID, cp.Status, anchor.ErrInvalidStatus)
	}
	next := cp.WithStatus(checkpoint.StatusCompleted)
	if err := e.store.Upsert(ctx, next); err != nil {
		return cp, fmt.Errorf("anchor/engine: complete run %s: %w", cp.RunID, err)
	}
	e.emitter.EmitRunCompleted(ctx, cp.RunID)
	return next, nil
}

// Fail persists the run as failed. Like Complete, it rejects runs already
// in a terminal status with ErrInvalidStatus.
func (e *Engine) Fail(ctx context.Context, cp checkpoint.Checkpoint) (checkpoint.Checkpoint, error) {
	if cp.Status.Terminal() {
		return cp, fmt.Errorf("anchor/engine: fail run %s from %s: %w", cp.RunID, cp.Status, anchor.ErrInvalidStatus)
	}
	next := cp.WithStatus(checkpoint.StatusFailed)
	if err := e.store.Upsert(ctx, next); err != nil {
		return cp, fmt.Errorf("anchor/engine: fail run %s: %w", cp.RunID, err)
	}
	e.emitter.EmitRunFailed(ctx, cp.RunID)
	return next, nil
}

// ClearStep removes the memoized record for a step, forcing re-execution
// on the next Step call with any inputs.
func (e *Engine) ClearStep(ctx context.Context, cp checkpoint.Checkpoint, name string) (checkpoint.Checkpoint, error) {
	next := cp.WithoutStep(name)
	if err := e.store.Upsert(ctx, next); err != nil {
		return cp, fmt.Errorf("anchor/engine: clear step %q for run %s: %w", name, cp.RunID, err)
	}
	return next, nil
}

// Clear deletes the run's checkpoint row entirely.
func (e *Engine) Clear(ctx context.Context, runID string) error {
	if err := e.store.DeleteOne(ctx, runID); err != nil {
		return fmt.Errorf("anchor/engine: clear run %s: %w", runID, err)
	}
	return nil
}

// Registry returns the cleanup registry.
func (e *Engine) Registry() *cleanup.Registry { return e.registry }

func (e *Engine) emitCleanupFailures(ctx context.Context, runID string, results []cleanup.Result) {
	for _, r := range results {
		if r.Err != nil {
			e.emitter.EmitCleanupFailed(ctx, runID, r.Type, r.Err)
		}
	}
}

func (e *Engine) startSpan(ctx context.Context, name, runID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name,
		trace.WithAttributes(append(attrs, attribute.String("anchor.run_id", runID))...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (e *Engine) spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
