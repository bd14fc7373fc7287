package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/anchor/checkpoint"
	"github.com/xraph/anchor/fingerprint"
)

// Step executes a named, memoized unit of work. The inputs are fingerprinted;
// if the checkpoint already holds a record for this step with the exact same
// input hash, the cached result is decoded and returned without invoking fn.
// Otherwise fn runs, its result is persisted, and the adopted checkpoint is
// returned alongside it.
//
// fn failures propagate to the caller; nothing is persisted and no
// compensation is triggered (register one via BeforeRisky around the risky
// portion if needed). A persist failure also propagates: a step whose
// result was not durably saved must not be reported as succeeded.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Step[T any](ctx context.Context, e *Engine, cp checkpoint.Checkpoint, name string, inputs any, fn func(ctx context.Context) (T, error)) (T, checkpoint.Checkpoint, error) {
	var zero T

	ctx, span := e.startSpan(ctx, "anchor.step", cp.RunID, attribute.String("anchor.step", name))
	defer span.End()

	hash := fingerprint.Hash(inputs)

	if raw, ok := cp.CachedResult(name, hash); ok {
		var result T
		if len(raw) > 0 {
			if decErr := json.Unmarshal(raw, &result); decErr != nil {
				return zero, cp, e.spanErr(span, fmt.Errorf("anchor/engine: decode cached step %q for run %s: %w", name, cp.RunID, decErr))
			}
		}
		e.logger.Debug("replaying memoized step",
			slog.String("run_id", cp.RunID),
			slog.String("step", name),
			slog.String("input_hash", hash),
		)
		span.SetAttributes(attribute.Bool("anchor.cache_hit", true))
		e.emitter.EmitStepCached(ctx, cp.RunID, name)
		return result, cp, nil
	}

	start := time.Now()
	result, stepErr := fn(ctx)
	elapsed := time.Since(start)

	if stepErr != nil {
		e.emitter.EmitStepFailed(ctx, cp.RunID, name, stepErr)
		return zero, cp, e.spanErr(span, fmt.Errorf("anchor/engine: run %s step %q: %w", cp.RunID, name, stepErr))
	}

	raw, encErr := json.Marshal(result)
	if encErr != nil {
		return zero, cp, e.spanErr(span, fmt.Errorf("anchor/engine: encode step %q result for run %s: %w", name, cp.RunID, encErr))
	}

	next := cp.WithStep(name, raw, hash)
	if upErr := e.store.Upsert(ctx, next); upErr != nil {
		return zero, cp, e.spanErr(span, fmt.Errorf("anchor/engine: save step %q for run %s: %w", name, cp.RunID, upErr))
	}

	e.emitter.EmitStepCompleted(ctx, cp.RunID, name, elapsed)
	return result, next, nil
}
