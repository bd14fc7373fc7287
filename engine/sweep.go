package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/anchor/checkpoint"
	"github.com/xraph/anchor/cleanup"
)

// SweepDetail describes one run processed by a sweep pass.
type SweepDetail struct {
	RunID    string
	Actions  int
	Failures int
}

// SweepReport summarizes a Sweep pass.
type SweepReport struct {
	// Cleaned counts the runs that were reaped and persisted.
	Cleaned int
	Details []SweepDetail
}

// Sweep reaps abandoned runs: any running checkpoint started more than
// olderThan ago has its pending compensations executed, its cleanup queue
// cleared, and its status forced to failed.
//
// Per-run errors are contained: a run whose persist fails is logged and
// skipped so the rest of the batch still progresses. Only the initial fetch
// can fail the sweep itself.
func (e *Engine) Sweep(ctx context.Context, olderThan time.Duration) (SweepReport, error) {
	ctx, span := e.startSpan(ctx, "anchor.sweep", "", attribute.String("anchor.older_than", olderThan.String()))
	defer span.End()

	stale, err := e.store.FetchStale(ctx, olderThan)
	if err != nil {
		return SweepReport{}, e.spanErr(span, fmt.Errorf("anchor/engine: fetch stale runs: %w", err))
	}

	var report SweepReport
	for _, cp := range stale {
		results := e.exec.ExecuteAll(ctx, cp.Cleanup)
		e.emitCleanupFailures(ctx, cp.RunID, results)

		swept := cp.ClearedCleanup().WithStatus(checkpoint.StatusFailed)
		if upErr := e.store.Upsert(ctx, swept); upErr != nil {
			e.logger.Error("failed to persist swept run",
				slog.String("run_id", cp.RunID),
				slog.Any("error", upErr),
			)
			continue
		}

		report.Cleaned++
		report.Details = append(report.Details, SweepDetail{
			RunID:    cp.RunID,
			Actions:  len(results),
			Failures: cleanup.Failures(results),
		})
		e.emitter.EmitRunSwept(ctx, cp.RunID)
	}

	if report.Cleaned > 0 {
		e.logger.Info("swept abandoned runs", slog.Int("cleaned", report.Cleaned))
	}
	span.SetAttributes(attribute.Int("anchor.cleaned", report.Cleaned))

	return report, nil
}

// SweepAllCleanups drains pending compensations from every run that has
// them, regardless of age or status. The runs' statuses are untouched; only
// the cleanup queues are cleared. It returns the number of runs processed.
func (e *Engine) SweepAllCleanups(ctx context.Context) (int, error) {
	ctx, span := e.startSpan(ctx, "anchor.sweep_cleanups", "")
	defer span.End()

	pending, err := e.store.FetchPendingCleanups(ctx)
	if err != nil {
		return 0, e.spanErr(span, fmt.Errorf("anchor/engine: fetch pending cleanups: %w", err))
	}

	processed := 0
	for _, cp := range pending {
		results := e.exec.ExecuteAll(ctx, cp.Cleanup)
		e.emitCleanupFailures(ctx, cp.RunID, results)

		if upErr := e.store.Upsert(ctx, cp.ClearedCleanup()); upErr != nil {
			e.logger.Error("failed to persist drained cleanup queue",
				slog.String("run_id", cp.RunID),
				slog.Any("error", upErr),
			)
			continue
		}
		processed++
	}

	span.SetAttributes(attribute.Int("anchor.processed", processed))
	return processed, nil
}
