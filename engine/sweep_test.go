package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/anchor/checkpoint"
	"github.com/xraph/anchor/cleanup"
	"github.com/xraph/anchor/store/memory"
)

func TestSweepReapsStaleRuns(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	released := 0
	reg := cleanup.NewRegistry()
	reg.Register("release_hold", func(context.Context, map[string]any) error {
		mu.Lock()
		defer mu.Unlock()
		released++
		return nil
	})

	em := &trackingEmitter{}
	st := memory.New()
	eng := New(st, reg, WithLogger(testLogger()), WithEmitter(em))
	ctx := context.Background()

	stale := checkpoint.New("stale-1").WithCleanup("release_hold", nil)
	stale.StartedAt = time.Now().UTC().Add(-2 * time.Hour)
	fresh := checkpoint.New("fresh-1")
	done := checkpoint.New("done-1").WithStatus(checkpoint.StatusCompleted)
	done.StartedAt = time.Now().UTC().Add(-3 * time.Hour)

	for _, cp := range []checkpoint.Checkpoint{stale, fresh, done} {
		if err := st.Upsert(ctx, cp); err != nil {
			t.Fatalf("seed %s: %v", cp.RunID, err)
		}
	}

	report, err := eng.Sweep(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Cleaned != 1 {
		t.Fatalf("Cleaned = %d, want 1", report.Cleaned)
	}
	if len(report.Details) != 1 || report.Details[0].RunID != "stale-1" || report.Details[0].Actions != 1 {
		t.Fatalf("Details = %+v", report.Details)
	}
	if released != 1 {
		t.Fatalf("compensation executed %d times, want 1", released)
	}

	swept, err := st.FetchOne(ctx, "stale-1")
	if err != nil {
		t.Fatalf("FetchOne: %v", err)
	}
	if swept.Status != checkpoint.StatusFailed || swept.PendingCleanup() {
		t.Fatalf("swept checkpoint = %+v", swept)
	}

	// Untouched runs stay as they were.
	kept, err := st.FetchOne(ctx, "fresh-1")
	if err != nil {
		t.Fatalf("FetchOne fresh: %v", err)
	}
	if kept.Status != checkpoint.StatusRunning {
		t.Fatalf("fresh run was swept: %+v", kept)
	}
	if len(em.swept) != 1 || em.swept[0] != "stale-1" {
		t.Fatalf("swept events = %v", em.swept)
	}
}

func TestSweepContainsPerRunPersistFailures(t *testing.T) {
	t.Parallel()

	st := &failingStore{Store: memory.New(), allowed: 3, err: errors.New("disk full")}
	eng := New(st, cleanup.NewRegistry(), WithLogger(testLogger()))
	ctx := context.Background()

	for _, runID := range []string{"stale-a", "stale-b", "stale-c"} {
		cp := checkpoint.New(runID)
		cp.StartedAt = time.Now().UTC().Add(-2 * time.Hour)
		if err := st.Upsert(ctx, cp); err != nil {
			t.Fatalf("seed %s: %v", runID, err)
		}
	}
	st.mu.Lock()
	st.allowed = 2 // first two sweep persists succeed, third fails
	st.mu.Unlock()

	report, err := eng.Sweep(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Sweep must not fail on a per-run persist error: %v", err)
	}
	if report.Cleaned != 2 {
		t.Fatalf("Cleaned = %d, want 2", report.Cleaned)
	}
}

func TestSweepAllCleanups(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	drained := map[string]int{}
	reg := cleanup.NewRegistry()
	reg.Register("delete_temp", func(_ context.Context, params map[string]any) error {
		mu.Lock()
		defer mu.Unlock()
		drained[params["path"].(string)]++
		return nil
	})

	st := memory.New()
	eng := New(st, reg, WithLogger(testLogger()))
	ctx := context.Background()

	// Pending cleanups on a running and on a failed run; one clean run.
	running := checkpoint.New("run-a").WithCleanup("delete_temp", map[string]any{"path": "/tmp/a"})
	failed := checkpoint.New("run-b").
		WithCleanup("delete_temp", map[string]any{"path": "/tmp/b"}).
		WithStatus(checkpoint.StatusFailed)
	clean := checkpoint.New("run-c")

	for _, cp := range []checkpoint.Checkpoint{running, failed, clean} {
		if err := st.Upsert(ctx, cp); err != nil {
			t.Fatalf("seed %s: %v", cp.RunID, err)
		}
	}

	processed, err := eng.SweepAllCleanups(ctx)
	if err != nil {
		t.Fatalf("SweepAllCleanups: %v", err)
	}
	if processed != 2 {
		t.Fatalf("processed = %d, want 2", processed)
	}
	if drained["/tmp/a"] != 1 || drained["/tmp/b"] != 1 {
		t.Fatalf("drained = %v", drained)
	}

	// Statuses untouched; queues cleared.
	gotA, err := st.FetchOne(ctx, "run-a")
	if err != nil {
		t.Fatalf("FetchOne run-a: %v", err)
	}
	if gotA.Status != checkpoint.StatusRunning || gotA.PendingCleanup() {
		t.Fatalf("run-a after drain = %+v", gotA)
	}
	gotB, err := st.FetchOne(ctx, "run-b")
	if err != nil {
		t.Fatalf("FetchOne run-b: %v", err)
	}
	if gotB.Status != checkpoint.StatusFailed || gotB.PendingCleanup() {
		t.Fatalf("run-b after drain = %+v", gotB)
	}

	// Nothing pending on a second pass.
	processed, err = eng.SweepAllCleanups(ctx)
	if err != nil {
		t.Fatalf("second SweepAllCleanups: %v", err)
	}
	if processed != 0 {
		t.Fatalf("second pass processed = %d, want 0", processed)
	}
}
