package checkpoint_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/xraph/anchor/checkpoint"
)

func TestNew(t *testing.T) {
	cp := checkpoint.New("run-1")

	if cp.RunID != "run-1" {
		t.Errorf("RunID = %q, want %q", cp.RunID, "run-1")
	}
	if cp.Status != checkpoint.StatusRunning {
		t.Errorf("Status = %q, want %q", cp.Status, checkpoint.StatusRunning)
	}
	if cp.CompletedAt != nil {
		t.Error("fresh checkpoint should have nil CompletedAt")
	}
	if cp.StartedAt.IsZero() {
		t.Error("fresh checkpoint should have StartedAt set")
	}
	if len(cp.Steps) != 0 || len(cp.Cleanup) != 0 {
		t.Error("fresh checkpoint should have no steps or cleanup")
	}
}

func TestWithStep_DoesNotMutateReceiver(t *testing.T) {
	cp := checkpoint.New("run-1")
	next := cp.WithStep("build", json.RawMessage(`"artifact"`), "h1")

	if len(cp.Steps) != 0 {
		t.Error("original checkpoint mutated by WithStep")
	}
	rec, ok := next.Steps["build"]
	if !ok {
		t.Fatal("step missing from derived checkpoint")
	}
	if rec.InputHash != "h1" {
		t.Errorf("InputHash = %q, want %q", rec.InputHash, "h1")
	}
	if string(rec.Result) != `"artifact"` {
		t.Errorf("Result = %s, want %q", rec.Result, `"artifact"`)
	}
	if rec.CompletedAt.IsZero() {
		t.Error("step record should carry a completion time")
	}
}

func TestWithStep_Overwrites(t *testing.T) {
	cp := checkpoint.New("run-1").
		WithStep("build", json.RawMessage(`1`), "h1").
		WithStep("build", json.RawMessage(`2`), "h2")

	if len(cp.Steps) != 1 {
		t.Fatalf("steps = %d, want 1", len(cp.Steps))
	}
	if cp.Steps["build"].InputHash != "h2" {
		t.Errorf("InputHash = %q, want %q", cp.Steps["build"].InputHash, "h2")
	}
}

func TestWithoutStep(t *testing.T) {
	cp := checkpoint.New("run-1").WithStep("build", nil, "h1")

	next := cp.WithoutStep("build")
	if _, ok := next.Steps["build"]; ok {
		t.Error("step should be removed")
	}
	if _, ok := cp.Steps["build"]; !ok {
		t.Error("original checkpoint mutated by WithoutStep")
	}

	// Absent step is a no-op.
	same := next.WithoutStep("missing")
	if len(same.Steps) != len(next.Steps) {
		t.Error("removing an absent step changed the checkpoint")
	}
}

func TestCachedResult(t *testing.T) {
	cp := checkpoint.New("run-1").WithStep("build", json.RawMessage(`42`), "h1")

	if _, ok := cp.CachedResult("build", "other"); ok {
		t.Error("hash mismatch should be a cache miss")
	}
	if _, ok := cp.CachedResult("missing", "h1"); ok {
		t.Error("absent step should be a cache miss")
	}
	raw, ok := cp.CachedResult("build", "h1")
	if !ok {
		t.Fatal("exact hash match should be a cache hit")
	}
	if string(raw) != "42" {
		t.Errorf("cached result = %s, want 42", raw)
	}
}

func TestWithCleanup_UniqueIDs(t *testing.T) {
	cp := checkpoint.New("run-1").
		WithCleanup("delete_temp", map[string]any{"path": "/tmp/a"}).
		WithCleanup("delete_temp", map[string]any{"path": "/tmp/b"})

	if len(cp.Cleanup) != 2 {
		t.Fatalf("cleanup = %d, want 2", len(cp.Cleanup))
	}
	if cp.Cleanup[0].ID.String() == cp.Cleanup[1].ID.String() {
		t.Error("cleanup actions should get distinct IDs")
	}
	if cp.Cleanup[0].ID.IsNil() {
		t.Error("cleanup action ID should be assigned at registration")
	}
	if cp.Cleanup[0].RegisteredAt.IsZero() {
		t.Error("cleanup action should carry a registration time")
	}
}

func TestWithoutCleanup_RemovesAllOfType(t *testing.T) {
	cp := checkpoint.New("run-1").
		WithCleanup("delete_temp", nil).
		WithCleanup("revoke_upload", nil).
		WithCleanup("delete_temp", nil)

	next := cp.WithoutCleanup("delete_temp")
	if len(next.Cleanup) != 1 {
		t.Fatalf("cleanup = %d, want 1", len(next.Cleanup))
	}
	if next.Cleanup[0].Type != "revoke_upload" {
		t.Errorf("remaining type = %q, want %q", next.Cleanup[0].Type, "revoke_upload")
	}
	if len(cp.Cleanup) != 3 {
		t.Error("original checkpoint mutated by WithoutCleanup")
	}

	// Zero matches is fine.
	if got := next.WithoutCleanup("none"); len(got.Cleanup) != 1 {
		t.Error("removing an absent type changed the checkpoint")
	}
}

func TestWithStatus(t *testing.T) {
	cp := checkpoint.New("run-1")

	done := cp.WithStatus(checkpoint.StatusCompleted)
	if done.CompletedAt == nil || done.CompletedAt.IsZero() {
		t.Fatal("terminal status should stamp CompletedAt")
	}
	if !done.Status.Terminal() {
		t.Error("completed should be terminal")
	}

	back := done.WithStatus(checkpoint.StatusRunning)
	if back.CompletedAt != nil {
		t.Error("running status should clear CompletedAt")
	}
	if done.CompletedAt == nil {
		t.Error("original checkpoint mutated by WithStatus")
	}
}

func TestRestarted(t *testing.T) {
	cp := checkpoint.New("run-1").
		WithStep("build", json.RawMessage(`1`), "h1").
		WithCleanup("delete_temp", nil).
		WithStatus(checkpoint.StatusFailed)

	before := cp.StartedAt
	time.Sleep(time.Millisecond)
	next := cp.Restarted()

	if next.PendingCleanup() {
		t.Error("restart should drop pending cleanup")
	}
	if next.Status != checkpoint.StatusRunning {
		t.Errorf("Status = %q, want %q", next.Status, checkpoint.StatusRunning)
	}
	if next.CompletedAt != nil {
		t.Error("restart should clear CompletedAt")
	}
	if !next.StartedAt.After(before) {
		t.Error("restart should stamp a fresh StartedAt")
	}
	if _, ok := next.Steps["build"]; !ok {
		t.Error("restart must preserve memoized steps")
	}
}

func TestClone_Isolated(t *testing.T) {
	cp := checkpoint.New("run-1").
		WithStep("build", json.RawMessage(`1`), "h1").
		WithCleanup("delete_temp", map[string]any{"path": "/tmp/a"})

	cl := cp.Clone()
	cl.Steps["extra"] = checkpoint.StepRecord{InputHash: "x"}
	cl.Cleanup[0].Params["path"] = "/tmp/changed"

	if _, ok := cp.Steps["extra"]; ok {
		t.Error("clone shares the steps map")
	}
	if cp.Cleanup[0].Params["path"] != "/tmp/a" {
		t.Error("clone shares cleanup params")
	}
}
