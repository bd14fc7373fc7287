// Package checkpoint defines the durable state of a run and the pure
// transition functions that derive new checkpoints from old ones.
//
// A Checkpoint is a value: no transform mutates its receiver, and any
// component that needs the latest state must adopt the returned value.
// Shared maps and slices are cloned on write so an old checkpoint held by
// a caller never changes underneath it.
package checkpoint

import (
	"encoding/json"
	"time"

	"github.com/xraph/anchor/id"
)

// Status represents the lifecycle state of a run.
type Status string

const (
	// StatusRunning means the run is currently executing.
	StatusRunning Status = "running"
	// StatusCompleted means the run finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the run failed terminally.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepRecord stores the memoized outcome of a completed step.
type StepRecord struct {
	// Result is the step's JSON-encoded return value.
	Result json.RawMessage `json:"result,omitempty"`

	// InputHash is the fingerprint of the inputs that produced Result.
	// A step execution is replay-skipped only on an exact hash match.
	InputHash string `json:"input_hash"`

	// CompletedAt is when the step finished.
	CompletedAt time.Time `json:"completed_at"`
}

// CleanupAction is a registered compensation for a risky operation whose
// effects are not yet confirmed safe. Entries are append-only until
// explicitly cleared by type or wholesale.
type CleanupAction struct {
	// ID is assigned at registration time and never reused.
	ID id.CleanupID `json:"id"`

	// Type names the runner in the cleanup registry.
	Type string `json:"type"`

	// Params is the opaque argument map handed to the runner.
	Params map[string]any `json:"params,omitempty"`

	// RegisteredAt is when the compensation was registered.
	RegisteredAt time.Time `json:"registered_at"`
}

// Checkpoint is the durable state snapshot of one run.
type Checkpoint struct {
	RunID       string                `json:"run_id"`
	Status      Status                `json:"status"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	Steps       map[string]StepRecord `json:"steps,omitempty"`
	Cleanup     []CleanupAction       `json:"cleanup,omitempty"`
}

// New creates an empty running checkpoint for runID, started now.
func New(runID string) Checkpoint {
	return Checkpoint{
		RunID:     runID,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

// WithStep returns a checkpoint with steps[name] set to the given result
// and input hash, completed now. An existing record is overwritten.
func (cp Checkpoint) WithStep(name string, result json.RawMessage, inputHash string) Checkpoint {
	steps := cloneSteps(cp.Steps)
	steps[name] = StepRecord{
		Result:      result,
		InputHash:   inputHash,
		CompletedAt: time.Now().UTC(),
	}
	cp.Steps = steps
	return cp
}

// WithoutStep returns a checkpoint with steps[name] removed.
// No-op if the step is absent.
func (cp Checkpoint) WithoutStep(name string) Checkpoint {
	if _, ok := cp.Steps[name]; !ok {
		return cp
	}
	steps := cloneSteps(cp.Steps)
	delete(steps, name)
	cp.Steps = steps
	return cp
}

// CachedResult returns the memoized result for a step iff a record exists
// and its stored input hash equals inputHash exactly.
func (cp Checkpoint) CachedResult(name, inputHash string) (json.RawMessage, bool) {
	rec, ok := cp.Steps[name]
	if !ok || rec.InputHash != inputHash {
		return nil, false
	}
	return rec.Result, true
}

// WithCleanup returns a checkpoint with a new compensation action appended,
// carrying a freshly generated unique ID and registered now.
func (cp Checkpoint) WithCleanup(actionType string, params map[string]any) Checkpoint {
	actions := make([]CleanupAction, len(cp.Cleanup), len(cp.Cleanup)+1)
	copy(actions, cp.Cleanup)
	cp.Cleanup = append(actions, CleanupAction{
		ID:           id.NewCleanupID(),
		Type:         actionType,
		Params:       params,
		RegisteredAt: time.Now().UTC(),
	})
	return cp
}

// WithoutCleanup returns a checkpoint with every action of the given type
// removed. There may be zero, one, or many.
func (cp Checkpoint) WithoutCleanup(actionType string) Checkpoint {
	var kept []CleanupAction
	for _, a := range cp.Cleanup {
		if a.Type != actionType {
			kept = append(kept, a)
		}
	}
	cp.Cleanup = kept
	return cp
}

// ClearedCleanup returns a checkpoint with all pending actions removed.
func (cp Checkpoint) ClearedCleanup() Checkpoint {
	cp.Cleanup = nil
	return cp
}

// PendingCleanup reports whether any compensation actions are registered.
func (cp Checkpoint) PendingCleanup() bool {
	return len(cp.Cleanup) > 0
}

// WithStatus returns a checkpoint in the given status. Terminal statuses
// stamp CompletedAt with the transition time; StatusRunning clears it.
func (cp Checkpoint) WithStatus(status Status) Checkpoint {
	cp.Status = status
	if status == StatusRunning {
		cp.CompletedAt = nil
		return cp
	}
	now := time.Now().UTC()
	cp.CompletedAt = &now
	return cp
}

// Restarted returns a checkpoint reset for a fresh execution pass: pending
// cleanup dropped, status running, started now. Memoized steps survive so
// unchanged work replays from the checkpoint. Used by the crash-recovery
// path in Load.
func (cp Checkpoint) Restarted() Checkpoint {
	cp = cp.ClearedCleanup().WithStatus(StatusRunning)
	cp.StartedAt = time.Now().UTC()
	return cp
}

// Clone returns a deep copy. Stores that retain checkpoints in memory use
// it to keep persisted state isolated from caller-held values.
func (cp Checkpoint) Clone() Checkpoint {
	if cp.Steps != nil {
		cp.Steps = cloneSteps(cp.Steps)
	}
	if cp.Cleanup != nil {
		actions := make([]CleanupAction, len(cp.Cleanup))
		copy(actions, cp.Cleanup)
		for i := range actions {
			if actions[i].Params == nil {
				continue
			}
			params := make(map[string]any, len(actions[i].Params))
			for k, v := range actions[i].Params {
				params[k] = v
			}
			actions[i].Params = params
		}
		cp.Cleanup = actions
	}
	if cp.CompletedAt != nil {
		at := *cp.CompletedAt
		cp.CompletedAt = &at
	}
	return cp
}

func cloneSteps(steps map[string]StepRecord) map[string]StepRecord {
	out := make(map[string]StepRecord, len(steps)+1)
	for k, v := range steps {
		out[k] = v
	}
	return out
}
