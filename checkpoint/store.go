package checkpoint

import (
	"context"
	"time"
)

// Store defines the persistence contract for checkpoints. Implementations
// live under store/; the composite store.Store adds lifecycle methods.
type Store interface {
	// FetchOne retrieves the checkpoint for a run.
	// Returns anchor.ErrRunNotFound when no checkpoint exists.
	FetchOne(ctx context.Context, runID string) (Checkpoint, error)

	// Upsert durably writes the checkpoint, idempotent by run ID.
	// The last successful write wins.
	Upsert(ctx context.Context, cp Checkpoint) error

	// DeleteOne removes the checkpoint row entirely.
	// Deleting an absent run is not an error.
	DeleteOne(ctx context.Context, runID string) error

	// FetchStale returns running checkpoints whose StartedAt is older
	// than now minus olderThan.
	FetchStale(ctx context.Context, olderThan time.Duration) ([]Checkpoint, error)

	// FetchPendingCleanups returns checkpoints with a non-empty cleanup
	// list, regardless of status.
	FetchPendingCleanups(ctx context.Context) ([]Checkpoint, error)
}
