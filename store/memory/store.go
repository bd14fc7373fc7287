// Package memory provides a fully in-memory checkpoint store.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/anchor"
	"github.com/xraph/anchor/checkpoint"
)

// Ensure Store implements checkpoint.Store at compile time.
var _ checkpoint.Store = (*Store)(nil)

// Store holds checkpoints in a map keyed by run ID. Values are deep-cloned
// on the way in and out so caller-held checkpoints never alias stored state.
type Store struct {
	mu          sync.RWMutex
	checkpoints map[string]checkpoint.Checkpoint
	closed      bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		checkpoints: make(map[string]checkpoint.Checkpoint),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close marks the store closed. Subsequent operations fail.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// FetchOne retrieves the checkpoint for a run.
func (m *Store) FetchOne(_ context.Context, runID string) (checkpoint.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return checkpoint.Checkpoint{}, anchor.ErrStoreClosed
	}
	cp, ok := m.checkpoints[runID]
	if !ok {
		return checkpoint.Checkpoint{}, anchor.ErrRunNotFound
	}
	return cp.Clone(), nil
}

// Upsert writes the checkpoint, replacing any existing row for the run.
func (m *Store) Upsert(_ context.Context, cp checkpoint.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return anchor.ErrStoreClosed
	}
	m.checkpoints[cp.RunID] = cp.Clone()
	return nil
}

// DeleteOne removes the checkpoint for a run. Absent runs are not an error.
func (m *Store) DeleteOne(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return anchor.ErrStoreClosed
	}
	delete(m.checkpoints, runID)
	return nil
}

// FetchStale returns running checkpoints started more than olderThan ago,
// ordered oldest first.
func (m *Store) FetchStale(_ context.Context, olderThan time.Duration) ([]checkpoint.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, anchor.ErrStoreClosed
	}
	cutoff := time.Now().UTC().Add(-olderThan)

	var stale []checkpoint.Checkpoint
	for _, cp := range m.checkpoints {
		if cp.Status != checkpoint.StatusRunning {
			continue
		}
		if cp.StartedAt.After(cutoff) {
			continue
		}
		stale = append(stale, cp.Clone())
	}
	sort.Slice(stale, func(i, k int) bool {
		return stale[i].StartedAt.Before(stale[k].StartedAt)
	})
	return stale, nil
}

// FetchPendingCleanups returns checkpoints with registered compensations,
// regardless of status, ordered by run ID for determinism.
func (m *Store) FetchPendingCleanups(_ context.Context) ([]checkpoint.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, anchor.ErrStoreClosed
	}
	var pending []checkpoint.Checkpoint
	for _, cp := range m.checkpoints {
		if !cp.PendingCleanup() {
			continue
		}
		pending = append(pending, cp.Clone())
	}
	sort.Slice(pending, func(i, k int) bool {
		return pending[i].RunID < pending[k].RunID
	})
	return pending, nil
}
