// Package redis implements checkpoint.Store on Redis for high-throughput
// ephemeral workloads. Each checkpoint is a msgpack blob; index structures
// (a Set of runs with pending cleanup, a Sorted Set of running runs scored
// by start time) keep the sweep scans cheap.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/anchor"
	"github.com/xraph/anchor/checkpoint"
)

// Compile-time interface check.
var _ checkpoint.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements checkpoint.Store backed by Redis.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op — the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// FetchOne retrieves the checkpoint for a run.
func (s *Store) FetchOne(ctx context.Context, runID string) (checkpoint.Checkpoint, error) {
	data, err := s.client.Get(ctx, checkpointKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return checkpoint.Checkpoint{}, anchor.ErrRunNotFound
		}
		return checkpoint.Checkpoint{}, fmt.Errorf("anchor/redis: fetch run %s: %w", runID, err)
	}

	var m checkpointModel
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("anchor/redis: decode run %s: %w", runID, err)
	}
	return fromModel(m)
}

// Upsert writes the checkpoint blob and maintains the pending-cleanup and
// running indexes in one pipeline.
func (s *Store) Upsert(ctx context.Context, cp checkpoint.Checkpoint) error {
	data, err := msgpack.Marshal(toModel(cp))
	if err != nil {
		return fmt.Errorf("anchor/redis: encode run %s: %w", cp.RunID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, checkpointKey(cp.RunID), data, 0)

	if cp.PendingCleanup() {
		pipe.SAdd(ctx, pendingCleanupKey, cp.RunID)
	} else {
		pipe.SRem(ctx, pendingCleanupKey, cp.RunID)
	}

	if cp.Status == checkpoint.StatusRunning {
		pipe.ZAdd(ctx, runningStartedKey, redis.Z{
			Score:  float64(cp.StartedAt.UnixMilli()),
			Member: cp.RunID,
		})
	} else {
		pipe.ZRem(ctx, runningStartedKey, cp.RunID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("anchor/redis: upsert run %s: %w", cp.RunID, err)
	}
	return nil
}

// DeleteOne removes the checkpoint and its index entries. Absent runs are
// not an error.
func (s *Store) DeleteOne(ctx context.Context, runID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, checkpointKey(runID))
	pipe.SRem(ctx, pendingCleanupKey, runID)
	pipe.ZRem(ctx, runningStartedKey, runID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("anchor/redis: delete run %s: %w", runID, err)
	}
	return nil
}

// FetchStale returns running checkpoints started more than olderThan ago,
// oldest first, via the start-time index.
func (s *Store) FetchStale(ctx context.Context, olderThan time.Duration) ([]checkpoint.Checkpoint, error) {
	// Millisecond scores keep the cutoff comparison aligned with the
	// started_at <= cutoff semantics of the SQL backends; whole-second
	// scores would round runs stale up to a second early.
	cutoff := time.Now().UTC().Add(-olderThan).UnixMilli()

	runIDs, err := s.client.ZRangeByScore(ctx, runningStartedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("anchor/redis: scan stale index: %w", err)
	}
	return s.fetchMany(ctx, runIDs)
}

// FetchPendingCleanups returns checkpoints with registered compensations,
// regardless of status.
func (s *Store) FetchPendingCleanups(ctx context.Context) ([]checkpoint.Checkpoint, error) {
	runIDs, err := s.client.SMembers(ctx, pendingCleanupKey).Result()
	if err != nil {
		return nil, fmt.Errorf("anchor/redis: scan pending index: %w", err)
	}
	return s.fetchMany(ctx, runIDs)
}

// fetchMany resolves index members to checkpoints, skipping runs deleted
// since the index was read.
func (s *Store) fetchMany(ctx context.Context, runIDs []string) ([]checkpoint.Checkpoint, error) {
	var cps []checkpoint.Checkpoint
	for _, runID := range runIDs {
		cp, err := s.FetchOne(ctx, runID)
		if errors.Is(err, anchor.ErrRunNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	return cps, nil
}
