// Package mongo implements checkpoint.Store on MongoDB. Checkpoints are
// single documents keyed by run ID, so an Upsert is one ReplaceOne and the
// last durable write wins atomically.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/anchor"
	"github.com/xraph/anchor/checkpoint"
)

// colCheckpoints is the collection holding one document per run.
const colCheckpoints = "anchor_checkpoints"

// Ensure Store implements checkpoint.Store at compile time.
var _ checkpoint.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Store is a MongoDB implementation of checkpoint.Store. The caller owns
// the client lifecycle; Store never disconnects it.
type Store struct {
	db     *mongod.Database
	col    *mongod.Collection
	logger *slog.Logger
}

// New creates a new MongoDB store over the given database.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		col:    db.Collection(colCheckpoints),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Database returns the underlying *mongo.Database for advanced usage.
func (s *Store) Database() *mongod.Database {
	return s.db
}

// Migrate creates the indexes backing the sweep scans.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongod.IndexModel{
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "started_at", Value: 1}},
			Options: options.Index().SetName("idx_status_started"),
		},
		{
			Keys:    bson.D{{Key: "cleanup.0", Value: 1}},
			Options: options.Index().SetName("idx_pending_cleanup").SetSparse(true),
		},
	})
	if err != nil {
		return fmt.Errorf("anchor/mongo: create indexes: %w: %w", anchor.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op — the caller owns the client lifecycle.
func (s *Store) Close() error { return nil }

// FetchOne retrieves the checkpoint for a run.
func (s *Store) FetchOne(ctx context.Context, runID string) (checkpoint.Checkpoint, error) {
	var doc checkpointDoc
	err := s.col.FindOne(ctx, bson.M{"_id": runID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongod.ErrNoDocuments) {
			return checkpoint.Checkpoint{}, anchor.ErrRunNotFound
		}
		return checkpoint.Checkpoint{}, fmt.Errorf("anchor/mongo: fetch run %s: %w", runID, err)
	}
	return fromDoc(&doc)
}

// Upsert writes the checkpoint, replacing any existing document for the run.
func (s *Store) Upsert(ctx context.Context, cp checkpoint.Checkpoint) error {
	_, err := s.col.ReplaceOne(ctx,
		bson.M{"_id": cp.RunID},
		toDoc(cp),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("anchor/mongo: upsert run %s: %w", cp.RunID, err)
	}
	return nil
}

// DeleteOne removes the checkpoint for a run. Absent runs are not an error.
func (s *Store) DeleteOne(ctx context.Context, runID string) error {
	if _, err := s.col.DeleteOne(ctx, bson.M{"_id": runID}); err != nil {
		return fmt.Errorf("anchor/mongo: delete run %s: %w", runID, err)
	}
	return nil
}

// FetchStale returns running checkpoints started more than olderThan ago,
// oldest first.
func (s *Store) FetchStale(ctx context.Context, olderThan time.Duration) ([]checkpoint.Checkpoint, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	cursor, err := s.col.Find(ctx,
		bson.M{
			"status":     string(checkpoint.StatusRunning),
			"started_at": bson.M{"$lte": cutoff},
		},
		options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("anchor/mongo: fetch stale: %w", err)
	}
	return collectCheckpoints(ctx, cursor)
}

// FetchPendingCleanups returns checkpoints with registered compensations,
// regardless of status.
func (s *Store) FetchPendingCleanups(ctx context.Context) ([]checkpoint.Checkpoint, error) {
	cursor, err := s.col.Find(ctx,
		bson.M{"cleanup.0": bson.M{"$exists": true}},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("anchor/mongo: fetch pending cleanups: %w", err)
	}
	return collectCheckpoints(ctx, cursor)
}

func collectCheckpoints(ctx context.Context, cursor *mongod.Cursor) ([]checkpoint.Checkpoint, error) {
	defer cursor.Close(ctx) //nolint:errcheck // read-only cursor

	var cps []checkpoint.Checkpoint
	for cursor.Next(ctx) {
		var doc checkpointDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("anchor/mongo: decode document: %w", err)
		}
		cp, err := fromDoc(&doc)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("anchor/mongo: iterate cursor: %w", err)
	}
	return cps, nil
}
