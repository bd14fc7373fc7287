// Package sqlite provides an embedded checkpoint store on SQLite, suited
// to single-process deployments and local development. Steps and cleanup
// actions are stored as JSON text.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/xraph/anchor"
	"github.com/xraph/anchor/checkpoint"
)

// Ensure Store implements checkpoint.Store at compile time.
var _ checkpoint.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS anchor_checkpoints (
    run_id        TEXT PRIMARY KEY,
    status        TEXT NOT NULL DEFAULT 'running',
    started_at    TIMESTAMP NOT NULL,
    completed_at  TIMESTAMP,
    steps         TEXT NOT NULL DEFAULT '{}',
    cleanup       TEXT NOT NULL DEFAULT '[]',
    updated_at    TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_anchor_checkpoints_stale
    ON anchor_checkpoints (status, started_at);
`

// Store is a SQLite implementation of checkpoint.Store using database/sql
// and the mattn/go-sqlite3 driver.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New opens (or creates) a SQLite database at path. Use ":memory:" for an
// ephemeral store. WAL mode and a busy timeout are enabled so concurrent
// readers do not starve the single writer.
func New(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("anchor/sqlite: open %s: %w", path, err)
	}
	// The sqlite3 driver serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	return NewFromDB(db, opts...), nil
}

// NewFromDB creates a Store over an existing *sql.DB with the sqlite3
// driver registered.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the checkpoint table and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("anchor/sqlite: migrate: %w: %w", anchor.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// FetchOne retrieves the checkpoint for a run.
func (s *Store) FetchOne(ctx context.Context, runID string) (checkpoint.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, status, started_at, completed_at, steps, cleanup
		FROM anchor_checkpoints WHERE run_id = ?`,
		runID,
	)
	cp, err := scanCheckpoint(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return checkpoint.Checkpoint{}, anchor.ErrRunNotFound
		}
		return checkpoint.Checkpoint{}, fmt.Errorf("anchor/sqlite: fetch run %s: %w", runID, err)
	}
	return cp, nil
}

// Upsert writes the checkpoint, replacing any existing row for the run.
func (s *Store) Upsert(ctx context.Context, cp checkpoint.Checkpoint) error {
	rec, err := cp.Record()
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO anchor_checkpoints (run_id, status, started_at, completed_at, steps, cleanup, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			steps = excluded.steps,
			cleanup = excluded.cleanup,
			updated_at = excluded.updated_at`,
		rec.RunID, rec.Status, rec.StartedAt, rec.CompletedAt, rec.Steps, rec.Cleanup, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("anchor/sqlite: upsert run %s: %w", cp.RunID, err)
	}
	return nil
}

// DeleteOne removes the checkpoint for a run. Absent runs are not an error.
func (s *Store) DeleteOne(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM anchor_checkpoints WHERE run_id = ?`, runID,
	); err != nil {
		return fmt.Errorf("anchor/sqlite: delete run %s: %w", runID, err)
	}
	return nil
}

// FetchStale returns running checkpoints started more than olderThan ago,
// oldest first.
func (s *Store) FetchStale(ctx context.Context, olderThan time.Duration) ([]checkpoint.Checkpoint, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, status, started_at, completed_at, steps, cleanup
		FROM anchor_checkpoints
		WHERE status = ? AND started_at <= ?
		ORDER BY started_at ASC`,
		string(checkpoint.StatusRunning), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("anchor/sqlite: fetch stale: %w", err)
	}
	defer rows.Close()
	return collectCheckpoints(rows)
}

// FetchPendingCleanups returns checkpoints with registered compensations,
// regardless of status.
func (s *Store) FetchPendingCleanups(ctx context.Context) ([]checkpoint.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, status, started_at, completed_at, steps, cleanup
		FROM anchor_checkpoints
		WHERE cleanup <> '[]'
		ORDER BY run_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("anchor/sqlite: fetch pending cleanups: %w", err)
	}
	defer rows.Close()
	return collectCheckpoints(rows)
}

func collectCheckpoints(rows *sql.Rows) ([]checkpoint.Checkpoint, error) {
	var cps []checkpoint.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("anchor/sqlite: scan row: %w", err)
		}
		cps = append(cps, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("anchor/sqlite: iterate rows: %w", err)
	}
	return cps, nil
}

func scanCheckpoint(scan func(...any) error) (checkpoint.Checkpoint, error) {
	var rec checkpoint.Record
	var steps, cleanup string

	if err := scan(&rec.RunID, &rec.Status, &rec.StartedAt, &rec.CompletedAt, &steps, &cleanup); err != nil {
		return checkpoint.Checkpoint{}, err
	}
	rec.Steps = steps
	rec.Cleanup = cleanup
	return checkpoint.FromRecord(rec)
}
