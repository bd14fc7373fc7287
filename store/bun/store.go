// Package bunstore provides a checkpoint store on the Bun ORM with the
// PostgreSQL dialect.
package bunstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/anchor"
	"github.com/xraph/anchor/checkpoint"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Ensure Store implements checkpoint.Store at compile time.
var _ checkpoint.Store = (*Store)(nil)

// Store is a Bun ORM implementation of checkpoint.Store.
// The caller owns the *bun.DB lifecycle; Store never closes it.
type Store struct {
	db     *bun.DB
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

// New creates a new Bun store. The caller owns the db lifecycle — the Store
// will not close it on Close().
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Migrate runs all embedded SQL migration files in order.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS anchor_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("anchor/bun: create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("anchor/bun: read migrations: %w", err)
	}

	// Sort by filename for deterministic order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var applied bool
		err = s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM anchor_migrations WHERE filename = $1)`,
			entry.Name(),
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("anchor/bun: check migration %s: %w", entry.Name(), err)
		}
		if applied {
			continue
		}

		data, readErr := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if readErr != nil {
			return fmt.Errorf("anchor/bun: read migration %s: %w", entry.Name(), readErr)
		}

		if _, execErr := s.db.ExecContext(ctx, string(data)); execErr != nil {
			return fmt.Errorf("anchor/bun: execute migration %s: %w: %w", entry.Name(), anchor.ErrMigrationFailed, execErr)
		}

		if _, recErr := s.db.ExecContext(ctx,
			`INSERT INTO anchor_migrations (filename) VALUES ($1)`,
			entry.Name(),
		); recErr != nil {
			return fmt.Errorf("anchor/bun: record migration %s: %w", entry.Name(), recErr)
		}

		s.logger.Info("applied migration", "file", entry.Name())
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the caller owns the *bun.DB.
func (s *Store) Close() error {
	return nil
}

// FetchOne retrieves the checkpoint for a run.
func (s *Store) FetchOne(ctx context.Context, runID string) (checkpoint.Checkpoint, error) {
	m := new(checkpointModel)
	err := s.db.NewSelect().Model(m).
		Where("run_id = ?", runID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return checkpoint.Checkpoint{}, anchor.ErrRunNotFound
		}
		return checkpoint.Checkpoint{}, fmt.Errorf("anchor/bun: fetch run %s: %w", runID, err)
	}
	return fromModel(m)
}

// Upsert writes the checkpoint, replacing any existing row for the run.
func (s *Store) Upsert(ctx context.Context, cp checkpoint.Checkpoint) error {
	m, err := toModel(cp)
	if err != nil {
		return err
	}

	_, err = s.db.NewInsert().Model(m).
		On("CONFLICT (run_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("started_at = EXCLUDED.started_at").
		Set("completed_at = EXCLUDED.completed_at").
		Set("steps = EXCLUDED.steps").
		Set("cleanup = EXCLUDED.cleanup").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("anchor/bun: upsert run %s: %w", cp.RunID, err)
	}
	return nil
}

// DeleteOne removes the checkpoint for a run. Absent runs are not an error.
func (s *Store) DeleteOne(ctx context.Context, runID string) error {
	_, err := s.db.NewDelete().Model((*checkpointModel)(nil)).
		Where("run_id = ?", runID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("anchor/bun: delete run %s: %w", runID, err)
	}
	return nil
}

// FetchStale returns running checkpoints started more than olderThan ago,
// oldest first.
func (s *Store) FetchStale(ctx context.Context, olderThan time.Duration) ([]checkpoint.Checkpoint, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	var models []checkpointModel
	err := s.db.NewSelect().Model(&models).
		Where("status = ?", string(checkpoint.StatusRunning)).
		Where("started_at <= ?", cutoff).
		OrderExpr("started_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("anchor/bun: fetch stale: %w", err)
	}
	return fromModels(models)
}

// FetchPendingCleanups returns checkpoints with registered compensations,
// regardless of status.
func (s *Store) FetchPendingCleanups(ctx context.Context) ([]checkpoint.Checkpoint, error) {
	var models []checkpointModel
	err := s.db.NewSelect().Model(&models).
		Where("jsonb_typeof(cleanup) = 'array' AND jsonb_array_length(cleanup) > 0").
		OrderExpr("run_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("anchor/bun: fetch pending cleanups: %w", err)
	}
	return fromModels(models)
}

func fromModels(models []checkpointModel) ([]checkpoint.Checkpoint, error) {
	cps := make([]checkpoint.Checkpoint, 0, len(models))
	for i := range models {
		cp, err := fromModel(&models[i])
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	return cps, nil
}
