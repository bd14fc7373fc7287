// Package store defines the full persistence interface a backend must
// satisfy: the checkpoint contract plus lifecycle methods. Backends:
// Postgres, Bun, SQLite, Redis, Mongo, and Memory.
package store

import (
	"context"

	"github.com/xraph/anchor/checkpoint"
)

// Store is the aggregate persistence interface. The engine itself only
// needs checkpoint.Store; the lifecycle methods are for the owning
// application to migrate, health-check, and shut down the backend.
type Store interface {
	checkpoint.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
