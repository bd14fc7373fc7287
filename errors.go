package anchor

import "errors"

var (
	// Store errors.
	ErrStoreClosed     = errors.New("anchor: store closed")
	ErrMigrationFailed = errors.New("anchor: migration failed")

	// Not found errors.
	ErrRunNotFound = errors.New("anchor: run not found")

	// Registry errors.
	ErrNoRunner = errors.New("anchor: no cleanup runner registered")

	// State errors.
	ErrInvalidStatus = errors.New("anchor: invalid status transition")
)
