package storage

import (
	"context"

	"github.com/iudanet/learnsync/internal/models"
)

// EntityStorage defines the authoritative store used by the reconciliation engine
type EntityStorage interface {
	// WithinTx runs fn in a single transaction.
	// The transaction commits if fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx EntityTx) error) error

	// GetEntity retrieves entity outside of a transaction
	// Returns ErrEntityNotFound if entity doesn't exist
	GetEntity(ctx context.Context, key models.EntityKey) (*models.Entity, error)
}

// EntityTx defines operations available inside a transaction
type EntityTx interface {
	// GetEntity retrieves entity by key, tombstones included (Deleted is set)
	// Returns ErrEntityNotFound if entity never existed
	GetEntity(ctx context.Context, key models.EntityKey) (*models.Entity, error)

	// InsertEntity stores a new entity
	// Returns ErrEntityExists if the key is taken, even by a tombstone
	InsertEntity(ctx context.Context, entity *models.Entity) error

	// UpdateEntity replaces fields and sync token of a live entity
	// whose current token equals expectedToken.
	// Returns ErrSyncTokenMismatch if the token differs, ErrEntityNotFound if entity is absent or deleted
	UpdateEntity(ctx context.Context, entity *models.Entity, expectedToken string) error

	// DeleteEntity tombstones a live entity whose current token equals expectedToken.
	// entity carries the key, the tombstone token and the deletion time.
	// Returns ErrSyncTokenMismatch if the token differs, ErrEntityNotFound if entity is absent or deleted
	DeleteEntity(ctx context.Context, entity *models.Entity, expectedToken string) error

	// LookupOutcome retrieves the logged outcome for mutation id
	// Returns ErrOutcomeNotFound if the mutation was never logged
	LookupOutcome(ctx context.Context, mutationID string) (*models.SyncLogEntry, error)

	// RecordOutcome appends the outcome to the idempotency log
	RecordOutcome(ctx context.Context, entry *models.SyncLogEntry) error
}

// SyncLogStorage defines read access to the idempotency log
type SyncLogStorage interface {
	// GetSyncStatus summarizes the most recent logged batch of a user
	// Returns zero status if nothing was logged
	GetSyncStatus(ctx context.Context, userID string) (*models.SyncStatus, error)
}
