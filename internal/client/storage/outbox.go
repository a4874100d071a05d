package storage

import (
	"context"
	"time"

	"github.com/iudanet/learnsync/internal/models"
)

// OutboxStorage defines interface for the durable client outbox.
// Records are ordered by ClientVersion, which the storage assigns on append.
type OutboxStorage interface {
	// AppendMutation assigns the next ClientVersion to m and stores it
	// Returns ErrMutationExists if a record with the same id is queued
	AppendMutation(ctx context.Context, m *models.Mutation) error

	// GetMutation retrieves a queued record by mutation id
	// Returns ErrMutationNotFound if record doesn't exist
	GetMutation(ctx context.Context, id string) (*models.Mutation, error)

	// ListMutations returns all queued records in ClientVersion order
	ListMutations(ctx context.Context) ([]*models.Mutation, error)

	// SaveBatch marks records as sent in batch and persists the in-flight pointer atomically
	SaveBatch(ctx context.Context, batch *InFlightBatch, records []*models.Mutation) error

	// GetInFlight returns the persisted in-flight batch or nil if there is none
	GetInFlight(ctx context.Context) (*InFlightBatch, error)

	// ApplyChange applies all parts of change in one transaction
	ApplyChange(ctx context.Context, change *OutboxChange) error
}

// InFlightBatch pointer to the batch awaiting a server response
type InFlightBatch struct {
	ClientWatermark time.Time `json:"client_watermark"`
	CreatedAt       time.Time `json:"created_at"`
	ID              string    `json:"id"`
	MutationIDs     []string  `json:"mutation_ids"`
}

// OutboxChange набор изменений outbox, применяемых одной транзакцией
type OutboxChange struct {
	// Tokens new sync tokens by entity; empty token removes the cache entry
	Tokens map[models.EntityKey]string
	// Replaced old mutation id -> the same record re-issued under a new id (ClientVersion is kept)
	Replaced map[string]*models.Mutation
	Updated  []*models.Mutation
	Removed  []string
	// ClearInFlight drops the in-flight batch pointer
	ClearInFlight bool
}

// SyncTokenStorage defines interface for the local cache of entity sync tokens
type SyncTokenStorage interface {
	// GetSyncToken returns the last token the server reported for the entity
	// Returns ErrSyncTokenNotFound if nothing is cached
	GetSyncToken(ctx context.Context, key models.EntityKey) (string, error)

	// SaveSyncToken stores token for the entity (used after fetching state out of band)
	SaveSyncToken(ctx context.Context, key models.EntityKey, token string) error
}
