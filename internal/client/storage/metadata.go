package storage

import (
	"context"
	"time"
)

// MetadataStorage defines interface for storing client sync metadata
type MetadataStorage interface {
	// SaveLastSyncAt saves the watermark: the server time of the last fully reconciled batch
	SaveLastSyncAt(ctx context.Context, at time.Time) error

	// GetLastSyncAt retrieves the watermark
	// Returns zero time if no sync has been performed yet
	GetLastSyncAt(ctx context.Context) (time.Time, error)
}
