package storage

import "errors"

// Common client storage errors
var (
	// ErrAuthNotFound indicates that no authentication data exists
	ErrAuthNotFound = errors.New("authentication data not found")

	// ErrMutationNotFound indicates that outbox has no record with given id
	ErrMutationNotFound = errors.New("mutation not found")

	// ErrMutationExists indicates that outbox already holds a record with given id
	ErrMutationExists = errors.New("mutation already exists")

	// ErrSyncTokenNotFound indicates that no sync token is cached for the entity
	ErrSyncTokenNotFound = errors.New("sync token not found")
)
