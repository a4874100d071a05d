package storage

import "errors"

// Common storage errors
var (
	// ErrUserNotFound indicates that user was not found in storage
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates that user with this username already exists
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrTokenNotFound indicates that refresh token was not found
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrEntityNotFound indicates that entity row does not exist
	ErrEntityNotFound = errors.New("entity not found")

	// ErrEntityExists indicates that entity row with this key already exists (tombstones included)
	ErrEntityExists = errors.New("entity already exists")

	// ErrSyncTokenMismatch indicates that the expected sync token is not the current one
	ErrSyncTokenMismatch = errors.New("sync token mismatch")

	// ErrOutcomeNotFound indicates that mutation id is absent from the idempotency log
	ErrOutcomeNotFound = errors.New("outcome not found")
)
