package storage

import (
	"context"
	"time"

	"github.com/iudanet/learnsync/internal/models"
)

// UserStorage defines interface for user account persistence
type UserStorage interface {
	// CreateUser creates a new user account together with its "user" entity row,
	// so that profile updates can be synchronized like any other entity.
	// Returns ErrUserAlreadyExists if username or id is taken
	CreateUser(ctx context.Context, user *models.User) error

	// GetUserByUsername retrieves user by username
	// Returns ErrUserNotFound if user doesn't exist
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// GetUserByID retrieves user by ID
	// Returns ErrUserNotFound if user doesn't exist
	GetUserByID(ctx context.Context, userID string) (*models.User, error)

	// UpdateLastLogin updates the last login timestamp
	UpdateLastLogin(ctx context.Context, userID string, lastLogin time.Time) error
}
