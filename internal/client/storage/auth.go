package storage

import (
	"context"
)

// AuthStorage defines interface for storing the client session
type AuthStorage interface {
	// SaveAuth stores session data, replacing any previous session
	SaveAuth(ctx context.Context, auth *AuthData) error

	// GetAuth retrieves stored session data
	// Returns ErrAuthNotFound if no session exists
	GetAuth(ctx context.Context) (*AuthData, error)

	// DeleteAuth removes stored session data (logout)
	DeleteAuth(ctx context.Context) error

	// IsAuthenticated checks if a session exists and its access token is not expired
	IsAuthenticated(ctx context.Context) (bool, error)
}

// AuthData represents the client session in storage
type AuthData struct {
	Username     string `json:"username"`
	UserID       string `json:"user_id"`
	Role         string `json:"role"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"` // unix seconds
}
