package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/learnsync/internal/models"
	"github.com/iudanet/learnsync/internal/server/storage"
)

func TestTokenStorage_SaveAndGetRefreshToken(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	userID := createTestUser(t, ctx, s)

	tests := []struct {
		name  string
		token *models.RefreshToken
	}{
		{
			name: "save new refresh token",
			token: &models.RefreshToken{
				Token:     "token123",
				UserID:    userID,
				ExpiresAt: time.Now().Add(24 * time.Hour),
				CreatedAt: time.Now(),
			},
		},
		{
			name: "replace existing token with same value",
			token: &models.RefreshToken{
				Token:     "token123",
				UserID:    userID,
				ExpiresAt: time.Now().Add(48 * time.Hour),
				CreatedAt: time.Now(),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, s.SaveRefreshToken(ctx, tt.token))

			retrieved, err := s.GetRefreshToken(ctx, tt.token.Token)
			require.NoError(t, err)
			assert.Equal(t, tt.token.UserID, retrieved.UserID)
			assert.WithinDuration(t, tt.token.ExpiresAt, retrieved.ExpiresAt, time.Second)
		})
	}

	_, err := s.GetRefreshToken(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestTokenStorage_DeleteRefreshToken(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	userID := createTestUser(t, ctx, s)
	require.NoError(t, s.SaveRefreshToken(ctx, &models.RefreshToken{
		Token:     "to-delete",
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}))

	require.NoError(t, s.DeleteRefreshToken(ctx, "to-delete"))
	assert.ErrorIs(t, s.DeleteRefreshToken(ctx, "to-delete"), storage.ErrTokenNotFound)
}

func TestTokenStorage_DeleteUserTokens(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	userID := createTestUser(t, ctx, s)
	otherID := createTestUser(t, ctx, s)

	for _, tok := range []struct{ token, user string }{
		{"a", userID}, {"b", userID}, {"c", otherID},
	} {
		require.NoError(t, s.SaveRefreshToken(ctx, &models.RefreshToken{
			Token:     tok.token,
			UserID:    tok.user,
			ExpiresAt: time.Now().Add(time.Hour),
			CreatedAt: time.Now(),
		}))
	}

	deleted, err := s.DeleteUserTokens(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, err = s.GetRefreshToken(ctx, "c")
	assert.NoError(t, err)
}

func TestTokenStorage_DeleteExpiredTokens(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	userID := createTestUser(t, ctx, s)

	require.NoError(t, s.SaveRefreshToken(ctx, &models.RefreshToken{
		Token:     "expired",
		UserID:    userID,
		ExpiresAt: time.Now().Add(-time.Hour),
		CreatedAt: time.Now().Add(-2 * time.Hour),
	}))
	require.NoError(t, s.SaveRefreshToken(ctx, &models.RefreshToken{
		Token:     "valid",
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}))

	deleted, err := s.DeleteExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = s.GetRefreshToken(ctx, "expired")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
	_, err = s.GetRefreshToken(ctx, "valid")
	assert.NoError(t, err)
}
