package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/learnsync/internal/crypto"
	"github.com/iudanet/learnsync/internal/models"
	"github.com/iudanet/learnsync/internal/server/storage"
)

// TokenAuthenticator проверяет подпись и срок действия access token
type TokenAuthenticator interface {
	Authenticate(token string) (models.Caller, error)
}

// AccountAuthenticator дополняет проверку токена проверкой учетной записи:
// пользователь должен существовать и быть активным. Роль берется из хранилища,
// поэтому смена роли действует без перевыпуска токена.
type AccountAuthenticator struct {
	tokens TokenAuthenticator
	users  storage.UserStorage
}

// NewAccountAuthenticator создает аутентификатор для AuthMiddleware
func NewAccountAuthenticator(tokens TokenAuthenticator, users storage.UserStorage) *AccountAuthenticator {
	return &AccountAuthenticator{tokens: tokens, users: users}
}

// Authenticate implements middleware.Authenticator.
func (a *AccountAuthenticator) Authenticate(ctx context.Context, token string) (models.Caller, error) {
	caller, err := a.tokens.Authenticate(token)
	if err != nil {
		return models.Caller{}, err
	}

	user, err := a.users.GetUserByID(ctx, caller.ID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.Caller{}, models.NewError(models.KindUnauthenticated, "unknown account", nil)
		}
		return models.Caller{}, fmt.Errorf("failed to load account: %w", err)
	}
	if !user.IsActive {
		return models.Caller{}, models.NewError(models.KindUnauthenticated, "account disabled", nil)
	}

	return models.Caller{ID: user.ID, Role: user.Role}, nil
}

// EnsureAdmin создает учетную запись администратора, если пользователя с таким
// именем еще нет. Существующая запись не изменяется.
func EnsureAdmin(ctx context.Context, logger *slog.Logger, users storage.UserStorage, username, password string) error {
	if username == "" {
		return nil
	}

	existing, err := users.GetUserByUsername(ctx, username)
	switch {
	case err == nil:
		if existing.Role != models.RoleAdmin {
			logger.WarnContext(ctx, "bootstrap admin username belongs to a non-admin account",
				slog.String("username", username), slog.String("role", string(existing.Role)))
		}
		return nil
	case !errors.Is(err, storage.ErrUserNotFound):
		return fmt.Errorf("failed to look up admin: %w", err)
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &models.User{
		ID:           uuid.New().String(),
		Username:     username,
		FirstName:    "Admin",
		LastName:     username,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
	if err := users.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}

	logger.InfoContext(ctx, "admin account created", slog.String("username", username), slog.String("user_id", admin.ID))
	return nil
}
