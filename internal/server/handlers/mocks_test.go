package handlers

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/learnsync/internal/models"
	"github.com/iudanet/learnsync/internal/server/storage"
)

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockApplier struct {
	applyFunc func(ctx context.Context, caller models.Caller, batch *models.Batch) ([]models.Outcome, error)
	calls     int
}

func (m *mockApplier) Apply(ctx context.Context, caller models.Caller, batch *models.Batch) ([]models.Outcome, error) {
	m.calls++
	return m.applyFunc(ctx, caller, batch)
}

type mockUserStorage struct {
	users map[string]*models.User
	mu    sync.Mutex
}

func newMockUserStorage() *mockUserStorage {
	return &mockUserStorage{users: make(map[string]*models.User)}
}

func (m *mockUserStorage) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username {
			return storage.ErrUserAlreadyExists
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *mockUserStorage) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, storage.ErrUserNotFound
}

func (m *mockUserStorage) GetUserByID(_ context.Context, userID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return nil, storage.ErrUserNotFound
}

func (m *mockUserStorage) UpdateLastLogin(_ context.Context, userID string, lastLogin time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	u.LastLogin = &lastLogin
	return nil
}

type mockTokenStorage struct {
	tokens map[string]*models.RefreshToken
	mu     sync.Mutex
}

func newMockTokenStorage() *mockTokenStorage {
	return &mockTokenStorage{tokens: make(map[string]*models.RefreshToken)}
}

func (m *mockTokenStorage) SaveRefreshToken(_ context.Context, token *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.Token] = token
	return nil
}

func (m *mockTokenStorage) GetRefreshToken(_ context.Context, token string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[token]; ok {
		return t, nil
	}
	return nil, storage.ErrTokenNotFound
}

func (m *mockTokenStorage) DeleteRefreshToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[token]; !ok {
		return storage.ErrTokenNotFound
	}
	delete(m.tokens, token)
	return nil
}

func (m *mockTokenStorage) DeleteUserTokens(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, t := range m.tokens {
		if t.UserID == userID {
			delete(m.tokens, k)
			n++
		}
	}
	return n, nil
}

func (m *mockTokenStorage) DeleteExpiredTokens(_ context.Context) (int, error) {
	return 0, nil
}

type mockIssuer struct {
	counter int
}

func (m *mockIssuer) GenerateAccessToken(user *models.User) (string, int64, error) {
	return "access-" + user.ID, 900, nil
}

func (m *mockIssuer) GenerateRefreshToken() (string, time.Time, error) {
	m.counter++
	return "refresh-" + string(rune('a'+m.counter)), time.Now().Add(time.Hour), nil
}

type mockSyncLog struct {
	status *models.SyncStatus
	err    error
}

func (m *mockSyncLog) GetSyncStatus(_ context.Context, _ string) (*models.SyncStatus, error) {
	return m.status, m.err
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(_ context.Context) error {
	return m.err
}
