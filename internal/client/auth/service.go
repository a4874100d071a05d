package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/learnsync/internal/client/storage"
	"github.com/iudanet/learnsync/internal/models"
	"github.com/iudanet/learnsync/internal/validation"
	"github.com/iudanet/learnsync/pkg/api"
)

// API методы сервера, используемые сервисом авторизации
type API interface {
	Register(ctx context.Context, req api.RegisterRequest) (*api.RegisterResponse, error)
	Login(ctx context.Context, req api.LoginRequest) (*api.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*api.TokenResponse, error)
	Logout(ctx context.Context, accessToken string) error
}

// Service управляет сессией клиента: регистрация, вход, обновление токенов и выход
type Service struct {
	api    API
	store  storage.AuthStorage
	logger *slog.Logger
	now    func() time.Time
}

// NewService создает новый сервис авторизации
func NewService(apiClient API, store storage.AuthStorage, logger *slog.Logger) *Service {
	return &Service{
		api:    apiClient,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// RegisterInput данные новой учетной записи
type RegisterInput struct {
	Username  string
	Password  string
	FirstName string
	LastName  string
	Email     string
	Role      string
}

// Register регистрирует нового пользователя; сессия не создается
func (s *Service) Register(ctx context.Context, in RegisterInput) (string, error) {
	if err := validation.ValidateUsername(in.Username); err != nil {
		return "", models.NewError(models.KindValidation, "invalid username", err)
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return "", models.NewError(models.KindValidation, "invalid password", err)
	}
	if err := validation.ValidateRole(in.Role); err != nil {
		return "", models.NewError(models.KindValidation, "invalid role", err)
	}

	resp, err := s.api.Register(ctx, api.RegisterRequest{
		Username:  in.Username,
		Password:  in.Password,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Role:      in.Role,
	})
	if err != nil {
		return "", fmt.Errorf("registration failed: %w", err)
	}

	s.logger.InfoContext(ctx, "user registered", slog.String("username", in.Username))
	return resp.UserID, nil
}

// Login выполняет аутентификацию и сохраняет сессию
func (s *Service) Login(ctx context.Context, username, password string) (*storage.AuthData, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return nil, models.NewError(models.KindValidation, "invalid username", err)
	}
	if err := validation.ValidatePassword(password); err != nil {
		return nil, models.NewError(models.KindValidation, "invalid password", err)
	}

	resp, err := s.api.Login(ctx, api.LoginRequest{Username: username, Password: password})
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	session := s.sessionFrom(username, resp)
	if err := s.store.SaveAuth(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.InfoContext(ctx, "logged in",
		slog.String("username", username),
		slog.String("role", session.Role))
	return session, nil
}

// Session возвращает сохраненную сессию.
// Если сессии нет, возвращается ошибка вида unauthenticated.
func (s *Service) Session(ctx context.Context) (*storage.AuthData, error) {
	session, err := s.store.GetAuth(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			return nil, models.NewError(models.KindUnauthenticated, "not logged in", err)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

// Refresh обменивает refresh token на новую пару токенов и сохраняет ее
func (s *Service) Refresh(ctx context.Context) (*storage.AuthData, error) {
	current, err := s.Session(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.api.Refresh(ctx, current.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	session := s.sessionFrom(current.Username, resp)
	if err := s.store.SaveAuth(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.DebugContext(ctx, "access token refreshed", slog.String("username", session.Username))
	return session, nil
}

// Logout удаляет локальную сессию и уведомляет сервер (best effort)
func (s *Service) Logout(ctx context.Context) error {
	session, err := s.store.GetAuth(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load session: %w", err)
	}

	if err := s.api.Logout(ctx, session.AccessToken); err != nil {
		// сервер недоступен или токен уже истек: локальная сессия удаляется в любом случае
		s.logger.WarnContext(ctx, "failed to logout on server", slog.Any("error", err))
	}

	if err := s.store.DeleteAuth(ctx); err != nil && !errors.Is(err, storage.ErrAuthNotFound) {
		return fmt.Errorf("failed to delete local session: %w", err)
	}
	return nil
}

func (s *Service) sessionFrom(username string, resp *api.TokenResponse) *storage.AuthData {
	return &storage.AuthData{
		Username:     username,
		UserID:       resp.UserID,
		Role:         resp.Role,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    s.now().Add(time.Duration(resp.ExpiresIn) * time.Second).Unix(),
	}
}
