package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/learnsync/internal/crypto"
	"github.com/iudanet/learnsync/internal/models"
	"github.com/iudanet/learnsync/internal/server/storage"
	"github.com/iudanet/learnsync/internal/validation"
	"github.com/iudanet/learnsync/pkg/api"
)

// TokenIssuer выпускает пары access/refresh токенов
type TokenIssuer interface {
	GenerateAccessToken(user *models.User) (string, int64, error)
	GenerateRefreshToken() (string, time.Time, error)
}

// AuthHandler обрабатывает запросы авторизации
type AuthHandler struct {
	logger       *slog.Logger
	userStorage  storage.UserStorage
	tokenStorage storage.TokenStorage
	issuer       TokenIssuer
}

// NewAuthHandler создает новый handler для авторизации
func NewAuthHandler(logger *slog.Logger, userStorage storage.UserStorage, tokenStorage storage.TokenStorage, issuer TokenIssuer) *AuthHandler {
	return &AuthHandler{
		logger:       logger,
		userStorage:  userStorage,
		tokenStorage: tokenStorage,
		issuer:       issuer,
	}
}

// Register обрабатывает POST /api/v1/auth/register
// Регистрация нового пользователя
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode register request", slog.Any("error", err))
		sendError(w, h.logger, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := validation.Struct(req); err != nil {
		sendError(w, h.logger, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidateUsername(req.Username); err != nil {
		h.logger.WarnContext(ctx, "invalid username", slog.String("username", req.Username), slog.Any("error", err))
		sendError(w, h.logger, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidatePassword(req.Password); err != nil {
		sendError(w, h.logger, err.Error(), http.StatusBadRequest)
		return
	}

	role := models.RoleStudent
	if req.Role != "" {
		role = models.Role(req.Role)
	}
	// Администраторы создаются только при старте сервера
	if role == models.RoleAdmin {
		sendError(w, h.logger, "admin accounts cannot self-register", http.StatusForbidden)
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to hash password", slog.Any("error", err))
		sendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}

	if err := h.userStorage.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrUserAlreadyExists) {
			h.logger.WarnContext(ctx, "user already exists", slog.String("username", req.Username))
			sendError(w, h.logger, "username already taken", http.StatusConflict)
			return
		}
		h.logger.ErrorContext(ctx, "failed to create user", slog.Any("error", err))
		sendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.InfoContext(ctx, "user registered successfully",
		slog.String("username", user.Username),
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)))

	sendJSON(w, h.logger, api.RegisterResponse{
		UserID:  user.ID,
		Message: "User registered successfully",
	}, http.StatusCreated)
}

// Login обрабатывает POST /api/v1/auth/login
// Аутентификация пользователя
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode login request", slog.Any("error", err))
		sendError(w, h.logger, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := validation.Struct(req); err != nil {
		sendError(w, h.logger, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := h.userStorage.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			h.logger.WarnContext(ctx, "login failed: user not found", slog.String("username", req.Username))
			sendError(w, h.logger, "invalid credentials", http.StatusUnauthorized)
			return
		}
		h.logger.ErrorContext(ctx, "failed to get user", slog.Any("error", err))
		sendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	if err := crypto.CheckPassword(req.Password, user.PasswordHash); err != nil {
		h.logger.WarnContext(ctx, "login failed: invalid password", slog.String("username", req.Username))
		sendError(w, h.logger, "invalid credentials", http.StatusUnauthorized)
		return
	}

	if !user.IsActive {
		h.logger.WarnContext(ctx, "login failed: account disabled", slog.String("user_id", user.ID))
		sendError(w, h.logger, "account disabled", http.StatusUnauthorized)
		return
	}

	resp, ok := h.issueTokens(w, r, user)
	if !ok {
		return
	}

	if err := h.userStorage.UpdateLastLogin(ctx, user.ID, time.Now()); err != nil {
		// Не критичная ошибка, логируем но не прерываем
		h.logger.WarnContext(ctx, "failed to update last login", slog.Any("error", err))
	}

	h.logger.InfoContext(ctx, "user logged in successfully",
		slog.String("username", user.Username),
		slog.String("user_id", user.ID))

	sendJSON(w, h.logger, resp, http.StatusOK)
}

// Refresh обрабатывает POST /api/v1/auth/refresh
// Обновление access token с помощью refresh token (refresh token ротируется)
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	refreshToken, ok := BearerToken(r)
	if !ok {
		sendError(w, h.logger, "refresh token is required", http.StatusUnauthorized)
		return
	}

	stored, err := h.tokenStorage.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			h.logger.WarnContext(ctx, "refresh token not found")
			sendError(w, h.logger, "invalid refresh token", http.StatusUnauthorized)
			return
		}
		h.logger.ErrorContext(ctx, "failed to get refresh token", slog.Any("error", err))
		sendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	if stored.IsExpired() {
		h.logger.WarnContext(ctx, "refresh token expired", slog.String("user_id", stored.UserID))
		sendError(w, h.logger, "refresh token expired", http.StatusUnauthorized)
		return
	}

	user, err := h.userStorage.GetUserByID(ctx, stored.UserID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to get user", slog.Any("error", err))
		sendError(w, h.logger, "invalid refresh token", http.StatusUnauthorized)
		return
	}
	if !user.IsActive {
		sendError(w, h.logger, "account disabled", http.StatusUnauthorized)
		return
	}

	if err := h.tokenStorage.DeleteRefreshToken(ctx, refreshToken); err != nil {
		h.logger.WarnContext(ctx, "failed to delete old refresh token", slog.Any("error", err))
	}

	resp, ok := h.issueTokens(w, r, user)
	if !ok {
		return
	}

	h.logger.InfoContext(ctx, "tokens refreshed successfully", slog.String("user_id", user.ID))

	sendJSON(w, h.logger, resp, http.StatusOK)
}

// Logout обрабатывает POST /api/v1/auth/logout
// Выход пользователя: удаляются все refresh tokens вызывающего
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caller, ok := CallerFrom(ctx)
	if !ok {
		sendError(w, h.logger, "unauthorized", http.StatusUnauthorized)
		return
	}

	deleted, err := h.tokenStorage.DeleteUserTokens(ctx, caller.ID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to delete user tokens", slog.Any("error", err))
		sendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.InfoContext(ctx, "user logged out successfully",
		slog.String("user_id", caller.ID),
		slog.Int("tokens_deleted", deleted))

	w.WriteHeader(http.StatusNoContent)
}

// issueTokens выпускает и сохраняет пару токенов; при ошибке сам пишет ответ
func (h *AuthHandler) issueTokens(w http.ResponseWriter, r *http.Request, user *models.User) (api.TokenResponse, bool) {
	ctx := r.Context()

	accessToken, expiresIn, err := h.issuer.GenerateAccessToken(user)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to generate access token", slog.Any("error", err))
		sendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return api.TokenResponse{}, false
	}

	refreshToken, expiresAt, err := h.issuer.GenerateRefreshToken()
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to generate refresh token", slog.Any("error", err))
		sendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return api.TokenResponse{}, false
	}

	err = h.tokenStorage.SaveRefreshToken(ctx, &models.RefreshToken{
		Token:     refreshToken,
		UserID:    user.ID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to save refresh token", slog.Any("error", err))
		sendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return api.TokenResponse{}, false
	}

	return api.TokenResponse{
		UserID:       user.ID,
		Role:         string(user.Role),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    expiresIn,
	}, true
}
