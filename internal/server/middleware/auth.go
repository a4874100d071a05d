package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/iudanet/learnsync/internal/models"
	"github.com/iudanet/learnsync/internal/server/handlers"
)

// Authenticator превращает bearer-токен в идентичность вызывающего
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (models.Caller, error)
}

// AuthMiddleware создает middleware для проверки JWT токена.
// Аутентифицированный вызывающий кладется в контекст (handlers.CallerFrom).
func AuthMiddleware(logger *slog.Logger, auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := handlers.BearerToken(r)
			if !ok {
				logger.Warn("missing or malformed Authorization header", "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, "missing token")
				return
			}

			caller, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				logger.Warn("authentication failed", "path", r.URL.Path, "error", err)
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			logger.Debug("user authenticated", "user_id", caller.ID, "role", caller.Role)

			next.ServeHTTP(w, r.WithContext(handlers.WithCaller(r.Context(), caller)))
		})
	}
}
