package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/iudanet/learnsync/internal/server/handlers"
	"github.com/iudanet/learnsync/internal/server/middleware"
)

// HealthPath не попадает в access log
const HealthPath = "/api/v1/health"

// Handlers обработчики, из которых собирается HTTP API
type Handlers struct {
	Auth   *handlers.AuthHandler
	Sync   *handlers.SyncHandler
	Status *handlers.StatusHandler
	Health *handlers.HealthHandler
}

// Limits лимитеры запросов: auth-маршруты ограничиваются по IP, синхронизация по пользователю
type Limits struct {
	Auth *middleware.RateLimiter
	Sync *middleware.RateLimiter
}

// NewRouter собирает маршруты API.
//
//	POST /api/v1/auth/register
//	POST /api/v1/auth/login
//	POST /api/v1/auth/refresh
//	POST /api/v1/auth/logout   (auth)
//	POST /api/v1/sync          (auth)
//	GET  /api/v1/sync/status   (auth)
//	GET  /api/v1/health
//
// Маршруты висят на корневом роутере: в подроутере с общим префиксом неверный метод дает 404 вместо 405.
func NewRouter(logger *slog.Logger, h Handlers, auth middleware.Authenticator, limits Limits) http.Handler {
	r := mux.NewRouter()

	r.Use(middleware.RecoveryMiddleware(logger))
	r.Use(middleware.LoggingWithSkip(logger, []string{HealthPath}))

	requireAuth := middleware.AuthMiddleware(logger, auth)

	var public []func(http.Handler) http.Handler
	if limits.Auth != nil {
		public = append(public, middleware.RateLimitMiddleware(limits.Auth, middleware.ByClientIP, logger))
	}
	r.Handle("/api/v1/auth/register", chain(http.HandlerFunc(h.Auth.Register), public...)).Methods(http.MethodPost)
	r.Handle("/api/v1/auth/login", chain(http.HandlerFunc(h.Auth.Login), public...)).Methods(http.MethodPost)
	r.Handle("/api/v1/auth/refresh", chain(http.HandlerFunc(h.Auth.Refresh), public...)).Methods(http.MethodPost)
	r.Handle("/api/v1/auth/logout", chain(http.HandlerFunc(h.Auth.Logout), append(public, requireAuth)...)).Methods(http.MethodPost)

	protected := []func(http.Handler) http.Handler{requireAuth}
	if limits.Sync != nil {
		// после AuthMiddleware, чтобы ключом был вызывающий
		protected = append(protected, middleware.RateLimitMiddleware(limits.Sync, middleware.ByCaller, logger))
	}
	r.Handle("/api/v1/sync", chain(http.HandlerFunc(h.Sync.HandleSync), protected...)).Methods(http.MethodPost)
	r.Handle("/api/v1/sync/status", chain(http.HandlerFunc(h.Status.HandleStatus), requireAuth)).Methods(http.MethodGet)

	r.HandleFunc(HealthPath, h.Health.Health).Methods(http.MethodGet)

	return r
}

// chain оборачивает обработчик middleware; первая в списке выполняется первой
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
