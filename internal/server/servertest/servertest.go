// Package servertest запускает полноценный сервер синхронизации для тестов клиента.
package servertest

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iudanet/learnsync/internal/server"
	"github.com/iudanet/learnsync/internal/server/engine"
	"github.com/iudanet/learnsync/internal/server/handlers"
	"github.com/iudanet/learnsync/internal/server/jwt"
	"github.com/iudanet/learnsync/internal/server/storage/sqlite"
)

// Start поднимает сервер на sqlite в памяти и возвращает его URL.
// Сервер и хранилище закрываются при завершении теста.
func Start(t *testing.T) string {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tokens := jwt.NewService("servertest-secret", time.Minute, time.Hour)
	router := server.NewRouter(logger, server.Handlers{
		Auth:   handlers.NewAuthHandler(logger, store, store, tokens),
		Sync:   handlers.NewSyncHandler(logger, engine.New(store, logger, 4), handlers.DefaultMaxBatchSize),
		Status: handlers.NewStatusHandler(logger, store),
		Health: handlers.NewHealthHandler(logger, store, "servertest"),
	}, server.NewAccountAuthenticator(tokens, store), server.Limits{})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv.URL
}
