package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iudanet/learnsync/internal/config"
	"github.com/iudanet/learnsync/internal/server"
	"github.com/iudanet/learnsync/internal/server/engine"
	"github.com/iudanet/learnsync/internal/server/handlers"
	"github.com/iudanet/learnsync/internal/server/jwt"
	"github.com/iudanet/learnsync/internal/server/middleware"
	"github.com/iudanet/learnsync/internal/server/storage/sqlite"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// tokenCleanupInterval период удаления истекших refresh tokens
const tokenCleanupInterval = time.Hour

func main() {
	if err := run(); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "learnsync server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	if cfg.ShowVersion {
		printVersion()
		return nil
	}

	logger := cfg.Logging.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	if err := server.EnsureAdmin(ctx, logger, store, cfg.Admin.Username, cfg.Admin.Password); err != nil {
		return err
	}

	tokens := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL, cfg.JWT.RefreshTokenTTL)
	eng := engine.New(store, logger, cfg.Sync.Workers)

	authLimiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer authLimiter.Stop()
	syncLimiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer syncLimiter.Stop()

	router := server.NewRouter(logger, server.Handlers{
		Auth:   handlers.NewAuthHandler(logger, store, store, tokens),
		Sync:   handlers.NewSyncHandler(logger, eng, cfg.Sync.MaxBatchSize),
		Status: handlers.NewStatusHandler(logger, store),
		Health: handlers.NewHealthHandler(logger, store, Version),
	}, server.NewAccountAuthenticator(tokens, store), server.Limits{
		Auth: authLimiter,
		Sync: syncLimiter,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go cleanupTokens(ctx, logger, store)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("learnsync server starting",
			slog.String("addr", cfg.Server.Addr),
			slog.String("version", Version),
			slog.Int("workers", cfg.Sync.Workers))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// tokenDeleter удаляет истекшие refresh tokens
type tokenDeleter interface {
	DeleteExpiredTokens(ctx context.Context) (int, error)
}

func cleanupTokens(ctx context.Context, logger *slog.Logger, tokens tokenDeleter) {
	ticker := time.NewTicker(tokenCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := tokens.DeleteExpiredTokens(ctx)
			if err != nil {
				logger.Error("failed to delete expired tokens", slog.Any("error", err))
				continue
			}
			if deleted > 0 {
				logger.Info("expired refresh tokens deleted", slog.Int("count", deleted))
			}
		}
	}
}

func printVersion() {
	fmt.Printf("LearnSync Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
