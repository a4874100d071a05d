package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/learnsync/internal/client/api"
	"github.com/iudanet/learnsync/internal/client/auth"
	"github.com/iudanet/learnsync/internal/client/iocli"
	"github.com/iudanet/learnsync/internal/client/outbox"
	"github.com/iudanet/learnsync/internal/client/storage/boltdb"
	"github.com/iudanet/learnsync/internal/client/sync"
)

const (
	defaultServerURL = "http://localhost:8080"
	defaultDBPath    = "learnsync-client.db"

	// passwordEnv пароль для неинтерактивного запуска
	passwordEnv = "LEARNSYNC_PASSWORD"
)

// Options глобальные флаги клиента
type Options struct {
	ServerURL   string
	DBPath      string
	Timeout     time.Duration
	BatchSize   int
	MaxAttempts int
	Verbose     bool
}

// App связывает команды с хранилищем и сервисами клиента.
// Хранилище открывается перед выполнением команды и закрывается в Close.
type App struct {
	io      iocli.IO
	logOut  io.Writer
	version string
	opts    Options

	store    *boltdb.Storage
	client   *api.Client
	sessions *auth.Service
	outbox   outbox.Service
	sync     sync.Service
}

// New создает приложение; logOut получает журнал клиента
func New(cliIO iocli.IO, logOut io.Writer, version string) *App {
	return &App{
		io:      cliIO,
		logOut:  logOut,
		version: version,
		opts: Options{
			ServerURL:   envOr("LEARNSYNC_SERVER", defaultServerURL),
			DBPath:      envOr("LEARNSYNC_CLIENT_DB", defaultDBPath),
			Timeout:     api.DefaultTimeout,
			BatchSize:   sync.DefaultBatchSize,
			MaxAttempts: outbox.DefaultMaxAttempts,
		},
	}
}

// Command собирает дерево команд
func (a *App) Command() *cobra.Command {
	root := &cobra.Command{
		Use:           "learnsync",
		Short:         "Offline-first client for the learning platform sync service",
		Version:       a.version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.opts.ServerURL, "server", a.opts.ServerURL, "server URL")
	flags.StringVar(&a.opts.DBPath, "db", a.opts.DBPath, "path to local database")
	flags.DurationVar(&a.opts.Timeout, "timeout", a.opts.Timeout, "timeout of a single server request")
	flags.IntVar(&a.opts.BatchSize, "batch-size", a.opts.BatchSize, "max mutations per sync request")
	flags.IntVar(&a.opts.MaxAttempts, "max-attempts", a.opts.MaxAttempts, "server_error attempts before a mutation fails")
	flags.BoolVarP(&a.opts.Verbose, "verbose", "v", false, "verbose logging")

	root.AddGroup(
		&cobra.Group{ID: "session", Title: "Session Commands:"},
		&cobra.Group{ID: "outbox", Title: "Outbox Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
	)

	root.AddCommand(
		a.registerCommand(),
		a.loginCommand(),
		a.logoutCommand(),
		a.enqueueCommand(),
		a.listCommand(),
		a.conflictsCommand(),
		a.discardCommand(),
		a.retryCommand(),
		a.syncCommand(),
		a.statusCommand(),
		a.resetCommand(),
	)

	return root
}

// Close закрывает локальное хранилище
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func (a *App) open(ctx context.Context) error {
	if a.opts.BatchSize <= 0 {
		return fmt.Errorf("--batch-size must be positive")
	}
	if a.opts.MaxAttempts <= 0 {
		return fmt.Errorf("--max-attempts must be positive")
	}

	level := slog.LevelWarn
	if a.opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(a.logOut, &slog.HandlerOptions{Level: level}))

	store, err := boltdb.New(ctx, a.opts.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open local database: %w", err)
	}
	a.store = store

	cfg := outbox.DefaultConfig()
	cfg.MaxAttempts = a.opts.MaxAttempts

	a.client = api.NewClient(a.opts.ServerURL, a.opts.Timeout)
	a.sessions = auth.NewService(a.client, store, logger)
	a.outbox = outbox.NewService(store, cfg, logger)
	a.sync = sync.NewService(a.client, a.sessions, a.outbox, sync.NewReporter(a.outbox, store, logger), a.opts.BatchSize, logger)
	return nil
}

// readPassword берет пароль из LEARNSYNC_PASSWORD или запрашивает без эха
func (a *App) readPassword(prompt string) (string, error) {
	if password := os.Getenv(passwordEnv); password != "" {
		return password, nil
	}

	password, err := a.io.ReadPassword(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	return password, nil
}

// usernameArg берет username из аргументов или запрашивает
func (a *App) usernameArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	username, err := a.io.ReadInput("Username: ")
	if err != nil {
		return "", fmt.Errorf("failed to read username: %w", err)
	}
	return strings.TrimSpace(username), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
