package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/iudanet/learnsync/internal/client/cli"
	"github.com/iudanet/learnsync/internal/client/iocli"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Прерывание оставляет отправленный пакет in_flight; следующий sync отправит его повторно
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	app := cli.New(iocli.NewStdio(), os.Stderr, fmt.Sprintf("%s (built %s, commit %s)", Version, BuildDate, GitCommit))
	err := app.Command().ExecuteContext(ctx)

	if closeErr := app.Close(); closeErr != nil {
		slog.Error("failed to close database", slog.Any("error", closeErr))
	}
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
