package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"

	"kasse/internal/backend"
	"kasse/internal/cli"
	"kasse/internal/core"
	"kasse/internal/ledger"
	"kasse/internal/log"
	"kasse/internal/services"
)

// app is the wiring every subcommand runs against.
type app struct {
	svc     *services.FundService
	backend *backend.BackendResult
	logger  *log.Logger
	out     io.Writer

	// polling period of watching tabs
	interval time.Duration
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return nil, err
	}
	// stdout belongs to fund views
	logger := cli.SetupLogger(cfg, os.Stderr, log.ComponentCLI)

	result, err := cli.InitBackend(ctx, logger, cfg)
	if err != nil {
		return nil, err
	}

	store := ledger.New(result.Slot, result.Notifier,
		ledger.WithKey(cfg.StorageKey),
		ledger.WithLogger(logger),
	)
	return &app{
		svc:      services.NewFundService(store, logger),
		backend:  result,
		logger:   logger,
		out:      os.Stdout,
		interval: cfg.SyncInterval,
	}, nil
}

func (a *app) Close() {
	if err := a.backend.Cleanup(); err != nil {
		a.logger.Warn("Backend cleanup failed", log.FieldError, err)
	}
}

// run sets up the app, runs fn and maps its error to an exit status.
func run(ctx context.Context, fn func(context.Context, *app) error) subcommands.ExitStatus {
	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	return exitStatus(os.Stderr, fn(ctx, a))
}

const (
	exitNotFound     subcommands.ExitStatus = 3
	exitConflict     subcommands.ExitStatus = 4
	exitInsufficient subcommands.ExitStatus = 5
)

// exitStatus prints err, if any, and picks the exit code for its kind.
func exitStatus(w io.Writer, err error) subcommands.ExitStatus {
	if err == nil {
		return subcommands.ExitSuccess
	}
	fmt.Fprintln(w, "Error:", err)

	var ve *core.ValidationError
	switch {
	case errors.As(err, &ve):
		return subcommands.ExitUsageError
	case errors.Is(err, core.ErrNotFound):
		return exitNotFound
	case errors.Is(err, core.ErrDuplicateID):
		return exitConflict
	case errors.Is(err, core.ErrInsufficientFunds):
		return exitInsufficient
	default:
		return subcommands.ExitFailure
	}
}
