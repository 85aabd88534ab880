// Command kasse-server serves the fund ledger as a JSON API with live event streams.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"kasse/internal/cli"
	"kasse/internal/config"
	apphttp "kasse/internal/http"
	"kasse/internal/ledger"
	"kasse/internal/log"
	"kasse/internal/services"
)

func main() {
	cli.LoadEnvFile()

	bootstrap := log.Default(log.ComponentApp)
	cfg := cli.MustLoadConfig(bootstrap)
	logger := cli.SetupLogger(cfg, os.Stdout, log.ComponentApp)

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(ctx context.Context, logger *log.Logger, cfg *config.Config) error {
	result, err := cli.InitBackend(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := result.Cleanup(); err != nil {
			logger.Warn("Backend cleanup failed", log.FieldError, err)
		}
	}()

	store := ledger.New(result.Slot, result.Notifier,
		ledger.WithKey(cfg.StorageKey),
		ledger.WithLogger(logger),
	)
	svc := services.NewFundService(store, logger)

	srv := apphttp.NewServer(apphttp.Config{
		Addr:              ":" + cfg.Port,
		SyncInterval:      cfg.SyncInterval,
		RequestsPerMinute: cfg.RequestsPerMinute,
	}, svc, result.Notifier, apphttp.ReadyFunc(result.Ready), logger)

	// event streams are long-lived, so only reads of the request body are bounded
	srv.ReadTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting kasse server",
			"port", cfg.Port,
			"storage", cfg.StorageBackend,
			"notify", cfg.NotifyBackend,
			log.FieldOperation, log.OpStartup)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return cli.GracefulShutdown(gctx, logger, 30*time.Second, srv.Shutdown)
	})
	return g.Wait()
}
