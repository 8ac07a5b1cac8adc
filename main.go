package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"userdir/internal/config"
	"userdir/internal/logging"
)

func main() {
	if err := run(); err != nil {
		slog.Error("userdir exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	v, err := config.New()
	if err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("failed to release resources", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		return err
	}
	logger.Info("server gracefully stopped")
	return nil
}
