// Command neuromanced is the conversation daemon. It is normally
// spawned by the neuromance CLI on first use and exits on its own after
// the configured idle interval.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/neuromance/neuromance/internal/config"
	"github.com/neuromance/neuromance/internal/core"
	"github.com/neuromance/neuromance/internal/daemon"
	"github.com/neuromance/neuromance/internal/manager"
	"github.com/neuromance/neuromance/internal/storage"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataDir, err := storage.DataDir()
	if err != nil {
		return err
	}
	store, err := storage.NewStore(dataDir, logger)
	if err != nil {
		return err
	}
	cfg, err := config.NewManager()
	if err != nil {
		return err
	}

	watcher, err := config.NewWatcher(cfg, logger)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		// Hot reload is a convenience; a missing config dir is not fatal.
		logger.Warn("config hot reload disabled", "error", err)
	} else {
		defer func() {
			if err := watcher.Stop(); err != nil {
				logger.Warn("stopping config watcher", "error", err)
			}
		}()
	}

	m := manager.NewManager(store, cfg, core.NewRegistry(), logger)
	server := daemon.NewServer(m, dataDir, logger)
	return server.Run(ctx)
}
