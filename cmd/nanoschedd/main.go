package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nanosched/internal/api"
	"nanosched/internal/config"
	"nanosched/internal/core"
	"nanosched/internal/logging"
	nanoschedmcp "nanosched/internal/mcp"
	"nanosched/internal/notify"
	"nanosched/internal/pipeline"
	"nanosched/internal/store"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	logger := logging.New(cfg.LogLevel)

	baseCtx := context.Background()
	storeInst, err := store.Open(baseCtx, cfg.StateDir, cfg.RunRetention)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer storeInst.DB.Close()

	gateway, err := pipeline.NewClient(cfg.GatewayURL, cfg.GatewayAPIKey, cfg.GatewayTimeout)
	if err != nil {
		logger.Error("create gateway client", "err", err)
		os.Exit(1)
	}

	var notifier notify.Notifier = &notify.NoOpNotifier{}
	if cfg.BarkEnabled && cfg.BarkURL != "" {
		bark, err := notify.NewBarkNotifier(cfg.BarkURL)
		if err != nil {
			logger.Warn("create bark notifier", "err", err)
		} else {
			notifier = bark
		}
	}

	lease := core.NewLeaseManager(storeInst, core.NewWorkerID(), cfg.LeaseTimeout)
	executor := core.NewExecutor(storeInst, gateway, notifier, logger)
	scheduler := core.NewScheduler(storeInst, executor, lease, logger, core.Options{
		PollInterval:    cfg.PollInterval,
		LeaseTimeout:    cfg.LeaseTimeout,
		MaxTasksPerTick: cfg.MaxTasksPerTick,
	})

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	scheduler.Start(ctx)

	switch cfg.Mode {
	case "http", "":
		runHTTPMode(cfg, storeInst, scheduler, logger, cancel)
	case "mcp":
		runMCPMode(storeInst, scheduler, logger, cancel)
	case "both":
		runBothMode(cfg, storeInst, scheduler, logger, cancel)
	default:
		logger.Error("invalid mode", "mode", cfg.Mode, "valid", []string{"http", "mcp", "both"})
		os.Exit(1)
	}
}

// runHTTPMode starts only the HTTP server.
func runHTTPMode(cfg *config.Config, store *store.Store, scheduler *core.Scheduler, logger *slog.Logger, cancel context.CancelFunc) {
	server, err := api.NewServer(cfg.Addr, cfg.AuthToken, store, scheduler, logger)
	if err != nil {
		logger.Error("create server", "err", err)
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}

	cancel()
	stopScheduler(scheduler, cfg.ShutdownGrace, logger)
}

// runMCPMode starts only the MCP server.
func runMCPMode(store *store.Store, scheduler *core.Scheduler, logger *slog.Logger, cancel context.CancelFunc) {
	mcpServer := nanoschedmcp.NewMCPServer(store, scheduler, logger)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigs
		logger.Info("received signal, shutting down...")
		cancel()
	}()

	if err := mcpServer.Run(); err != nil {
		logger.Error("mcp server error", "err", err)
		os.Exit(1)
	}
}

// runBothMode starts both HTTP and MCP servers.
func runBothMode(cfg *config.Config, store *store.Store, scheduler *core.Scheduler, logger *slog.Logger, cancel context.CancelFunc) {
	mcpServer := nanoschedmcp.NewMCPServer(store, scheduler, logger)
	mcpErr := make(chan error, 1)
	go func() {
		if err := mcpServer.Run(); err != nil {
			mcpErr <- err
		}
	}()

	server, err := api.NewServer(cfg.Addr, cfg.AuthToken, store, scheduler, logger)
	if err != nil {
		logger.Error("create server", "err", err)
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	case err := <-mcpErr:
		logger.Error("mcp server error", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}

	cancel()
	stopScheduler(scheduler, cfg.ShutdownGrace, logger)
	logger.Info("shutdown complete")
}

func stopScheduler(scheduler *core.Scheduler, grace time.Duration, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		logger.Warn("scheduler stop timed out")
	}
}
