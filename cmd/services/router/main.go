package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quiltdb/quilt/internal/config"
	"github.com/quiltdb/quilt/internal/coordinator"
	"github.com/quiltdb/quilt/internal/events"
	"github.com/quiltdb/quilt/internal/logging"
	"github.com/quiltdb/quilt/internal/metadata"
	"github.com/quiltdb/quilt/internal/nodepool"
	"github.com/quiltdb/quilt/internal/router"
)

var (
	Version   = "dev"     // Injected via ldflags during build
	GitCommit = "unknown" // Injected via ldflags during build
	BuildTime = "unknown" // Injected via ldflags during build
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	logger.Info("Router service starting...",
		"version", Version, "commit", GitCommit, "build time", BuildTime)

	// Metadata registry (configurable backend)
	logger.Info("Opening metadata registry", "backend", cfg.Metadata.Backend)
	store, err := metadata.NewStore(cfg.Metadata)
	if err != nil {
		logger.Fatal("Failed to open metadata registry", "error", err)
	}
	defer func() { _ = store.Close() }()
	store = metadata.WithTimeout(store, cfg.Router.MetadataTimeout)

	// Audit event bus (configurable backend)
	logger.Info("Connecting to event bus", "type", cfg.Events.Type)
	publisher, err := events.NewPublisher(cfg.Events)
	if err != nil {
		logger.Fatal("Failed to connect to event bus", "error", err)
	}
	defer func() { _ = publisher.Close() }()
	emitter := events.NewEmitter(publisher, logger)

	// Connection pool over worker nodes
	pool := nodepool.NewManager(logger, nodepool.Config{
		MaxOpenConns: cfg.Router.NodeMaxOpenConns,
		MaxIdleConns: cfg.Router.NodeMaxIdleConns,
		OpenTimeout:  cfg.Router.NodeTimeout,
	})
	defer pool.CloseAll()

	writer := coordinator.NewWriteTargetRouter(logger, store, pool, emitter, cfg.Router)
	records := coordinator.NewRecordCoordinator(logger, store, pool, writer, emitter, cfg.Router)
	prober := coordinator.NewHealthProber(logger, store, pool, emitter, cfg.Router)

	if cfg.Auth.Enabled {
		logger.Info("API key authentication enabled", "num_keys", len(cfg.Auth.APIKeys))
	} else {
		logger.Warn("API key authentication DISABLED - all requests will be allowed")
	}

	app := router.New(logger, store, writer, records, prober, *cfg)

	prober.Start()

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.HTTPPort)
		logger.Info("Server listening", "address", addr)
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	prober.Stop()

	// Graceful shutdown with 10 second timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
