package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/Knights-Who-Say-Node/reviews/internal/app"
	"github.com/Knights-Who-Say-Node/reviews/internal/cluster"
	"github.com/Knights-Who-Say-Node/reviews/internal/config"
	"github.com/Knights-Who-Say-Node/reviews/pkg/logger"
)

func main() {
	// Load configuration from environment variables.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize structured logger.
	log := logger.New(config.ServiceName, cfg.LogLevel)

	// Create a context that is canceled on SIGINT or SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.ClusterEnabled && !cfg.IsWorker() {
		log.Info("starting reviews supervisor",
			slog.String("environment", cfg.Environment),
			slog.Int("http_port", cfg.HTTPPort),
			slog.Int("workers", cfg.ClusterWorkers),
		)
		supervisor := cluster.NewSupervisor(cluster.Config{
			Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
			Workers: cfg.ClusterWorkers,
		}, log)
		if err := supervisor.Run(ctx); err != nil {
			log.Error("supervisor error", slog.String("error", err.Error()))
			os.Exit(1)
		}
		log.Info("reviews supervisor stopped")
		return
	}

	if cfg.IsWorker() {
		log = log.With(slog.String("worker_id", cfg.WorkerID))
	}
	log.Info("starting reviews service",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
	)

	// Create the application with all dependencies wired.
	application, err := app.NewApp(cfg, log)
	if err != nil {
		log.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if cfg.IsWorker() {
		ln, err := cluster.InheritedListener()
		if err != nil {
			log.Error("failed to inherit listener", slog.String("error", err.Error()))
			os.Exit(1)
		}
		application.UseListener(ln)
	}

	// Run the application. This blocks until shutdown.
	if err := application.Run(ctx); err != nil {
		log.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("reviews service stopped")
}
