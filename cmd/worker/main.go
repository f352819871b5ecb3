// Package main implements the entry point for the conjure worker, the
// process that consumes dispatch signals, invokes the generative model, and
// records task outcomes. Any number of worker instances may run concurrently;
// conditional claims on the task rows keep executions exactly-once.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver

	"github.com/phrazzld/conjure-api/internal/config"
	"github.com/phrazzld/conjure-api/internal/generation"
	"github.com/phrazzld/conjure-api/internal/platform/gemini"
	"github.com/phrazzld/conjure-api/internal/platform/logger"
	"github.com/phrazzld/conjure-api/internal/platform/postgres"
	"github.com/phrazzld/conjure-api/internal/platform/redisqueue"
	"github.com/phrazzld/conjure-api/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Failed to start worker: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database, appLogger)
	if err != nil {
		return fmt.Errorf("failed to set up database: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			appLogger.Error("Error closing database connection", "error", cerr)
		}
	}()

	client, err := redisqueue.Connect(ctx, cfg.Redis, appLogger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			appLogger.Error("Error closing redis connection", "error", cerr)
		}
	}()

	generator, err := newGenerator(ctx, cfg.LLM, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize generator: %w", err)
	}
	appLogger.Info("Generator initialized", "provider", cfg.LLM.Provider, "model", cfg.LLM.ModelName)

	queue := redisqueue.NewQueue(client, cfg.Redis, appLogger)
	taskStore := postgres.NewPostgresTaskStore(db, appLogger)

	w := worker.NewWorker(taskStore, queue, generator, cfg.Worker, appLogger)

	appLogger.Info("Worker process starting", "concurrency", cfg.Worker.Concurrency)

	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("worker error: %w", err)
	}

	appLogger.Info("Worker shutdown completed")
	return nil
}

// newGenerator selects the generation backend from configuration. The mock
// provider exists so development environments can run the whole pipeline
// without a Gemini API key.
func newGenerator(
	ctx context.Context,
	cfg config.LLMConfig,
	appLogger *slog.Logger,
) (generation.Generator, error) {
	switch cfg.Provider {
	case "mock":
		appLogger.Warn("Using mock generation provider, no real model calls will be made")
		return generation.NewMockGenerator(cfg, appLogger), nil
	default:
		return gemini.NewGeminiGenerator(ctx, appLogger.With("component", "llm_generator"), cfg)
	}
}
