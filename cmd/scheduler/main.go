// Package main implements the entry point for the conjure scheduler, the
// process that promotes due deferred tasks to ready, signals them to the
// workers, and sweeps for tasks whose dispatch signals were lost. Any number
// of scheduler instances may run against the same database.
package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver

	"github.com/phrazzld/conjure-api/internal/config"
	"github.com/phrazzld/conjure-api/internal/platform/logger"
	"github.com/phrazzld/conjure-api/internal/platform/postgres"
	"github.com/phrazzld/conjure-api/internal/platform/redisqueue"
	"github.com/phrazzld/conjure-api/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
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

	queue := redisqueue.NewQueue(client, cfg.Redis, appLogger)
	taskStore := postgres.NewPostgresTaskStore(db, appLogger)

	sched := scheduler.NewScheduler(taskStore, queue, cfg.Scheduler, appLogger)

	appLogger.Info("Scheduler process starting",
		"poll_interval", cfg.Scheduler.PollInterval,
		"batch_size", cfg.Scheduler.BatchSize)

	if err := sched.Run(ctx); err != nil {
		return fmt.Errorf("scheduler error: %w", err)
	}

	appLogger.Info("Scheduler shutdown completed")
	return nil
}
