package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/conjure-api/internal/config"
	"github.com/phrazzld/conjure-api/internal/platform/postgres"
	"github.com/phrazzld/conjure-api/internal/platform/redisqueue"
	"github.com/phrazzld/conjure-api/internal/service"
	"github.com/phrazzld/conjure-api/internal/store"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB
	redis  *redis.Client

	taskStore store.TaskStore
	taskQueue *redisqueue.Queue

	taskService service.TaskService
}

// newApplication creates a new application instance with all dependencies
// initialized. It accepts core dependencies like configuration, logger, and
// database connection that must be established before application
// initialization.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *sql.DB,
) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	// The API enqueues a dispatch signal whenever a task becomes ready
	// immediately (create, chain, or retry without a future schedule), so
	// it needs the queue as well as the store.
	client, err := redisqueue.Connect(ctx, cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	app.redis = client
	app.taskQueue = redisqueue.NewQueue(client, cfg.Redis, logger)

	app.taskStore = postgres.NewPostgresTaskStore(db, logger)

	app.taskService, err = service.NewTaskService(app.taskStore, app.taskQueue, cfg.Task, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	logger.Info("Application initialized successfully")
	return app, nil
}

// Run starts the application server, handling lifecycle and cleanup.
// It returns an error if the server fails to start or encounters problems.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("Error closing redis connection", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
