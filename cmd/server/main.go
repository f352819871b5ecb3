// Package main implements the entry point for the conjure API server,
// which accepts long-running generation tasks over HTTP and exposes their
// lifecycle state. Task execution itself happens in the separate scheduler
// and worker processes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver

	"github.com/phrazzld/conjure-api/internal/config"
	"github.com/phrazzld/conjure-api/internal/platform/logger"
	"github.com/phrazzld/conjure-api/internal/platform/postgres"
)

func main() {
	migrate := flag.Bool("migrate", false, "apply pending database migrations before serving")
	flag.Parse()

	if err := run(*migrate); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// run loads configuration, sets up logging and the database connection,
// optionally applies migrations, and hands off to the application.
func run(migrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	appLogger.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel)

	ctx := context.Background()

	db, err := postgres.Open(ctx, cfg.Database, appLogger)
	if err != nil {
		return fmt.Errorf("failed to set up database: %w", err)
	}

	if migrate {
		if err := postgres.Migrate(ctx, db, appLogger); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		appLogger.Info("Database migrations applied")
	}

	app, err := newApplication(ctx, cfg, appLogger, db)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return app.Run(ctx)
}
