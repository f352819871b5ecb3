package redisqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/conjure-api/internal/config"
)

// Connect establishes a Redis connection, retrying the initial ping so that
// the process can start before Redis does (common in compose setups).
func Connect(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis connection string: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.ConnectAttempts; attempt++ {
		client := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			logger.Info("redis connection established",
				slog.Int("attempt", attempt))
			return client, nil
		}
		lastErr = err

		// Close the failed client before retrying
		_ = client.Close()

		logger.Warn("redis ping failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", cfg.ConnectAttempts),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.ConnectBackoff):
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrRedisNotReady, lastErr)
}
