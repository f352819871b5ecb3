package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/conjure-api/internal/config"
	"github.com/phrazzld/conjure-api/internal/queue"
)

// Queue is a Redis-list dispatch queue carrying task IDs from the scheduler
// (and the API, for immediately-ready tasks) to the workers. Delivery is
// at-least-once: duplicate signals are absorbed by the claim protocol on the
// store side.
type Queue struct {
	client         *redis.Client
	key            string
	dequeueTimeout time.Duration
	logger         *slog.Logger
}

var _ queue.Queue = (*Queue)(nil)

// NewQueue creates a dispatch queue over an established Redis client.
// If logger is nil, a default logger will be used.
func NewQueue(client *redis.Client, cfg config.RedisConfig, logger *slog.Logger) *Queue {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Queue{
		client:         client,
		key:            cfg.QueueKey,
		dequeueTimeout: cfg.DequeueTimeout,
		logger:         logger.With(slog.String("component", "dispatch_queue")),
	}
}

// Enqueue pushes a dispatch signal for the given task. Callers must only
// signal after the state transition that made the task ready has committed;
// a signal with no committed row behind it dispatches nothing.
func (q *Queue) Enqueue(ctx context.Context, id uuid.UUID) error {
	if err := q.client.LPush(ctx, q.key, id.String()).Err(); err != nil {
		q.logger.Error("failed to enqueue dispatch signal",
			slog.String("task_id", id.String()),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to enqueue dispatch signal: %w", err)
	}

	q.logger.Debug("dispatch signal enqueued",
		slog.String("task_id", id.String()))
	return nil
}

// Dequeue blocks for up to the configured timeout waiting for a signal.
// Returns queue.ErrEmpty when the window elapses with nothing to do and
// queue.ErrMalformedSignal when the payload is not a task ID.
func (q *Queue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	res, err := q.client.BRPop(ctx, q.dequeueTimeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, queue.ErrEmpty
		}
		return uuid.Nil, fmt.Errorf("failed to dequeue dispatch signal: %w", err)
	}

	// BRPOP returns the key and the popped value.
	if len(res) != 2 {
		return uuid.Nil, fmt.Errorf("%w: unexpected reply shape", queue.ErrMalformedSignal)
	}

	id, err := uuid.Parse(res[1])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", queue.ErrMalformedSignal, res[1])
	}

	return id, nil
}

// Len reports the number of pending signals, for health and debug surfaces.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}

// Ping verifies the Redis connection is alive.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close releases the underlying client connection.
func (q *Queue) Close() error {
	return q.client.Close()
}
