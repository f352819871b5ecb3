// Package worker consumes dispatch signals and executes ready tasks against
// the configured generator. Signals are treated as hints: every signal is
// re-checked against the task row through a conditional claim, so duplicate,
// stale, and malformed signals are absorbed without side effects.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/conjure-api/internal/config"
	"github.com/phrazzld/conjure-api/internal/domain"
	"github.com/phrazzld/conjure-api/internal/generation"
	"github.com/phrazzld/conjure-api/internal/queue"
	"github.com/phrazzld/conjure-api/internal/store"
)

// defaultConcurrency is the consumer count when the config leaves it unset.
const defaultConcurrency = 2

// dequeueErrorDelay is how long a consumer waits after a queue transport
// error before polling again, so an unreachable backend is not hammered.
const dequeueErrorDelay = time.Second

// TaskStore is the slice of store.TaskStore the worker drives: claiming a
// signaled task and finalizing the outcome of its execution attempt.
type TaskStore interface {
	ClaimForExecution(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	Complete(ctx context.Context, id uuid.UUID, output string, meta domain.ExecutionMetadata) (*domain.Task, error)
	FailOrRetry(ctx context.Context, id uuid.UUID, taskErr string) (*domain.Task, error)
	FinalizeCancellation(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}

// DispatchQueue is the signal transport consumed by workers. Dequeue blocks
// up to the implementation's poll window; Enqueue re-signals a task that
// failed with attempts remaining.
type DispatchQueue interface {
	Enqueue(ctx context.Context, id uuid.UUID) error
	Dequeue(ctx context.Context) (uuid.UUID, error)
}

// Worker runs a pool of consumer goroutines over the dispatch queue. Each
// consumer claims signaled tasks, invokes the generator exactly once per
// claim, and writes the outcome back through the store. Retry scheduling is
// not the worker's job: FailOrRetry decides whether a failed task goes back
// to ready, and the worker only re-signals it when it does.
type Worker struct {
	store     TaskStore
	queue     DispatchQueue
	generator generation.Generator
	cfg       config.WorkerConfig
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies. A nil logger falls
// back to slog.Default; a non-positive concurrency falls back to the default.
func NewWorker(
	taskStore TaskStore,
	dispatch DispatchQueue,
	generator generation.Generator,
	cfg config.WorkerConfig,
	logger *slog.Logger,
) *Worker {
	if taskStore == nil {
		panic("store cannot be nil")
	}
	if dispatch == nil {
		panic("queue cannot be nil")
	}
	if generator == nil {
		panic("generator cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}

	return &Worker{
		store:     taskStore,
		queue:     dispatch,
		generator: generator,
		cfg:       cfg,
		logger:    logger.With("component", "worker"),
	}
}

// Run starts the consumer pool and blocks until ctx is cancelled and every
// consumer has returned. It always returns nil: per-task failures are
// recorded on the task rows, not surfaced to the caller.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "concurrency", w.cfg.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.consume(ctx, workerID)
		}(i)
	}
	wg.Wait()

	w.logger.Info("worker stopped")
	return nil
}

// consume is one consumer's dequeue loop. Empty polls and malformed signals
// keep the loop going; transport errors are retried after a short delay.
func (w *Worker) consume(ctx context.Context, workerID int) {
	logger := w.logger.With("worker_id", workerID)
	logger.Debug("consumer started")

	for {
		if ctx.Err() != nil {
			logger.Debug("consumer stopped")
			return
		}

		id, err := w.queue.Dequeue(ctx)
		switch {
		case err == nil:
			w.process(ctx, id, logger)
		case ctx.Err() != nil:
			logger.Debug("consumer stopped")
			return
		case errors.Is(err, queue.ErrEmpty):
			// Routine poll timeout.
		case errors.Is(err, queue.ErrMalformedSignal):
			logger.Warn("dropping malformed dispatch signal", "error", err)
		default:
			logger.Warn("failed to dequeue dispatch signal",
				"error", err,
				"retry_in", dequeueErrorDelay)
			select {
			case <-ctx.Done():
			case <-time.After(dequeueErrorDelay):
			}
		}
	}
}

// process executes one dispatch signal end to end. The claim is the
// authoritative check: whatever the signal said, only a task that is still
// ready transitions to executing here.
func (w *Worker) process(ctx context.Context, id uuid.UUID, logger *slog.Logger) {
	logger = logger.With("task_id", id)

	task, err := w.store.ClaimForExecution(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotClaimable):
			logger.Debug("dropping signal for unclaimable task", "error", err)
		case errors.Is(err, store.ErrTaskNotFound):
			logger.Debug("dropping signal for unknown task")
		default:
			logger.Error("failed to claim task", "error", err)
		}
		return
	}

	// First cancellation checkpoint: a cancel that arrived while the task
	// was waiting must win before the generator is ever invoked.
	if task.CancelRequested {
		w.finalizeCancellation(ctx, id, logger)
		return
	}

	logger.Info("executing task",
		"attempt", task.Attempts,
		"max_attempts", task.MaxAttempts)

	start := time.Now()
	result, genErr := w.generator.Generate(ctx, task.Prompt)
	latencyMs := time.Since(start).Milliseconds()

	if genErr != nil {
		w.recordFailure(ctx, id, genErr, latencyMs, logger)
		return
	}

	meta := domain.ExecutionMetadata{
		Provider:  result.Provider,
		Model:     result.ModelName,
		LatencyMs: int(latencyMs),
	}
	final, err := w.store.Complete(ctx, id, result.Output, meta)
	if err != nil {
		logger.Error("failed to record task completion", "error", err)
		return
	}

	// Second cancellation checkpoint: Complete discards the output when a
	// cancel arrived mid-execution, and the returned row says so.
	if final.Status == domain.TaskStatusCancelled {
		logger.Info("task cancelled during execution, output discarded",
			"latency_ms", latencyMs)
		return
	}

	logger.Info("task completed",
		"latency_ms", latencyMs,
		"attempt", final.Attempts)
}

// recordFailure writes a failed attempt through FailOrRetry and re-signals
// the task when the store sent it back to ready.
func (w *Worker) recordFailure(
	ctx context.Context,
	id uuid.UUID,
	genErr error,
	latencyMs int64,
	logger *slog.Logger,
) {
	final, err := w.store.FailOrRetry(ctx, id, genErr.Error())
	if err != nil {
		logger.Error("failed to record task failure", "error", err)
		return
	}

	switch final.Status {
	case domain.TaskStatusReady:
		logger.Warn("task attempt failed, requeued",
			"error", genErr,
			"latency_ms", latencyMs,
			"attempt", final.Attempts,
			"max_attempts", final.MaxAttempts)
		if err := w.queue.Enqueue(ctx, id); err != nil {
			logger.Warn("failed to re-signal requeued task, sweep will re-signal",
				"error", err)
		}
	case domain.TaskStatusCancelled:
		logger.Info("task cancelled during execution", "error", genErr)
	default:
		logger.Error("task failed permanently",
			"error", genErr,
			"latency_ms", latencyMs,
			"attempt", final.Attempts,
			"max_attempts", final.MaxAttempts)
	}
}

// finalizeCancellation lands a claimed task with a pending cancel in the
// cancelled state without invoking the generator.
func (w *Worker) finalizeCancellation(ctx context.Context, id uuid.UUID, logger *slog.Logger) {
	if _, err := w.store.FinalizeCancellation(ctx, id); err != nil {
		logger.Error("failed to finalize cancellation", "error", err)
		return
	}
	logger.Info("task cancelled before execution")
}
