// Package scheduler promotes due deferred tasks to ready and signals them
// for execution. Multiple scheduler instances can run against the same
// database: claims use row locks that skip contended rows, and duplicate
// dispatch signals are absorbed by the workers' claim step.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/conjure-api/internal/config"
)

// jitterMax is added (0..jitterMax) to every sleep so restarted scheduler
// instances do not tick in lockstep.
const jitterMax = 250 * time.Millisecond

// reconcileLimit bounds how many stale rows a single sweep inspects.
const reconcileLimit = 100

// TaskStore is the slice of the task store the scheduler drives.
type TaskStore interface {
	// ClaimDue atomically promotes due deferred tasks to ready, at most
	// limit of them, and returns their IDs.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// StaleReady returns IDs of ready tasks untouched since olderThan.
	StaleReady(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)

	// StaleExecuting returns IDs of executing tasks untouched since olderThan.
	StaleExecuting(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)
}

// DispatchQueue signals claimed tasks to the workers.
type DispatchQueue interface {
	Enqueue(ctx context.Context, id uuid.UUID) error
}

// Scheduler runs the poll loop: claim a batch of due tasks, signal each one
// strictly after the claim has committed, and periodically reconcile rows
// whose signals were lost.
type Scheduler struct {
	store  TaskStore
	queue  DispatchQueue
	cfg    config.SchedulerConfig
	logger *slog.Logger
}

// NewScheduler creates a Scheduler. Zero config values fall back to the
// documented defaults so partially filled test configs stay usable.
func NewScheduler(
	store TaskStore,
	queue DispatchQueue,
	cfg config.SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	if store == nil {
		panic("store cannot be nil")
	}
	if queue == nil {
		panic("queue cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 15 * time.Second
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = time.Minute
	}
	if cfg.ReadyGracePeriod <= 0 {
		cfg.ReadyGracePeriod = 30 * time.Second
	}
	if cfg.ExecutingWarnAfter <= 0 {
		cfg.ExecutingWarnAfter = 10 * time.Minute
	}

	return &Scheduler{
		store:  store,
		queue:  queue,
		cfg:    cfg,
		logger: logger.With("component", "scheduler"),
	}
}

// Run blocks, ticking every poll interval until ctx ends. Transient store
// errors back off exponentially between BackoffMin and BackoffMax and the
// backoff resets after a successful tick. Returns nil on a clean shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"poll_interval", s.cfg.PollInterval,
		"batch_size", s.cfg.BatchSize,
		"reconcile_interval", s.cfg.ReconcileInterval)

	backoff := s.cfg.BackoffMin
	lastReconcile := time.Now()

	for {
		claimed, err := s.tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.Error("scheduler tick failed",
				"error", err,
				"backoff", backoff)
			if !s.sleep(ctx, backoff) {
				break
			}
			backoff *= 2
			if backoff > s.cfg.BackoffMax {
				backoff = s.cfg.BackoffMax
			}
			continue
		}
		backoff = s.cfg.BackoffMin

		if claimed > 0 {
			s.logger.Info("promoted due tasks", "count", claimed)
		}

		if time.Since(lastReconcile) >= s.cfg.ReconcileInterval {
			s.reconcile(ctx)
			lastReconcile = time.Now()
		}

		if !s.sleep(ctx, s.cfg.PollInterval) {
			break
		}
	}

	s.logger.Info("scheduler stopped")
	return nil
}

// tick claims one batch of due tasks and signals each of them. Signals go
// out only after ClaimDue has committed the promotion, so a crash between
// the two leaves ready rows behind for the sweep rather than signals for
// rows that do not exist. Per-task signal failures are logged and left to
// the sweep as well.
func (s *Scheduler) tick(ctx context.Context) (int, error) {
	ids, err := s.store.ClaimDue(ctx, time.Now().UTC(), s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := s.queue.Enqueue(ctx, id); err != nil {
			s.logger.Warn("failed to enqueue dispatch signal, sweep will re-signal",
				"error", err,
				"task_id", id)
		}
	}

	return len(ids), nil
}

// reconcile re-signals ready tasks whose dispatch signal apparently never
// arrived, and reports executing tasks that have been running suspiciously
// long. Duplicate signals are harmless: the claim step absorbs them.
func (s *Scheduler) reconcile(ctx context.Context) {
	now := time.Now().UTC()

	staleReady, err := s.store.StaleReady(ctx, now.Add(-s.cfg.ReadyGracePeriod), reconcileLimit)
	if err != nil {
		s.logger.Error("failed to list stale ready tasks", "error", err)
	} else {
		for _, id := range staleReady {
			if err := s.queue.Enqueue(ctx, id); err != nil {
				s.logger.Warn("failed to re-signal stale ready task",
					"error", err,
					"task_id", id)
			}
		}
		if len(staleReady) > 0 {
			s.logger.Info("re-signaled stale ready tasks", "count", len(staleReady))
		}
	}

	staleExecuting, err := s.store.StaleExecuting(
		ctx, now.Add(-s.cfg.ExecutingWarnAfter), reconcileLimit)
	if err != nil {
		s.logger.Error("failed to list stale executing tasks", "error", err)
		return
	}
	if len(staleExecuting) > 0 {
		// Observation only: without per-attempt lease tokens, resurrecting
		// these rows could run the same attempt twice.
		s.logger.Warn("tasks have been executing longer than expected",
			"count", len(staleExecuting),
			"task_ids", staleExecuting,
			"threshold", s.cfg.ExecutingWarnAfter)
	}
}

// sleep waits for d plus up to jitterMax, returning false when the context
// ended first.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	jitter := time.Duration(rand.Int63n(int64(jitterMax)))

	select {
	case <-ctx.Done():
		return false
	case <-time.After(d + jitter):
		return true
	}
}
