package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/conjure-api/internal/domain"
	"github.com/phrazzld/conjure-api/internal/platform/logger"
	"github.com/phrazzld/conjure-api/internal/store"
)

// ClaimDue implements store.TaskStore.ClaimDue
// It moves up to limit due deferred tasks to ready in one statement and
// returns their IDs. FOR UPDATE SKIP LOCKED makes racing schedulers skip
// rows another instance is claiming instead of blocking or double-claiming.
func (s *PostgresTaskStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	if limit <= 0 {
		return []uuid.UUID{}, nil
	}

	query := `
		WITH due AS (
			SELECT id
			FROM tasks
			WHERE status = $1
			  AND (scheduled_for IS NULL OR scheduled_for <= $2)
			ORDER BY scheduled_for
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE tasks AS t
		SET status = $4, updated_at = $2
		FROM due
		WHERE t.id = due.id
		RETURNING t.id
	`

	rows, err := s.db.QueryContext(
		ctx,
		query,
		domain.TaskStatusDeferred,
		now.UTC(),
		limit,
		domain.TaskStatusReady,
	)
	if err != nil {
		log.Error("failed to claim due tasks",
			slog.String("error", err.Error()))
		return nil, err
	}

	ids, err := collectIDs(rows)
	if err != nil {
		log.Error("failed to read claimed task IDs",
			slog.String("error", err.Error()))
		return nil, err
	}

	if len(ids) > 0 {
		log.Info("claimed due tasks", slog.Int("count", len(ids)))
	} else {
		log.Debug("no due tasks to claim")
	}
	return ids, nil
}

// ClaimForExecution implements store.TaskStore.ClaimForExecution
// The conditional UPDATE only matches a ready row, so exactly one of any
// number of racing workers wins the claim; the rest see zero rows and get
// store.ErrNotClaimable. The winning claim counts the attempt, clears the
// previous attempt's error and stamps started_at on the first attempt only.
func (s *PostgresTaskStore) ClaimForExecution(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	now := time.Now().UTC()

	query := `
		UPDATE tasks
		SET status = $1,
			attempts = attempts + 1,
			error = NULL,
			started_at = COALESCE(started_at, $2),
			updated_at = $2
		WHERE id = $3 AND status = $4
		RETURNING ` + taskColumns

	task, err := scanTask(s.db.QueryRowContext(
		ctx,
		query,
		domain.TaskStatusExecuting,
		now,
		id,
		domain.TaskStatusReady,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// The task is missing or not ready; read it to tell the two apart.
			current, getErr := s.GetByID(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			log.Debug("task not claimable",
				slog.String("task_id", id.String()),
				slog.String("status", string(current.Status)))
			return nil, fmt.Errorf("%w: task is %s", store.ErrNotClaimable, current.Status)
		}
		log.Error("failed to claim task for execution",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, err
	}

	log.Info("task claimed for execution",
		slog.String("task_id", task.ID.String()),
		slog.Int("attempt", task.Attempts),
		slog.Int("max_attempts", task.MaxAttempts))
	return task, nil
}

// Complete implements store.TaskStore.Complete
// Valid only from executing. A cancellation requested while the model call
// was in flight wins: the task finalizes as cancelled and the output is
// discarded. Terminal tasks are returned unchanged.
func (s *PostgresTaskStore) Complete(
	ctx context.Context,
	id uuid.UUID,
	output string,
	meta domain.ExecutionMetadata,
) (*domain.Task, error) {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	var task *domain.Task
	err := s.inTransaction(ctx, func(q store.DBTX) error {
		current, err := s.getForUpdate(ctx, q, id)
		if err != nil {
			return err
		}

		// Terminal states are immutable; repeated completions are no-ops.
		if current.IsTerminal() {
			log.Debug("complete on terminal task is a no-op",
				slog.String("task_id", id.String()),
				slog.String("status", string(current.Status)))
			task = current
			return nil
		}

		if current.Status != domain.TaskStatusExecuting {
			return fmt.Errorf("%w: cannot complete task in status %q",
				store.ErrPreconditionFailed, current.Status)
		}

		now := time.Now().UTC()

		if current.CancelRequested {
			updated, err := s.finalizeCancelled(ctx, q, id, now)
			if err != nil {
				return err
			}
			log.Info("task cancelled mid-flight, output discarded",
				slog.String("task_id", id.String()))
			task = updated
			return nil
		}

		query := `
			UPDATE tasks
			SET status = $1,
				output = $2,
				error = NULL,
				model_provider = $3,
				model_name = $4,
				latency_ms = $5,
				finished_at = $6,
				updated_at = $6
			WHERE id = $7
			RETURNING ` + taskColumns

		updated, err := scanTask(q.QueryRowContext(
			ctx,
			query,
			domain.TaskStatusCompleted,
			output,
			meta.Provider,
			meta.Model,
			meta.LatencyMs,
			now,
			id,
		))
		if err != nil {
			return err
		}

		log.Info("task completed",
			slog.String("task_id", id.String()),
			slog.String("model_provider", meta.Provider),
			slog.String("model_name", meta.Model),
			slog.Int("latency_ms", meta.LatencyMs))
		task = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// FailOrRetry implements store.TaskStore.FailOrRetry
// Valid only from executing. While attempts remain below max_attempts the
// task returns to ready with the error kept visible until the next claim; at
// exhaustion it finalizes as failed. A pending cancellation wins over both
// outcomes and surfaces no error. Terminal tasks are returned unchanged.
func (s *PostgresTaskStore) FailOrRetry(ctx context.Context, id uuid.UUID, taskErr string) (*domain.Task, error) {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	var task *domain.Task
	err := s.inTransaction(ctx, func(q store.DBTX) error {
		current, err := s.getForUpdate(ctx, q, id)
		if err != nil {
			return err
		}

		if current.IsTerminal() {
			log.Debug("fail on terminal task is a no-op",
				slog.String("task_id", id.String()),
				slog.String("status", string(current.Status)))
			task = current
			return nil
		}

		if current.Status != domain.TaskStatusExecuting {
			return fmt.Errorf("%w: cannot fail task in status %q",
				store.ErrPreconditionFailed, current.Status)
		}

		now := time.Now().UTC()

		if current.CancelRequested {
			// Cancellation wins: no retry, and a cancelled task surfaces no error.
			updated, err := s.finalizeCancelled(ctx, q, id, now)
			if err != nil {
				return err
			}
			log.Info("task cancelled mid-flight, failure discarded",
				slog.String("task_id", id.String()))
			task = updated
			return nil
		}

		if current.Attempts < current.MaxAttempts {
			query := `
				UPDATE tasks
				SET status = $1, error = $2, updated_at = $3
				WHERE id = $4
				RETURNING ` + taskColumns

			updated, err := scanTask(q.QueryRowContext(
				ctx, query, domain.TaskStatusReady, taskErr, now, id))
			if err != nil {
				return err
			}

			log.Info("task failed, returning to ready for retry",
				slog.String("task_id", id.String()),
				slog.Int("attempt", current.Attempts),
				slog.Int("max_attempts", current.MaxAttempts),
				slog.String("error", taskErr))
			task = updated
			return nil
		}

		query := `
			UPDATE tasks
			SET status = $1, error = $2, finished_at = $3, updated_at = $3
			WHERE id = $4
			RETURNING ` + taskColumns

		updated, err := scanTask(q.QueryRowContext(
			ctx, query, domain.TaskStatusFailed, taskErr, now, id))
		if err != nil {
			return err
		}

		log.Info("task failed permanently, attempts exhausted",
			slog.String("task_id", id.String()),
			slog.Int("attempts", current.Attempts),
			slog.String("error", taskErr))
		task = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Cancel implements store.TaskStore.Cancel
// Deferred and ready tasks cancel immediately. Executing tasks only get the
// cancel_requested flag; the worker observes it at a checkpoint and calls
// FinalizeCancellation. Terminal tasks are returned unchanged, which makes
// repeated cancels idempotent.
func (s *PostgresTaskStore) Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	var task *domain.Task
	err := s.inTransaction(ctx, func(q store.DBTX) error {
		current, err := s.getForUpdate(ctx, q, id)
		if err != nil {
			return err
		}

		if current.IsTerminal() {
			log.Debug("cancel on terminal task is a no-op",
				slog.String("task_id", id.String()),
				slog.String("status", string(current.Status)))
			task = current
			return nil
		}

		now := time.Now().UTC()

		if current.Status == domain.TaskStatusExecuting {
			// Best effort: the model call cannot be aborted, so only record
			// intent here.
			query := `
				UPDATE tasks
				SET cancel_requested = TRUE, updated_at = $1
				WHERE id = $2
				RETURNING ` + taskColumns

			updated, err := scanTask(q.QueryRowContext(ctx, query, now, id))
			if err != nil {
				return err
			}

			log.Info("cancellation requested for executing task",
				slog.String("task_id", id.String()))
			task = updated
			return nil
		}

		query := `
			UPDATE tasks
			SET status = $1, cancel_requested = TRUE, finished_at = $2, updated_at = $2
			WHERE id = $3
			RETURNING ` + taskColumns

		updated, err := scanTask(q.QueryRowContext(
			ctx, query, domain.TaskStatusCancelled, now, id))
		if err != nil {
			return err
		}

		log.Info("task cancelled",
			slog.String("task_id", id.String()),
			slog.String("previous_status", string(current.Status)))
		task = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// FinalizeCancellation implements store.TaskStore.FinalizeCancellation
// Called by the worker when a checkpoint observes cancel_requested on a task
// it is executing. Tasks not in that situation are returned unchanged.
func (s *PostgresTaskStore) FinalizeCancellation(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	var task *domain.Task
	err := s.inTransaction(ctx, func(q store.DBTX) error {
		current, err := s.getForUpdate(ctx, q, id)
		if err != nil {
			return err
		}

		if current.Status != domain.TaskStatusExecuting || !current.CancelRequested {
			log.Debug("no pending cancellation to finalize",
				slog.String("task_id", id.String()),
				slog.String("status", string(current.Status)))
			task = current
			return nil
		}

		now := time.Now().UTC()
		updated, err := s.finalizeCancelled(ctx, q, id, now)
		if err != nil {
			return err
		}

		log.Info("task cancellation finalized",
			slog.String("task_id", id.String()))
		task = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Retry implements store.TaskStore.Retry
// Only failed tasks can be retried. The reset returns the task to ready with
// a zeroed attempt counter and the previous round's output, error, timing
// and model metadata cleared, so the next execution starts from a clean row.
func (s *PostgresTaskStore) Retry(ctx context.Context, id uuid.UUID, newMaxAttempts *int) (*domain.Task, error) {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	if newMaxAttempts != nil && (*newMaxAttempts < 1 || *newMaxAttempts > domain.MaxAttemptsCeiling) {
		log.Warn("invalid max attempts for retry",
			slog.String("task_id", id.String()),
			slog.Int("max_attempts", *newMaxAttempts))
		return nil, domain.ErrInvalidMaxAttempts
	}

	var task *domain.Task
	err := s.inTransaction(ctx, func(q store.DBTX) error {
		current, err := s.getForUpdate(ctx, q, id)
		if err != nil {
			return err
		}

		if current.Status != domain.TaskStatusFailed {
			return fmt.Errorf("%w: only failed tasks can be retried, task is %q",
				store.ErrPreconditionFailed, current.Status)
		}

		maxAttempts := current.MaxAttempts
		if newMaxAttempts != nil {
			maxAttempts = *newMaxAttempts
		}

		now := time.Now().UTC()

		query := `
			UPDATE tasks
			SET status = $1,
				attempts = 0,
				max_attempts = $2,
				cancel_requested = FALSE,
				output = NULL,
				error = NULL,
				started_at = NULL,
				finished_at = NULL,
				model_provider = NULL,
				model_name = NULL,
				latency_ms = NULL,
				updated_at = $3
			WHERE id = $4
			RETURNING ` + taskColumns

		updated, err := scanTask(q.QueryRowContext(
			ctx, query, domain.TaskStatusReady, maxAttempts, now, id))
		if err != nil {
			return err
		}

		log.Info("failed task reset for retry",
			slog.String("task_id", id.String()),
			slog.Int("max_attempts", maxAttempts))
		task = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// StaleReady implements store.TaskStore.StaleReady
func (s *PostgresTaskStore) StaleReady(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	return s.staleIDs(ctx, domain.TaskStatusReady, olderThan, limit)
}

// StaleExecuting implements store.TaskStore.StaleExecuting
func (s *PostgresTaskStore) StaleExecuting(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	return s.staleIDs(ctx, domain.TaskStatusExecuting, olderThan, limit)
}

// staleIDs returns IDs of tasks stuck in the given status since before
// olderThan, oldest first.
func (s *PostgresTaskStore) staleIDs(
	ctx context.Context,
	status domain.TaskStatus,
	olderThan time.Time,
	limit int,
) ([]uuid.UUID, error) {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	if limit <= 0 {
		return []uuid.UUID{}, nil
	}

	query := `
		SELECT id
		FROM tasks
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, status, olderThan.UTC(), limit)
	if err != nil {
		log.Error("failed to query stale tasks",
			slog.String("error", err.Error()),
			slog.String("status", string(status)))
		return nil, err
	}

	ids, err := collectIDs(rows)
	if err != nil {
		log.Error("failed to read stale task IDs",
			slog.String("error", err.Error()),
			slog.String("status", string(status)))
		return nil, err
	}
	return ids, nil
}

// finalizeCancelled moves an executing task to its cancelled terminal state.
// Callers hold the row lock and have already checked the preconditions.
func (s *PostgresTaskStore) finalizeCancelled(
	ctx context.Context,
	q store.DBTX,
	id uuid.UUID,
	now time.Time,
) (*domain.Task, error) {
	query := `
		UPDATE tasks
		SET status = $1, finished_at = COALESCE(finished_at, $2), updated_at = $2
		WHERE id = $3
		RETURNING ` + taskColumns

	return scanTask(q.QueryRowContext(ctx, query, domain.TaskStatusCancelled, now, id))
}

// collectIDs drains a single-column id result set.
func collectIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	defer func() {
		_ = rows.Close()
	}()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
