package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/conjure-api/internal/domain"
)

// ListFilter narrows and pages List results.
type ListFilter struct {
	// ParentTaskID, when set, restricts results to children of that task.
	ParentTaskID *uuid.UUID

	// Limit bounds the number of rows returned. Implementations apply a
	// default when it is zero or negative.
	Limit int

	// Offset skips that many rows, for pagination.
	Offset int
}

// TaskStore defines the persistence interface for the task lifecycle.
// All state transitions go through this interface and each method is
// all-or-nothing: either the full transition is persisted or nothing is.
type TaskStore interface {
	// Create saves a new task to the store.
	// It handles domain validation internally.
	// Returns ErrTaskNotFound if the task references a missing parent.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// List retrieves tasks ordered by creation time, newest first.
	List(ctx context.Context, filter ListFilter) ([]*domain.Task, error)

	// ClaimDue atomically moves deferred tasks whose schedule has elapsed
	// (or is absent) into the ready state, at most limit of them, and
	// returns their IDs. Rows locked by a concurrent claimer are skipped,
	// so two schedulers can never claim the same task.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// ClaimForExecution atomically moves a ready task to executing,
	// incrementing its attempt counter and stamping started_at on the
	// first attempt. Returns ErrNotClaimable if the task exists but is not
	// ready (a lost claim race), or ErrTaskNotFound if it does not exist.
	ClaimForExecution(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// Complete finalizes a successful execution: executing -> completed
	// with the output and execution metadata recorded. If cancellation was
	// requested while the model call was in flight the task is finalized
	// as cancelled instead and the output is discarded. Tasks already in a
	// terminal state are returned unchanged.
	Complete(ctx context.Context, id uuid.UUID, output string, meta domain.ExecutionMetadata) (*domain.Task, error)

	// FailOrRetry records a failed execution: executing -> ready while
	// attempts remain below max_attempts, executing -> failed once they
	// are exhausted. A pending cancellation wins over both and finalizes
	// the task as cancelled. Tasks already in a terminal state are
	// returned unchanged.
	FailOrRetry(ctx context.Context, id uuid.UUID, taskErr string) (*domain.Task, error)

	// Cancel requests cancellation. Deferred and ready tasks are cancelled
	// immediately; executing tasks only get the cancel_requested flag and
	// are finalized by the worker at its next checkpoint. Terminal tasks
	// are returned unchanged, so the operation is idempotent.
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// FinalizeCancellation completes a cancellation observed by the
	// worker: executing -> cancelled. Tasks no longer executing are
	// returned unchanged.
	FinalizeCancellation(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// Retry resets a failed task for a fresh round of attempts: failed ->
	// ready with attempts, output, error, timing and model metadata
	// cleared. newMaxAttempts optionally replaces the attempt budget.
	// Returns ErrPreconditionFailed if the task has not failed.
	Retry(ctx context.Context, id uuid.UUID, newMaxAttempts *int) (*domain.Task, error)

	// StaleReady returns IDs of ready tasks untouched since olderThan.
	// These are tasks whose dispatch signal was likely lost and should be
	// re-signaled.
	StaleReady(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)

	// StaleExecuting returns IDs of executing tasks untouched since
	// olderThan, for operator visibility. The store never resurrects them.
	StaleExecuting(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)

	// WithTx returns a new TaskStore instance that uses the provided transaction.
	// This allows for multiple operations to be executed within a single transaction.
	// The transaction should be created and managed by the caller (typically a service).
	WithTx(tx *sql.Tx) TaskStore
}
