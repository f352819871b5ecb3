package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/conjure-api/internal/domain"
	"github.com/phrazzld/conjure-api/internal/platform/logger"
	"github.com/phrazzld/conjure-api/internal/store"
)

// defaultListLimit bounds List results when the caller does not set a limit.
const defaultListLimit = 50

// taskColumns is the canonical column list for scanning full task rows.
// Keep in sync with scanTask.
const taskColumns = `id, name, prompt, status, scheduled_for, attempts, max_attempts,
	cancel_requested, created_at, updated_at, started_at, finished_at,
	output, error, parent_task_id, model_provider, model_name, latency_ms`

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	sqlDB  *sql.DB // nil when the store is bound to a transaction via WithTx
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the
// TaskStore interface. The *sql.DB should be initialized and managed by the
// caller. If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db *sql.DB, logger *slog.Logger) *PostgresTaskStore {
	// Validate inputs
	if db == nil {
		panic("db cannot be nil")
	}

	// Use provided logger or create default
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		sqlDB:  db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// WithTx implements store.TaskStore.WithTx
// It returns a copy of the store bound to the given transaction. Lifecycle
// methods called on the copy join that transaction instead of opening their
// own.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// inTransaction runs fn inside a transaction. A store bound to one via
// WithTx joins it; otherwise a fresh transaction spans the call.
func (s *PostgresTaskStore) inTransaction(ctx context.Context, fn func(q store.DBTX) error) error {
	if s.sqlDB == nil {
		return fn(s.db)
	}
	return store.RunInTransaction(ctx, s.sqlDB, func(ctx context.Context, tx *sql.Tx) error {
		return fn(tx)
	})
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanTask.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one full task row in taskColumns order. Nullable columns
// scan into the task's pointer fields directly.
func scanTask(row rowScanner) (*domain.Task, error) {
	var task domain.Task
	var status string

	err := row.Scan(
		&task.ID,
		&task.Name,
		&task.Prompt,
		&status,
		&task.ScheduledFor,
		&task.Attempts,
		&task.MaxAttempts,
		&task.CancelRequested,
		&task.CreatedAt,
		&task.UpdatedAt,
		&task.StartedAt,
		&task.FinishedAt,
		&task.Output,
		&task.Error,
		&task.ParentTaskID,
		&task.ModelProvider,
		&task.ModelName,
		&task.LatencyMs,
	)
	if err != nil {
		return nil, err
	}

	task.Status = domain.TaskStatus(status)
	return &task, nil
}

// getForUpdate loads a task row and locks it for the rest of the enclosing
// transaction. Callers must run inside inTransaction.
func (s *PostgresTaskStore) getForUpdate(ctx context.Context, q store.DBTX, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 FOR UPDATE`

	task, err := scanTask(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// Create implements store.TaskStore.Create
// It saves a new task to the database, handling domain validation.
// Returns validation errors from the domain Task if data is invalid.
// Returns store.ErrTaskNotFound if parent_task_id references a missing task.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	// Validate task data
	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return err
	}

	query := `
		INSERT INTO tasks (id, name, prompt, status, scheduled_for, attempts,
			max_attempts, cancel_requested, created_at, updated_at, parent_task_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		task.ID,
		task.Name,
		task.Prompt,
		task.Status,
		task.ScheduledFor,
		task.Attempts,
		task.MaxAttempts,
		task.CancelRequested,
		task.CreatedAt,
		task.UpdatedAt,
		task.ParentTaskID,
	)

	if err != nil {
		// A missing parent surfaces as a foreign key violation
		if IsForeignKeyViolation(err) && task.ParentTaskID != nil {
			log.Warn("parent task not found during task creation",
				slog.String("task_id", task.ID.String()),
				slog.String("parent_task_id", task.ParentTaskID.String()))
			return fmt.Errorf("%w: parent task with ID %s does not exist",
				store.ErrTaskNotFound, task.ParentTaskID)
		}

		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return MapError(err)
	}

	log.Info("task created successfully",
		slog.String("task_id", task.ID.String()),
		slog.String("status", string(task.Status)))
	return nil
}

// GetByID implements store.TaskStore.GetByID
// It retrieves a task by its unique ID.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("task not found", slog.String("task_id", id.String()))
			return nil, store.ErrTaskNotFound
		}
		log.Error("failed to get task by ID",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, err
	}

	return task, nil
}

// List implements store.TaskStore.List
// It retrieves tasks in reverse chronological order, optionally filtered to
// the children of one parent task.
// Returns an empty slice if no tasks match the criteria.
func (s *PostgresTaskStore) List(ctx context.Context, filter store.ListFilter) ([]*domain.Task, error) {
	// Get the logger from context or use default
	log := logger.FromContextOrDefault(ctx, s.logger)

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE ($1::uuid IS NULL OR parent_task_id = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.QueryContext(ctx, query, filter.ParentTaskID, limit, offset)
	if err != nil {
		log.Error("failed to query tasks",
			slog.String("error", err.Error()))
		return nil, err
	}
	defer func() {
		err := rows.Close()
		if err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			log.Error("failed to scan task row",
				slog.String("error", err.Error()))
			return nil, err
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		log.Error("error after scanning rows",
			slog.String("error", err.Error()))
		return nil, err
	}

	// Return empty slice instead of nil if no tasks found
	if tasks == nil {
		tasks = []*domain.Task{}
	}

	log.Debug("listed tasks", slog.Int("count", len(tasks)))
	return tasks, nil
}
