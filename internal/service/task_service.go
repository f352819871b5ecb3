package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/conjure-api/internal/config"
	"github.com/phrazzld/conjure-api/internal/domain"
	"github.com/phrazzld/conjure-api/internal/store"
)

// List pagination bounds. Out-of-range requests are clamped, not rejected.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// TaskRepository defines the repository interface for the task service.
// This is aligned with store.TaskStore so the postgres implementation
// satisfies it directly; the lifecycle transitions driven by the scheduler
// and worker are deliberately absent.
type TaskRepository interface {
	// Create saves a new task to the store
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// List retrieves tasks ordered by creation time, newest first
	List(ctx context.Context, filter store.ListFilter) ([]*domain.Task, error)

	// Retry resets a failed task for a fresh round of attempts
	Retry(ctx context.Context, id uuid.UUID, newMaxAttempts *int) (*domain.Task, error)

	// Cancel requests cancellation of a task
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}

// DispatchQueue defines the interface for signaling that a task is ready for
// execution. Signals are advisory: task rows remain the source of truth and
// lost signals are recovered by the scheduler's reconciliation sweep.
type DispatchQueue interface {
	// Enqueue pushes a dispatch signal carrying the task ID
	Enqueue(ctx context.Context, id uuid.UUID) error
}

// CreateTaskParams carries the request fields for creating a task.
type CreateTaskParams struct {
	Name         string
	Prompt       string
	ScheduledFor *time.Time
	// MaxAttempts of zero selects the configured default budget.
	MaxAttempts int
}

// ChainTaskParams carries the request fields for chaining a task onto a
// completed parent. The child's prompt is derived from the parent's output
// and the instruction.
type ChainTaskParams struct {
	Name         string
	Instruction  string
	ScheduledFor *time.Time
	MaxAttempts  int
}

// ListTasksParams narrows and pages task listings.
type ListTasksParams struct {
	ParentTaskID *uuid.UUID
	Limit        int
	Offset       int
}

// TaskService provides task lifecycle operations for the API layer.
type TaskService interface {
	// Create persists a new task and signals it for dispatch when it is
	// immediately ready.
	Create(ctx context.Context, params CreateTaskParams) (*domain.Task, error)

	// Chain creates a child task whose prompt is derived from the completed
	// parent's output. Returns domain.ErrParentNotChainable if the parent has
	// not completed with an output.
	Chain(ctx context.Context, parentID uuid.UUID, params ChainTaskParams) (*domain.Task, error)

	// Get retrieves a task by its ID.
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// List retrieves tasks ordered by creation time, newest first.
	List(ctx context.Context, params ListTasksParams) ([]*domain.Task, error)

	// Retry resets a failed task for a fresh round of attempts and signals it
	// for dispatch. newMaxAttempts optionally replaces the attempt budget.
	Retry(ctx context.Context, id uuid.UUID, newMaxAttempts *int) (*domain.Task, error)

	// Cancel requests cancellation of a task. It never signals dispatch.
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}

// taskServiceImpl implements the TaskService interface
type taskServiceImpl struct {
	repo               TaskRepository
	queue              DispatchQueue
	defaultMaxAttempts int
	logger             *slog.Logger
}

// NewTaskService creates a new TaskService.
// It returns an error if any of the required dependencies are nil.
func NewTaskService(
	repo TaskRepository,
	queue DispatchQueue,
	cfg config.TaskConfig,
	logger *slog.Logger,
) (TaskService, error) {
	if repo == nil {
		return nil, &TaskServiceError{
			Operation: "create_service",
			Message:   "repo cannot be nil",
		}
	}
	if queue == nil {
		return nil, &TaskServiceError{
			Operation: "create_service",
			Message:   "queue cannot be nil",
		}
	}

	if logger == nil {
		logger = slog.Default()
	}

	defaultMaxAttempts := cfg.DefaultMaxAttempts
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = domain.DefaultMaxAttempts
	}

	return &taskServiceImpl{
		repo:               repo,
		queue:              queue,
		defaultMaxAttempts: defaultMaxAttempts,
		logger:             logger.With("component", "task_service"),
	}, nil
}

// Create persists a new task. Tasks scheduled in the future start deferred;
// everything else starts ready and gets a dispatch signal once the row is
// safely stored.
func (s *taskServiceImpl) Create(
	ctx context.Context,
	params CreateTaskParams,
) (*domain.Task, error) {
	task, err := domain.NewTask(
		params.Name,
		params.Prompt,
		params.ScheduledFor,
		s.maxAttemptsOrDefault(params.MaxAttempts),
	)
	if err != nil {
		s.logger.Warn("rejected invalid task request",
			"error", err,
			"task_name", params.Name)
		return nil, err
	}

	if err := s.repo.Create(ctx, task); err != nil {
		s.logger.Error("failed to save task",
			"error", err,
			"task_id", task.ID)
		return nil, NewTaskServiceError("create_task", "failed to save task", err)
	}

	s.logger.Info("task created",
		"task_id", task.ID,
		"status", task.Status,
		"max_attempts", task.MaxAttempts)

	s.dispatch(ctx, task)

	return task, nil
}

// Chain creates a child task from a completed parent. Completed tasks are
// immutable, so the chainability check cannot race with lifecycle
// transitions.
func (s *taskServiceImpl) Chain(
	ctx context.Context,
	parentID uuid.UUID,
	params ChainTaskParams,
) (*domain.Task, error) {
	parent, err := s.repo.GetByID(ctx, parentID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			s.logger.Debug("chain parent not found", "parent_task_id", parentID)
			return nil, ErrTaskNotFound
		}
		s.logger.Error("failed to retrieve chain parent",
			"error", err,
			"parent_task_id", parentID)
		return nil, NewTaskServiceError("chain_task", "failed to retrieve parent task", err)
	}

	child, err := domain.NewChainedTask(
		parent,
		params.Name,
		params.Instruction,
		params.ScheduledFor,
		s.maxAttemptsOrDefault(params.MaxAttempts),
	)
	if err != nil {
		s.logger.Warn("rejected chain request",
			"error", err,
			"parent_task_id", parentID,
			"parent_status", parent.Status)
		return nil, err
	}

	if err := s.repo.Create(ctx, child); err != nil {
		s.logger.Error("failed to save chained task",
			"error", err,
			"task_id", child.ID,
			"parent_task_id", parentID)
		return nil, NewTaskServiceError("chain_task", "failed to save chained task", err)
	}

	s.logger.Info("chained task created",
		"task_id", child.ID,
		"parent_task_id", parentID,
		"status", child.Status)

	s.dispatch(ctx, child)

	return child, nil
}

// Get retrieves a task by its ID.
func (s *taskServiceImpl) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, ErrTaskNotFound
		}
		s.logger.Error("failed to retrieve task",
			"error", err,
			"task_id", id)
		return nil, NewTaskServiceError("get_task", "failed to retrieve task", err)
	}

	s.logger.Debug("retrieved task",
		"task_id", id,
		"status", task.Status)

	return task, nil
}

// List retrieves tasks, newest first, optionally narrowed to children of one
// parent. The limit is clamped to [1, MaxListLimit] with DefaultListLimit
// applied when absent.
func (s *taskServiceImpl) List(
	ctx context.Context,
	params ListTasksParams,
) ([]*domain.Task, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	tasks, err := s.repo.List(ctx, store.ListFilter{
		ParentTaskID: params.ParentTaskID,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		s.logger.Error("failed to list tasks",
			"error", err,
			"limit", limit,
			"offset", offset)
		return nil, NewTaskServiceError("list_tasks", "failed to list tasks", err)
	}

	s.logger.Debug("listed tasks",
		"count", len(tasks),
		"limit", limit,
		"offset", offset)

	return tasks, nil
}

// Retry resets a failed task to ready and signals it for dispatch.
func (s *taskServiceImpl) Retry(
	ctx context.Context,
	id uuid.UUID,
	newMaxAttempts *int,
) (*domain.Task, error) {
	task, err := s.repo.Retry(ctx, id, newMaxAttempts)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTaskNotFound):
			return nil, ErrTaskNotFound
		case errors.Is(err, store.ErrPreconditionFailed), errors.Is(err, domain.ErrValidation):
			s.logger.Warn("rejected retry request",
				"error", err,
				"task_id", id)
			return nil, err
		}
		s.logger.Error("failed to retry task",
			"error", err,
			"task_id", id)
		return nil, NewTaskServiceError("retry_task", "failed to retry task", err)
	}

	s.logger.Info("task reset for retry",
		"task_id", id,
		"max_attempts", task.MaxAttempts)

	s.dispatch(ctx, task)

	return task, nil
}

// Cancel requests cancellation. The store decides between immediate
// cancellation and flagging an in-flight execution; either way no dispatch
// signal is sent.
func (s *taskServiceImpl) Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := s.repo.Cancel(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, ErrTaskNotFound
		}
		s.logger.Error("failed to cancel task",
			"error", err,
			"task_id", id)
		return nil, NewTaskServiceError("cancel_task", "failed to cancel task", err)
	}

	s.logger.Info("task cancellation processed",
		"task_id", id,
		"status", task.Status,
		"cancel_requested", task.CancelRequested)

	return task, nil
}

// maxAttemptsOrDefault substitutes the configured default budget when the
// request left max attempts unset. Out-of-range values pass through so the
// domain layer rejects them with a validation error.
func (s *taskServiceImpl) maxAttemptsOrDefault(requested int) int {
	if requested == 0 {
		return s.defaultMaxAttempts
	}
	return requested
}

// dispatch signals a ready task to the workers. Failures are logged and
// swallowed: the row is already persisted and the reconciliation sweep will
// re-signal stale ready tasks.
func (s *taskServiceImpl) dispatch(ctx context.Context, task *domain.Task) {
	if task.Status != domain.TaskStatusReady {
		return
	}

	if err := s.queue.Enqueue(ctx, task.ID); err != nil {
		s.logger.Warn("failed to enqueue dispatch signal, reconciliation will re-signal",
			"error", err,
			"task_id", task.ID)
		return
	}

	s.logger.Debug("dispatch signal enqueued", "task_id", task.ID)
}
