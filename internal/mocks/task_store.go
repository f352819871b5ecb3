package mocks

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/conjure-api/internal/domain"
	"github.com/phrazzld/conjure-api/internal/store"
)

// MockTaskStore implements store.TaskStore against an in-memory map. The
// default behaviors follow the real lifecycle semantics, so consumer tests
// exercise the same state machine the SQL store implements; each method can
// be overridden through its Fn field to inject failures or races.
type MockTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task

	CreateFn            func(ctx context.Context, task *domain.Task) error
	GetByIDFn           func(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	ListFn              func(ctx context.Context, filter store.ListFilter) ([]*domain.Task, error)
	ClaimDueFn          func(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ClaimForExecutionFn func(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	CompleteFn          func(
		ctx context.Context, id uuid.UUID, output string, meta domain.ExecutionMetadata,
	) (*domain.Task, error)
	FailOrRetryFn          func(ctx context.Context, id uuid.UUID, taskErr string) (*domain.Task, error)
	CancelFn               func(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	FinalizeCancellationFn func(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	RetryFn                func(ctx context.Context, id uuid.UUID, newMaxAttempts *int) (*domain.Task, error)
	StaleReadyFn           func(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)
	StaleExecutingFn       func(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)
}

var _ store.TaskStore = (*MockTaskStore)(nil)

// NewMockTaskStore creates an empty MockTaskStore.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{
		tasks: make(map[uuid.UUID]*domain.Task),
	}
}

// Put seeds the store with a task in an arbitrary lifecycle state, bypassing
// creation-time validation. The task is copied in.
func (m *MockTaskStore) Put(task *domain.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = snapshot(task)
}

// snapshot copies a task so callers never share memory with stored state.
func snapshot(t *domain.Task) *domain.Task {
	c := *t
	return &c
}

// Create saves a new task, enforcing domain validation and parent existence
// like the real store.
func (m *MockTaskStore) Create(ctx context.Context, task *domain.Task) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, task)
	}

	if err := task.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if task.ParentTaskID != nil {
		if _, ok := m.tasks[*task.ParentTaskID]; !ok {
			return fmt.Errorf("%w: parent task with ID %s does not exist",
				store.ErrTaskNotFound, *task.ParentTaskID)
		}
	}

	m.tasks[task.ID] = snapshot(task)
	return nil
}

// GetByID retrieves a copy of the stored task.
func (m *MockTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return snapshot(t), nil
}

// List returns tasks newest first, optionally filtered to one parent.
func (m *MockTaskStore) List(
	ctx context.Context,
	filter store.ListFilter,
) ([]*domain.Task, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]*domain.Task, 0)
	for _, t := range m.tasks {
		if filter.ParentTaskID != nil {
			if t.ParentTaskID == nil || *t.ParentTaskID != *filter.ParentTaskID {
				continue
			}
		}
		matched = append(matched, t)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	if filter.Offset >= len(matched) {
		return []*domain.Task{}, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*domain.Task, 0, len(matched))
	for _, t := range matched {
		out = append(out, snapshot(t))
	}
	return out, nil
}

// ClaimDue promotes due deferred tasks to ready, oldest schedule first.
func (m *MockTaskStore) ClaimDue(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]uuid.UUID, error) {
	if m.ClaimDueFn != nil {
		return m.ClaimDueFn(ctx, now, limit)
	}

	if limit <= 0 {
		return []uuid.UUID{}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*domain.Task
	for _, t := range m.tasks {
		if t.Status != domain.TaskStatusDeferred {
			continue
		}
		if t.ScheduledFor != nil && t.ScheduledFor.After(now) {
			continue
		}
		due = append(due, t)
	}

	sort.Slice(due, func(i, j int) bool {
		si, sj := due[i].ScheduledFor, due[j].ScheduledFor
		switch {
		case si == nil && sj == nil:
			return due[i].ID.String() < due[j].ID.String()
		case si == nil:
			return false
		case sj == nil:
			return true
		case si.Equal(*sj):
			return due[i].ID.String() < due[j].ID.String()
		default:
			return si.Before(*sj)
		}
	})

	if len(due) > limit {
		due = due[:limit]
	}

	ids := make([]uuid.UUID, 0, len(due))
	for _, t := range due {
		t.Status = domain.TaskStatusReady
		t.UpdatedAt = now
		ids = append(ids, t.ID)
	}
	return ids, nil
}

// ClaimForExecution moves a ready task to executing, like the real
// conditional update: exactly one concurrent caller wins.
func (m *MockTaskStore) ClaimForExecution(
	ctx context.Context,
	id uuid.UUID,
) (*domain.Task, error) {
	if m.ClaimForExecutionFn != nil {
		return m.ClaimForExecutionFn(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if t.Status != domain.TaskStatusReady {
		return nil, fmt.Errorf("%w: task is %s", store.ErrNotClaimable, t.Status)
	}

	now := time.Now().UTC()
	t.Status = domain.TaskStatusExecuting
	t.Attempts++
	t.Error = nil
	if t.StartedAt == nil {
		t.StartedAt = &now
	}
	t.UpdatedAt = now
	return snapshot(t), nil
}

// Complete finalizes a successful execution, honoring a pending cancellation
// by discarding the output.
func (m *MockTaskStore) Complete(
	ctx context.Context,
	id uuid.UUID,
	output string,
	meta domain.ExecutionMetadata,
) (*domain.Task, error) {
	if m.CompleteFn != nil {
		return m.CompleteFn(ctx, id, output, meta)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if t.IsTerminal() {
		return snapshot(t), nil
	}
	if t.Status != domain.TaskStatusExecuting {
		return nil, fmt.Errorf("%w: cannot complete task in status %q",
			store.ErrPreconditionFailed, t.Status)
	}

	now := time.Now().UTC()
	if t.CancelRequested {
		finalizeCancelled(t, now)
		return snapshot(t), nil
	}

	out := output
	provider := meta.Provider
	model := meta.Model
	latency := meta.LatencyMs

	t.Status = domain.TaskStatusCompleted
	t.Output = &out
	t.Error = nil
	t.ModelProvider = &provider
	t.ModelName = &model
	t.LatencyMs = &latency
	t.FinishedAt = &now
	t.UpdatedAt = now
	return snapshot(t), nil
}

// FailOrRetry records a failed execution: back to ready while attempts
// remain, failed once exhausted, cancelled when a cancellation is pending.
func (m *MockTaskStore) FailOrRetry(
	ctx context.Context,
	id uuid.UUID,
	taskErr string,
) (*domain.Task, error) {
	if m.FailOrRetryFn != nil {
		return m.FailOrRetryFn(ctx, id, taskErr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if t.IsTerminal() {
		return snapshot(t), nil
	}
	if t.Status != domain.TaskStatusExecuting {
		return nil, fmt.Errorf("%w: cannot fail task in status %q",
			store.ErrPreconditionFailed, t.Status)
	}

	now := time.Now().UTC()
	if t.CancelRequested {
		finalizeCancelled(t, now)
		return snapshot(t), nil
	}

	msg := taskErr
	t.Error = &msg
	if t.Attempts < t.MaxAttempts {
		t.Status = domain.TaskStatusReady
	} else {
		t.Status = domain.TaskStatusFailed
		t.FinishedAt = &now
	}
	t.UpdatedAt = now
	return snapshot(t), nil
}

// Cancel cancels waiting tasks immediately and flags executing ones.
func (m *MockTaskStore) Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if m.CancelFn != nil {
		return m.CancelFn(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if t.IsTerminal() {
		return snapshot(t), nil
	}

	now := time.Now().UTC()
	if t.Status == domain.TaskStatusExecuting {
		t.CancelRequested = true
		t.UpdatedAt = now
		return snapshot(t), nil
	}

	t.CancelRequested = true
	finalizeCancelled(t, now)
	return snapshot(t), nil
}

// FinalizeCancellation completes a worker-observed cancellation.
func (m *MockTaskStore) FinalizeCancellation(
	ctx context.Context,
	id uuid.UUID,
) (*domain.Task, error) {
	if m.FinalizeCancellationFn != nil {
		return m.FinalizeCancellationFn(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if t.Status == domain.TaskStatusExecuting && t.CancelRequested {
		finalizeCancelled(t, time.Now().UTC())
	}
	return snapshot(t), nil
}

// Retry resets a failed task for a fresh round of attempts.
func (m *MockTaskStore) Retry(
	ctx context.Context,
	id uuid.UUID,
	newMaxAttempts *int,
) (*domain.Task, error) {
	if m.RetryFn != nil {
		return m.RetryFn(ctx, id, newMaxAttempts)
	}

	if newMaxAttempts != nil &&
		(*newMaxAttempts < 1 || *newMaxAttempts > domain.MaxAttemptsCeiling) {
		return nil, domain.ErrInvalidMaxAttempts
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if t.Status != domain.TaskStatusFailed {
		return nil, fmt.Errorf("%w: cannot retry task in status %q",
			store.ErrPreconditionFailed, t.Status)
	}

	t.Status = domain.TaskStatusReady
	t.Attempts = 0
	if newMaxAttempts != nil {
		t.MaxAttempts = *newMaxAttempts
	}
	t.CancelRequested = false
	t.Output = nil
	t.Error = nil
	t.StartedAt = nil
	t.FinishedAt = nil
	t.ModelProvider = nil
	t.ModelName = nil
	t.LatencyMs = nil
	t.UpdatedAt = time.Now().UTC()
	return snapshot(t), nil
}

// StaleReady returns ready tasks untouched since olderThan.
func (m *MockTaskStore) StaleReady(
	ctx context.Context,
	olderThan time.Time,
	limit int,
) ([]uuid.UUID, error) {
	if m.StaleReadyFn != nil {
		return m.StaleReadyFn(ctx, olderThan, limit)
	}
	return m.staleIDs(domain.TaskStatusReady, olderThan, limit), nil
}

// StaleExecuting returns executing tasks untouched since olderThan.
func (m *MockTaskStore) StaleExecuting(
	ctx context.Context,
	olderThan time.Time,
	limit int,
) ([]uuid.UUID, error) {
	if m.StaleExecutingFn != nil {
		return m.StaleExecutingFn(ctx, olderThan, limit)
	}
	return m.staleIDs(domain.TaskStatusExecuting, olderThan, limit), nil
}

// WithTx returns the store itself; the in-memory mock has no transactions.
func (m *MockTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return m
}

func (m *MockTaskStore) staleIDs(
	status domain.TaskStatus,
	olderThan time.Time,
	limit int,
) []uuid.UUID {
	if limit <= 0 {
		return []uuid.UUID{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []*domain.Task
	for _, t := range m.tasks {
		if t.Status == status && t.UpdatedAt.Before(olderThan) {
			stale = append(stale, t)
		}
	}

	sort.Slice(stale, func(i, j int) bool {
		if stale[i].UpdatedAt.Equal(stale[j].UpdatedAt) {
			return stale[i].ID.String() < stale[j].ID.String()
		}
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})

	if len(stale) > limit {
		stale = stale[:limit]
	}

	ids := make([]uuid.UUID, 0, len(stale))
	for _, t := range stale {
		ids = append(ids, t.ID)
	}
	return ids
}

// finalizeCancelled moves a task into the cancelled terminal state.
// Callers hold the lock.
func finalizeCancelled(t *domain.Task, now time.Time) {
	t.Status = domain.TaskStatusCancelled
	if t.FinishedAt == nil {
		t.FinishedAt = &now
	}
	t.UpdatedAt = now
}
