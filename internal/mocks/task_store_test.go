package mocks_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/conjure-api/internal/domain"
	"github.com/phrazzld/conjure-api/internal/mocks"
	"github.com/phrazzld/conjure-api/internal/store"
)

func newTask(t *testing.T, status domain.TaskStatus) *domain.Task {
	t.Helper()

	task, err := domain.NewTask("mock test task", "do something", nil, 2)
	require.NoError(t, err)
	task.Status = status
	return task
}

// The mock's default behaviors mirror the SQL store's lifecycle semantics;
// these tests pin that parity so consumer tests can rely on it.
func TestMockTaskStore_LifecycleDefaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("claim and complete", func(t *testing.T) {
		t.Parallel()

		taskStore := mocks.NewMockTaskStore()
		task := newTask(t, domain.TaskStatusReady)
		taskStore.Put(task)

		claimed, err := taskStore.ClaimForExecution(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusExecuting, claimed.Status)
		assert.Equal(t, 1, claimed.Attempts)
		assert.NotNil(t, claimed.StartedAt)

		_, err = taskStore.ClaimForExecution(ctx, task.ID)
		assert.ErrorIs(t, err, store.ErrNotClaimable)

		done, err := taskStore.Complete(ctx, task.ID, "result", domain.ExecutionMetadata{
			Provider: "mock", Model: "mock-llm", LatencyMs: 10,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusCompleted, done.Status)
		require.NotNil(t, done.Output)
		assert.Equal(t, "result", *done.Output)
		assert.NotNil(t, done.FinishedAt)
	})

	t.Run("pending cancellation wins over completion", func(t *testing.T) {
		t.Parallel()

		taskStore := mocks.NewMockTaskStore()
		task := newTask(t, domain.TaskStatusExecuting)
		task.Attempts = 1
		task.CancelRequested = true
		taskStore.Put(task)

		done, err := taskStore.Complete(ctx, task.ID, "discarded", domain.ExecutionMetadata{})
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusCancelled, done.Status)
		assert.Nil(t, done.Output)
		assert.Nil(t, done.Error)
	})

	t.Run("failure requeues then exhausts the budget", func(t *testing.T) {
		t.Parallel()

		taskStore := mocks.NewMockTaskStore()
		task := newTask(t, domain.TaskStatusExecuting)
		task.Attempts = 1
		taskStore.Put(task)

		requeued, err := taskStore.FailOrRetry(ctx, task.ID, "boom")
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusReady, requeued.Status)
		require.NotNil(t, requeued.Error)
		assert.Nil(t, requeued.FinishedAt)

		claimed, err := taskStore.ClaimForExecution(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, claimed.Attempts)
		assert.Nil(t, claimed.Error)

		failed, err := taskStore.FailOrRetry(ctx, task.ID, "boom again")
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusFailed, failed.Status)
		assert.NotNil(t, failed.FinishedAt)
	})

	t.Run("cancel flags executing tasks and finalization lands cancelled", func(t *testing.T) {
		t.Parallel()

		taskStore := mocks.NewMockTaskStore()
		task := newTask(t, domain.TaskStatusExecuting)
		task.Attempts = 1
		taskStore.Put(task)

		flagged, err := taskStore.Cancel(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusExecuting, flagged.Status)
		assert.True(t, flagged.CancelRequested)

		final, err := taskStore.FinalizeCancellation(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusCancelled, final.Status)
	})

	t.Run("retry resets a failed task", func(t *testing.T) {
		t.Parallel()

		taskStore := mocks.NewMockTaskStore()
		task := newTask(t, domain.TaskStatusFailed)
		task.Attempts = 2
		msg := "exhausted"
		task.Error = &msg
		taskStore.Put(task)

		budget := 5
		reset, err := taskStore.Retry(ctx, task.ID, &budget)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusReady, reset.Status)
		assert.Equal(t, 0, reset.Attempts)
		assert.Equal(t, 5, reset.MaxAttempts)
		assert.Nil(t, reset.Error)
	})

	t.Run("claim due promotes only elapsed schedules", func(t *testing.T) {
		t.Parallel()

		taskStore := mocks.NewMockTaskStore()
		now := time.Now().UTC()

		due := newTask(t, domain.TaskStatusDeferred)
		past := now.Add(-time.Minute)
		due.ScheduledFor = &past
		taskStore.Put(due)

		notYet := newTask(t, domain.TaskStatusDeferred)
		future := now.Add(time.Hour)
		notYet.ScheduledFor = &future
		taskStore.Put(notYet)

		ids, err := taskStore.ClaimDue(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, ids, 1)
		assert.Equal(t, due.ID, ids[0])

		promoted, err := taskStore.GetByID(ctx, due.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusReady, promoted.Status)
	})

	t.Run("stale ready surfaces untouched rows", func(t *testing.T) {
		t.Parallel()

		taskStore := mocks.NewMockTaskStore()
		task := newTask(t, domain.TaskStatusReady)
		task.UpdatedAt = time.Now().UTC().Add(-time.Hour)
		taskStore.Put(task)

		ids, err := taskStore.StaleReady(ctx, time.Now().UTC().Add(-time.Minute), 10)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{task.ID}, ids)
	})
}
