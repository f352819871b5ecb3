//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/phrazzld/conjure-api/internal/domain"
	"github.com/phrazzld/conjure-api/internal/platform/postgres"
	"github.com/phrazzld/conjure-api/internal/store"
	"github.com/phrazzld/conjure-api/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need writes that other connections can see, so they commit real
// rows instead of using the rollback isolation of testdb.WithTx, clean up
// after themselves, and deliberately do not run in parallel with the rest of
// the package.

// deleteTasks removes committed test rows during cleanup.
func deleteTasks(t *testing.T, db *sql.DB, ids []uuid.UUID) {
	t.Helper()
	for _, id := range ids {
		if _, err := db.Exec(`DELETE FROM tasks WHERE id = $1`, id); err != nil {
			t.Logf("Warning: failed to delete task %s: %v", id, err)
		}
	}
}

// TestTaskStoreConcurrency_DisjointClaimDue verifies that two schedulers
// claiming due tasks at the same time never hand out the same task twice and
// never lose one.
func TestTaskStoreConcurrency_DisjointClaimDue(t *testing.T) {
	db := testdb.GetTestDBWithT(t)
	taskStore := postgres.NewPostgresTaskStore(db, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	base := time.Now().UTC()
	const total = 20

	mine := make([]uuid.UUID, 0, total)
	for i := 0; i < total; i++ {
		task := mustCreateDeferred(ctx, t, taskStore, "contended", base.Add(time.Hour))
		mine = append(mine, task.ID)
	}
	t.Cleanup(func() { deleteTasks(t, db, mine) })

	type claimResult struct {
		ids []uuid.UUID
		err error
	}

	start := make(chan struct{})
	results := make(chan claimResult, 2)

	for i := 0; i < 2; i++ {
		go func() {
			<-start
			ids, err := taskStore.ClaimDue(ctx, base.Add(2*time.Hour), 50)
			results <- claimResult{ids: ids, err: err}
		}()
	}

	close(start)

	first := <-results
	second := <-results
	require.NoError(t, first.err, "First claimer should succeed")
	require.NoError(t, second.err, "Second claimer should succeed")

	firstSet := idSet(first.ids)
	for _, id := range second.ids {
		assert.False(t, firstSet[id], "Task %s was claimed by both schedulers", id)
	}

	both := idSet(append(first.ids, second.ids...))
	for _, id := range mine {
		assert.True(t, both[id], "Task %s was claimed by neither scheduler", id)
	}
}

// TestTaskStoreConcurrency_SingleExecutionWinner verifies that duplicate
// dispatch signals for one task produce exactly one execution claim.
func TestTaskStoreConcurrency_SingleExecutionWinner(t *testing.T) {
	db := testdb.GetTestDBWithT(t)
	taskStore := postgres.NewPostgresTaskStore(db, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	created := mustCreateReady(ctx, t, taskStore, "single winner")
	t.Cleanup(func() { deleteTasks(t, db, []uuid.UUID{created.ID}) })

	const workers = 8

	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = taskStore.ClaimForExecution(ctx, created.ID)
		}(i)
	}

	close(start)
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, store.ErrNotClaimable, "Losers should see ErrNotClaimable")
		}
	}
	assert.Equal(t, 1, winners, "Exactly one worker should win the claim")

	got, err := taskStore.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusExecuting, got.Status, "Task should be executing")
	assert.Equal(t, 1, got.Attempts, "Winning claim should count exactly one attempt")
}
