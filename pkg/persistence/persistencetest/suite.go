// Package persistencetest holds the behaviour every state store must share.
// Store packages run it against their own implementation.
package persistencetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) persistence.Persistence

func Workflow(id string, version int) *models.Workflow {
	return &models.Workflow{
		ID:      id,
		Name:    "workflow " + id,
		Version: version,
		Steps: []*models.Step{
			{ID: "s1", Kind: models.StepKindScript, Next: []string{"s2"}},
			{ID: "s2", Kind: models.StepKindScript, Config: map[string]any{"expression": "done"}},
		},
		Variables: map[string]any{"region": "eu"},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func Execution(id, workflowID string) *models.Execution {
	return &models.Execution{
		ID:           id,
		WorkflowID:   workflowID,
		Status:       models.ExecutionPending,
		StartTime:    time.Now().UTC().Truncate(time.Millisecond),
		PendingSteps: []string{"s1"},
		Variables:    map[string]any{"region": "eu"},
		Results:      map[string]any{},
	}
}

// Run executes the shared store behaviour against factory.
func Run(t *testing.T, factory Factory) {
	t.Run("workflow versions", func(t *testing.T) {
		store := factory(t)
		repo := store.WorkflowRepository()
		ctx := context.Background()

		require.NoError(t, repo.Create(ctx, Workflow("wf1", 1)))
		require.NoError(t, repo.Create(ctx, Workflow("wf1", 2)))
		require.NoError(t, repo.Create(ctx, Workflow("wf2", 1)))

		err := repo.Create(ctx, Workflow("wf1", 2))
		require.Error(t, err)
		assert.ErrorIs(t, err, persistence.ErrWorkflowAlreadyExists)

		latest, err := repo.GetByID(ctx, "wf1")
		require.NoError(t, err)
		assert.Equal(t, 2, latest.Version)
		assert.Len(t, latest.Steps, 2)
		assert.Equal(t, []string{"s2"}, latest.Steps[0].Next)

		first, err := repo.GetVersion(ctx, "wf1", 1)
		require.NoError(t, err)
		assert.Equal(t, 1, first.Version)

		all, err := repo.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)

		ids := []string{all[0].ID, all[1].ID}
		assert.ElementsMatch(t, []string{"wf1", "wf2"}, ids)

		_, err = repo.GetByID(ctx, "missing")
		assert.True(t, persistence.IsWorkflowNotFound(err))

		_, err = repo.GetVersion(ctx, "wf1", 9)
		assert.True(t, persistence.IsWorkflowNotFound(err))
	})

	t.Run("empty store lists nothing", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		all, err := store.WorkflowRepository().GetAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)

		executions, err := store.ExecutionRepository().GetByWorkflow(ctx, "wf1")
		require.NoError(t, err)
		assert.Empty(t, executions)
	})

	t.Run("execution revisions", func(t *testing.T) {
		store := factory(t)
		repo := store.ExecutionRepository()
		ctx := context.Background()

		execution := Execution("exec-1", "wf1")
		require.NoError(t, repo.Create(ctx, execution))
		assert.Equal(t, int64(1), execution.Revision)

		err := repo.Create(ctx, Execution("exec-1", "wf1"))
		assert.ErrorIs(t, err, persistence.ErrExecutionAlreadyExists)

		stale, err := repo.GetByID(ctx, "exec-1")
		require.NoError(t, err)

		execution.Status = models.ExecutionRunning
		execution.Results["s1"] = map[string]any{"ok": true}
		require.NoError(t, repo.Update(ctx, execution))
		assert.Equal(t, int64(2), execution.Revision)

		stale.Status = models.ExecutionCancelled
		err = repo.Update(ctx, stale)
		require.Error(t, err)
		assert.True(t, persistence.IsRevisionConflict(err))

		stored, err := repo.GetByID(ctx, "exec-1")
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionRunning, stored.Status)
		assert.Equal(t, int64(2), stored.Revision)
		assert.Equal(t, map[string]any{"ok": true}, stored.Results["s1"])

		err = repo.Update(ctx, Execution("ghost", "wf1"))
		assert.True(t, persistence.IsExecutionNotFound(err))

		_, err = repo.GetByID(ctx, "ghost")
		assert.True(t, persistence.IsExecutionNotFound(err))
	})

	t.Run("concurrent updates conflict", func(t *testing.T) {
		store := factory(t)
		repo := store.ExecutionRepository()
		ctx := context.Background()

		require.NoError(t, repo.Create(ctx, Execution("exec-c", "wf1")))

		const writers = 8

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)

		for range writers {
			wg.Add(1)

			go func() {
				defer wg.Done()

				copyOf, err := repo.GetByID(ctx, "exec-c")
				if err != nil {
					return
				}

				copyOf.Revision = 1

				if repo.Update(ctx, copyOf) == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}

		wg.Wait()

		assert.Equal(t, 1, succeeded)
	})

	t.Run("executions by workflow and status", func(t *testing.T) {
		store := factory(t)
		repo := store.ExecutionRepository()
		ctx := context.Background()

		running := Execution("exec-a", "wf1")
		running.Status = models.ExecutionRunning
		require.NoError(t, repo.Create(ctx, running))
		require.NoError(t, repo.Create(ctx, Execution("exec-b", "wf1")))
		require.NoError(t, repo.Create(ctx, Execution("exec-c", "wf2")))

		byWorkflow, err := repo.GetByWorkflow(ctx, "wf1")
		require.NoError(t, err)
		assert.Len(t, byWorkflow, 2)

		byStatus, err := repo.GetByStatus(ctx, models.ExecutionRunning)
		require.NoError(t, err)
		require.Len(t, byStatus, 1)
		assert.Equal(t, "exec-a", byStatus[0].ID)
	})

	t.Run("snapshot sequences", func(t *testing.T) {
		store := factory(t)
		repo := store.SnapshotRepository()
		ctx := context.Background()

		_, err := repo.Latest(ctx, "exec-1")
		assert.True(t, persistence.IsSnapshotNotFound(err))

		for i := range 3 {
			execution := Execution("exec-1", "wf1")
			execution.CurrentStepID = []string{"s1", "s2", "s3"}[i]

			snapshot := &models.Snapshot{
				ExecutionID: "exec-1",
				CreatedAt:   time.Now().UTC(),
				Execution:   execution,
			}
			require.NoError(t, repo.Save(ctx, snapshot))
			assert.Equal(t, int64(i+1), snapshot.Sequence)
		}

		require.NoError(t, repo.Save(ctx, &models.Snapshot{ExecutionID: "exec-2", Execution: Execution("exec-2", "wf1")}))

		latest, err := repo.Latest(ctx, "exec-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), latest.Sequence)
		assert.Equal(t, "s3", latest.Execution.CurrentStepID)

		list, err := repo.List(ctx, "exec-1")
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, int64(1), list[0].Sequence)

		require.NoError(t, repo.DeleteByExecution(ctx, "exec-1"))

		_, err = repo.Latest(ctx, "exec-1")
		assert.True(t, persistence.IsSnapshotNotFound(err))

		other, err := repo.Latest(ctx, "exec-2")
		require.NoError(t, err)
		assert.Equal(t, int64(1), other.Sequence)
	})

	t.Run("health check", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		require.NoError(t, store.WorkflowRepository().Create(ctx, Workflow("wf-health", 1)))
		assert.NoError(t, store.HealthCheck(ctx))
	})
}
