package redis

import (
	"context"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/persistencetest"
)

func setupRedisStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})

	return NewStore(client, slog.Default(), opts...), mr
}

func TestRedisPersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		store, _ := setupRedisStore(t)

		return store
	})
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	store, mr := setupRedisStore(t, WithPrefix("tenant-a"))
	ctx := context.Background()

	require.NoError(t, store.ExecutionRepository().Create(ctx, persistencetest.Execution("exec-1", "wf1")))

	assert.True(t, mr.Exists("tenant-a:execution:exec-1"))
	assert.False(t, mr.Exists("stepflow:execution:exec-1"))
}

func TestRedisStore_UpdateDetectsExternalWrite(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()
	repo := store.ExecutionRepository()

	execution := persistencetest.Execution("exec-1", "wf1")
	require.NoError(t, repo.Create(ctx, execution))

	other, err := repo.GetByID(ctx, "exec-1")
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, other))

	// execution still carries revision 1
	err = repo.Update(ctx, execution)
	require.Error(t, err)
	assert.True(t, persistence.IsRevisionConflict(err))
	assert.Equal(t, int64(1), execution.Revision)

	assert.True(t, mr.Exists("stepflow:execution:exec-1"))
}

func TestRedisStore_StatusIndexFollowsUpdates(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()
	repo := store.ExecutionRepository()

	execution := persistencetest.Execution("exec-1", "wf1")
	execution.Status = models.ExecutionRunning
	require.NoError(t, repo.Create(ctx, execution))
	require.NoError(t, repo.Create(ctx, persistencetest.Execution("exec-2", "wf2")))

	members, err := mr.ZMembers("stepflow:executions_by_status:running")
	require.NoError(t, err)
	assert.Equal(t, []string{"exec-1"}, members)

	execution.Status = models.ExecutionPaused
	require.NoError(t, repo.Update(ctx, execution))

	members, err = mr.ZMembers("stepflow:executions_by_status:paused")
	require.NoError(t, err)
	assert.Equal(t, []string{"exec-1"}, members)

	paused, err := repo.GetByStatus(ctx, models.ExecutionPaused)
	require.NoError(t, err)
	require.Len(t, paused, 1)
	assert.Equal(t, "exec-1", paused[0].ID)

	running, err := repo.GetByStatus(ctx, models.ExecutionRunning)
	require.NoError(t, err)
	assert.Empty(t, running)

	byWorkflow, err := repo.GetByWorkflow(ctx, "wf2")
	require.NoError(t, err)
	require.Len(t, byWorkflow, 1)
	assert.Equal(t, "exec-2", byWorkflow[0].ID)
}

func TestRedisStore_DeleteSnapshotsResetsSequence(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()
	repo := store.SnapshotRepository()

	for range 2 {
		require.NoError(t, repo.Save(ctx, &models.Snapshot{
			ExecutionID: "exec-9",
			Execution:   persistencetest.Execution("exec-9", "wf1"),
		}))
	}

	require.NoError(t, repo.DeleteByExecution(ctx, "exec-9"))

	assert.False(t, mr.Exists("stepflow:snapshot_seq:exec-9"))
	assert.False(t, mr.Exists("stepflow:snapshot_idx:exec-9"))
}

func TestNewPersistence_BadURL(t *testing.T) {
	_, err := NewPersistence(context.Background(), slog.Default(), "://nope")
	assert.Error(t, err)
}
