package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCleaner struct {
	olderThan []time.Duration
	removed   int
}

func (f *fakeCleaner) CleanupResolvedErrors(olderThan time.Duration) int {
	f.olderThan = append(f.olderThan, olderThan)

	return f.removed
}

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func storeExecution(t *testing.T, store persistence.Persistence, id string, status models.ExecutionStatus, ended time.Time) {
	t.Helper()

	ctx := context.Background()
	exec := &models.Execution{
		ID:         id,
		WorkflowID: "wf1",
		Status:     status,
		StartTime:  ended.Add(-time.Minute),
		Results:    map[string]any{},
	}

	if status.IsTerminal() {
		exec.EndTime = &ended
	}

	require.NoError(t, store.ExecutionRepository().Create(ctx, exec))
	require.NoError(t, store.SnapshotRepository().Save(ctx, &models.Snapshot{
		ExecutionID: id,
		CreatedAt:   ended,
		Execution:   exec,
	}))
}

func snapshotCount(t *testing.T, store persistence.Persistence, id string) int {
	t.Helper()

	snapshots, err := store.SnapshotRepository().List(context.Background(), id)
	require.NoError(t, err)

	return len(snapshots)
}

func TestSweepSnapshots(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	storeExecution(t, store, "done", models.ExecutionCompleted, now.Add(-time.Hour))
	storeExecution(t, store, "stopped", models.ExecutionCancelled, now.Add(-time.Hour))
	storeExecution(t, store, "failed-old", models.ExecutionFailed, now.Add(-8*24*time.Hour))
	storeExecution(t, store, "failed-recent", models.ExecutionFailed, now.Add(-time.Hour))
	storeExecution(t, store, "waiting", models.ExecutionPaused, now.Add(-time.Hour))

	s := NewScheduler(DefaultConfig(), nil, store, log.Discard())
	s.now = func() time.Time { return now }

	swept, err := s.SweepSnapshots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, swept)

	assert.Zero(t, snapshotCount(t, store, "done"))
	assert.Zero(t, snapshotCount(t, store, "stopped"))
	assert.Zero(t, snapshotCount(t, store, "failed-old"))
	assert.Equal(t, 1, snapshotCount(t, store, "failed-recent"))
	assert.Equal(t, 1, snapshotCount(t, store, "waiting"))

	swept, err = s.SweepSnapshots(context.Background())
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestCleanupErrors(t *testing.T) {
	cleaner := &fakeCleaner{removed: 2}
	cfg := DefaultConfig()
	cfg.ErrorRetention = 5 * time.Minute

	s := NewScheduler(cfg, cleaner, file.NewPersistence(t.TempDir()), log.Discard())

	assert.Equal(t, 2, s.CleanupErrors(context.Background()))
	assert.Equal(t, []time.Duration{5 * time.Minute}, cleaner.olderThan)
}

func TestStart_RejectsInvalidSchedule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SnapshotSweepSchedule = "every now and then"

	s := NewScheduler(cfg, &fakeCleaner{}, file.NewPersistence(t.TempDir()), log.Discard())

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot-sweep")
}

func TestStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorCleanupSchedule = ""

	s := NewScheduler(cfg, &fakeCleaner{}, file.NewPersistence(t.TempDir()), log.Discard())

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	assert.Len(t, s.cron.Entries(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, s.Stop(ctx))
}
