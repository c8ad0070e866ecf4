package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilePersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		return NewPersistence(t.TempDir())
	})
}

func TestFilePersistence_StripsScheme(t *testing.T) {
	dir := t.TempDir()
	store := NewPersistence("file://" + dir)

	require.NoError(t, store.WorkflowRepository().Create(context.Background(), persistencetest.Workflow("wf1", 1)))

	_, err := os.Stat(filepath.Join(dir, "workflows", "wf1", "1.json"))
	assert.NoError(t, err)
}

func TestFilePersistence_RejectsPathTraversal(t *testing.T) {
	store := NewPersistence(t.TempDir())
	ctx := context.Background()

	_, err := store.ExecutionRepository().GetByID(ctx, "../etc/passwd")
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrInvalidID)

	err = store.WorkflowRepository().Create(ctx, persistencetest.Workflow("a/b", 1))
	assert.ErrorIs(t, err, persistence.ErrInvalidID)
}

func TestFilePersistence_IgnoresTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewPersistence(dir)
	ctx := context.Background()

	require.NoError(t, store.ExecutionRepository().Create(ctx, persistencetest.Execution("exec-1", "wf1")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "executions", ".tmp-123"), []byte("{"), 0600))

	executions, err := store.ExecutionRepository().GetByWorkflow(ctx, "wf1")
	require.NoError(t, err)
	assert.Len(t, executions, 1)
}

func TestFilePersistence_HealthCheckMissingRoot(t *testing.T) {
	store := NewPersistence(filepath.Join(t.TempDir(), "missing"))

	assert.Error(t, store.HealthCheck(context.Background()))
}
