package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		workflowErr := persistence.NewWorkflowError("GetByID", "workflow-123", persistence.ErrWorkflowNotFound)
		executionErr := persistence.NewExecutionError("Update", "exec-1", persistence.ErrRevisionConflict)

		assert.True(t, persistence.IsWorkflowNotFound(workflowErr))
		assert.True(t, persistence.IsRevisionConflict(executionErr))
		assert.False(t, persistence.IsExecutionNotFound(executionErr))

		wrapped := fmt.Errorf("persist: %w", executionErr)
		assert.True(t, errors.Is(wrapped, persistence.ErrRevisionConflict))
	})

	t.Run("workflow error contains context", func(t *testing.T) {
		err := &persistence.WorkflowError{Op: "GetVersion", WorkflowID: "wf1", Version: 2, Err: persistence.ErrWorkflowNotFound}

		assert.Contains(t, err.Error(), "GetVersion")
		assert.Contains(t, err.Error(), "wf1 version 2")
		assert.Contains(t, err.Error(), "workflow not found")
	})

	t.Run("execution error contains revision", func(t *testing.T) {
		err := &persistence.ExecutionError{Op: "Update", ExecutionID: "exec-1", Revision: 4, Err: persistence.ErrRevisionConflict}

		assert.Contains(t, err.Error(), "exec-1 at revision 4")
		assert.Contains(t, err.Error(), "revision conflict")
	})

	t.Run("snapshot not found", func(t *testing.T) {
		err := persistence.NewExecutionError("Latest", "exec-2", persistence.ErrSnapshotNotFound)

		assert.True(t, persistence.IsSnapshotNotFound(err))
	})
}
