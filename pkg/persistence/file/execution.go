package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	root  string
	locks *keyedMutex
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string, locks *keyedMutex) *ExecutionRepository {
	return &ExecutionRepository{root: root, locks: locks}
}

func (er *ExecutionRepository) path(id string) string {
	return filepath.Join(er.root, "executions", id+".json")
}

func (er *ExecutionRepository) Create(_ context.Context, execution *models.Execution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	path := er.path(execution.ID)
	unlock := er.locks.lock(path)
	defer unlock()

	if _, err := os.Stat(path); err == nil {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	execution.Revision = 1

	if err := writeJSON(path, execution); err != nil {
		execution.Revision = 0

		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

// Update compares revisions under the record lock and writes the next revision.
func (er *ExecutionRepository) Update(_ context.Context, execution *models.Execution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	path := er.path(execution.ID)
	unlock := er.locks.lock(path)
	defer unlock()

	var stored models.Execution

	err := readJSON(path, &stored)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = persistence.ErrExecutionNotFound
		}

		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if stored.Revision != execution.Revision {
		return &persistence.ExecutionError{
			Op:          "Update",
			ExecutionID: execution.ID,
			Revision:    execution.Revision,
			Err:         persistence.ErrRevisionConflict,
		}
	}

	execution.Revision++

	if err := writeJSON(path, execution); err != nil {
		execution.Revision--

		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	var execution models.Execution

	err := readJSON(er.path(id), &execution)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = persistence.ErrExecutionNotFound
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return &execution, nil
}

func (er *ExecutionRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	return er.filter(func(e *models.Execution) bool {
		return e.WorkflowID == workflowID
	})
}

func (er *ExecutionRepository) GetByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.Execution, error) {
	return er.filter(func(e *models.Execution) bool {
		return e.Status == status
	})
}

func (er *ExecutionRepository) filter(keep func(*models.Execution) bool) ([]*models.Execution, error) {
	files, err := jsonFiles(filepath.Join(er.root, "executions"))
	if err != nil {
		return nil, err
	}

	executions := make([]*models.Execution, 0)

	for _, f := range files {
		var execution models.Execution
		if err := readJSON(f, &execution); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			return nil, err
		}

		if keep(&execution) {
			executions = append(executions, &execution)
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartTime.Before(executions[j].StartTime)
	})

	return executions, nil
}
