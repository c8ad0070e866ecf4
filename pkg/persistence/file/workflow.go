package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// WorkflowRepository stores each definition version as
// <root>/workflows/<id>/<version>.json.
type WorkflowRepository struct {
	root  string
	locks *keyedMutex
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string, locks *keyedMutex) *WorkflowRepository {
	return &WorkflowRepository{root: root, locks: locks}
}

func (wr *WorkflowRepository) dir(id string) string {
	return filepath.Join(wr.root, "workflows", id)
}

func (wr *WorkflowRepository) path(id string, version int) string {
	return filepath.Join(wr.dir(id), strconv.Itoa(version)+".json")
}

// Create stores a definition version; existing versions are never replaced.
func (wr *WorkflowRepository) Create(_ context.Context, workflow *models.Workflow) error {
	if err := validateID(workflow.ID); err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, err)
	}

	path := wr.path(workflow.ID, workflow.Version)
	unlock := wr.locks.lock(path)
	defer unlock()

	if _, err := os.Stat(path); err == nil {
		return &persistence.WorkflowError{
			Op:         "Create",
			WorkflowID: workflow.ID,
			Version:    workflow.Version,
			Err:        persistence.ErrWorkflowAlreadyExists,
		}
	}

	if err := writeJSON(path, workflow); err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, err)
	}

	return nil
}

// GetByID returns the highest stored version of a definition.
func (wr *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	versions, err := wr.versions(id)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	if len(versions) == 0 {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return wr.GetVersion(ctx, id, versions[len(versions)-1])
}

func (wr *WorkflowRepository) GetVersion(_ context.Context, id string, version int) (*models.Workflow, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewWorkflowError("GetVersion", id, err)
	}

	var workflow models.Workflow

	err := readJSON(wr.path(id, version), &workflow)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = persistence.ErrWorkflowNotFound
		}

		return nil, &persistence.WorkflowError{Op: "GetVersion", WorkflowID: id, Version: version, Err: err}
	}

	return &workflow, nil
}

func (wr *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	entries, err := os.ReadDir(filepath.Join(wr.root, "workflows"))
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Workflow{}, nil
		}

		return nil, fmt.Errorf("failed to read workflows directory: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		workflow, err := wr.GetByID(ctx, entry.Name())
		if err != nil {
			if persistence.IsWorkflowNotFound(err) {
				continue
			}

			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].ID < workflows[j].ID
	})

	return workflows, nil
}

func (wr *WorkflowRepository) versions(id string) ([]int, error) {
	files, err := jsonFiles(wr.dir(id))
	if err != nil {
		return nil, err
	}

	versions := make([]int, 0, len(files))

	for _, f := range files {
		v, err := strconv.Atoi(strings.TrimSuffix(filepath.Base(f), ".json"))
		if err != nil {
			continue
		}

		versions = append(versions, v)
	}

	sort.Ints(versions)

	return versions, nil
}
