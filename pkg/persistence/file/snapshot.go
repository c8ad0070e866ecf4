package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// SnapshotRepository stores snapshots as <root>/snapshots/<execution>/<seq>.json.
// Sequence numbers are zero padded so name order equals sequence order.
type SnapshotRepository struct {
	root  string
	locks *keyedMutex
}

// NewSnapshotRepository creates a new snapshot repository.
func NewSnapshotRepository(root string, locks *keyedMutex) *SnapshotRepository {
	return &SnapshotRepository{root: root, locks: locks}
}

func (sr *SnapshotRepository) dir(executionID string) string {
	return filepath.Join(sr.root, "snapshots", executionID)
}

func (sr *SnapshotRepository) Save(_ context.Context, snapshot *models.Snapshot) error {
	if err := validateID(snapshot.ExecutionID); err != nil {
		return persistence.NewExecutionError("SaveSnapshot", snapshot.ExecutionID, err)
	}

	dir := sr.dir(snapshot.ExecutionID)
	unlock := sr.locks.lock(dir)
	defer unlock()

	files, err := jsonFiles(dir)
	if err != nil {
		return persistence.NewExecutionError("SaveSnapshot", snapshot.ExecutionID, err)
	}

	next := int64(1)

	if len(files) > 0 {
		last, err := sequenceOf(files[len(files)-1])
		if err != nil {
			return persistence.NewExecutionError("SaveSnapshot", snapshot.ExecutionID, err)
		}

		next = last + 1
	}

	snapshot.Sequence = next

	path := filepath.Join(dir, fmt.Sprintf("%020d.json", next))
	if err := writeJSON(path, snapshot); err != nil {
		snapshot.Sequence = 0

		return persistence.NewExecutionError("SaveSnapshot", snapshot.ExecutionID, err)
	}

	return nil
}

func (sr *SnapshotRepository) Latest(ctx context.Context, executionID string) (*models.Snapshot, error) {
	snapshots, err := sr.List(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if len(snapshots) == 0 {
		return nil, persistence.NewExecutionError("LatestSnapshot", executionID, persistence.ErrSnapshotNotFound)
	}

	return snapshots[len(snapshots)-1], nil
}

// List returns snapshots ordered by sequence.
func (sr *SnapshotRepository) List(_ context.Context, executionID string) ([]*models.Snapshot, error) {
	if err := validateID(executionID); err != nil {
		return nil, persistence.NewExecutionError("ListSnapshots", executionID, err)
	}

	files, err := jsonFiles(sr.dir(executionID))
	if err != nil {
		return nil, persistence.NewExecutionError("ListSnapshots", executionID, err)
	}

	snapshots := make([]*models.Snapshot, 0, len(files))

	for _, f := range files {
		var snapshot models.Snapshot
		if err := readJSON(f, &snapshot); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			return nil, persistence.NewExecutionError("ListSnapshots", executionID, err)
		}

		snapshots = append(snapshots, &snapshot)
	}

	return snapshots, nil
}

func (sr *SnapshotRepository) DeleteByExecution(_ context.Context, executionID string) error {
	if err := validateID(executionID); err != nil {
		return persistence.NewExecutionError("DeleteSnapshots", executionID, err)
	}

	dir := sr.dir(executionID)
	unlock := sr.locks.lock(dir)
	defer unlock()

	if err := os.RemoveAll(dir); err != nil {
		return persistence.NewExecutionError("DeleteSnapshots", executionID, err)
	}

	return nil
}

func sequenceOf(path string) (int64, error) {
	seq, err := strconv.ParseInt(strings.TrimSuffix(filepath.Base(path), ".json"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid snapshot file name %s: %w", filepath.Base(path), err)
	}

	return seq, nil
}
