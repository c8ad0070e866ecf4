package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// SnapshotRepository stores execution snapshots keyed by execution and sequence.
type SnapshotRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSnapshotRepository creates a new snapshot repository.
func NewSnapshotRepository(db *sql.DB, logger *slog.Logger) *SnapshotRepository {
	return &SnapshotRepository{db: db, logger: logger}
}

// Save assigns MAX(sequence)+1 inside a transaction holding an advisory lock
// on the execution id.
func (r *SnapshotRepository) Save(ctx context.Context, snapshot *models.Snapshot) error {
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewExecutionError("SaveSnapshot", snapshot.ExecutionID, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", snapshot.ExecutionID)
	if err != nil {
		return persistence.NewExecutionError("SaveSnapshot", snapshot.ExecutionID, err)
	}

	var next int64

	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(sequence), 0) + 1 FROM execution_snapshots WHERE execution_id = $1",
		snapshot.ExecutionID,
	).Scan(&next)
	if err != nil {
		return persistence.NewExecutionError("SaveSnapshot", snapshot.ExecutionID, err)
	}

	snapshot.Sequence = next

	record, err := json.Marshal(snapshot)
	if err != nil {
		return persistence.NewExecutionError("SaveSnapshot", snapshot.ExecutionID, err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO execution_snapshots (execution_id, sequence, created_at, record) VALUES ($1, $2, $3, $4)",
		snapshot.ExecutionID,
		next,
		snapshot.CreatedAt,
		record,
	)
	if err != nil {
		return persistence.NewExecutionError("SaveSnapshot", snapshot.ExecutionID, err)
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewExecutionError("SaveSnapshot", snapshot.ExecutionID, fmt.Errorf("failed to commit: %w", err))
	}

	return nil
}

func (r *SnapshotRepository) Latest(ctx context.Context, executionID string) (*models.Snapshot, error) {
	var record []byte

	err := r.db.QueryRowContext(ctx,
		"SELECT record FROM execution_snapshots WHERE execution_id = $1 ORDER BY sequence DESC LIMIT 1",
		executionID,
	).Scan(&record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = persistence.ErrSnapshotNotFound
		}

		return nil, persistence.NewExecutionError("LatestSnapshot", executionID, err)
	}

	return decodeSnapshot(record)
}

func (r *SnapshotRepository) List(ctx context.Context, executionID string) ([]*models.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT record FROM execution_snapshots WHERE execution_id = $1 ORDER BY sequence",
		executionID,
	)
	if err != nil {
		return nil, persistence.NewExecutionError("ListSnapshots", executionID, err)
	}

	defer closeRows(ctx, r.logger, rows)

	snapshots := make([]*models.Snapshot, 0)

	for rows.Next() {
		var record []byte

		err := rows.Scan(&record)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		snapshot, err := decodeSnapshot(record)
		if err != nil {
			return nil, err
		}

		snapshots = append(snapshots, snapshot)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snapshots, nil
}

func (r *SnapshotRepository) DeleteByExecution(ctx context.Context, executionID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM execution_snapshots WHERE execution_id = $1", executionID)
	if err != nil {
		return persistence.NewExecutionError("DeleteSnapshots", executionID, err)
	}

	return nil
}

func decodeSnapshot(record []byte) (*models.Snapshot, error) {
	var snapshot models.Snapshot

	err := json.Unmarshal(record, &snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snapshot, nil
}
