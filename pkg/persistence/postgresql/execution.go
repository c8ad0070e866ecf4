package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// ExecutionRepository handles execution records. The full record lives in a
// JSONB column; status and workflow columns exist for filtering.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	execution.Revision = 1

	record, err := json.Marshal(execution)
	if err != nil {
		execution.Revision = 0

		return persistence.NewExecutionError("Create", execution.ID, fmt.Errorf("failed to marshal execution: %w", err))
	}

	query := `
		INSERT INTO executions (id, workflow_id, workflow_version, status, start_time, end_time, record, revision)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.WorkflowVersion,
		execution.Status,
		execution.StartTime,
		execution.EndTime,
		record,
		execution.Revision,
	)
	if err != nil {
		execution.Revision = 0

		if isUniqueViolation(err) {
			err = persistence.ErrExecutionAlreadyExists
		}

		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

// Update is a compare-and-swap on the revision column.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.Execution) error {
	expected := execution.Revision
	execution.Revision = expected + 1

	record, err := json.Marshal(execution)
	if err != nil {
		execution.Revision = expected

		return persistence.NewExecutionError("Update", execution.ID, fmt.Errorf("failed to marshal execution: %w", err))
	}

	query := `
		UPDATE executions
		SET status = $3, end_time = $4, record = $5, revision = revision + 1
		WHERE id = $1 AND revision = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID,
		expected,
		execution.Status,
		execution.EndTime,
		record,
	)
	if err != nil {
		execution.Revision = expected

		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		execution.Revision = expected

		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if affected == 0 {
		execution.Revision = expected

		var exists bool

		err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM executions WHERE id = $1)", execution.ID).Scan(&exists)
		if err != nil {
			return persistence.NewExecutionError("Update", execution.ID, err)
		}

		if !exists {
			return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
		}

		return &persistence.ExecutionError{
			Op:          "Update",
			ExecutionID: execution.ID,
			Revision:    expected,
			Err:         persistence.ErrRevisionConflict,
		}
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	var record []byte

	err := r.db.QueryRowContext(ctx, "SELECT record FROM executions WHERE id = $1", id).Scan(&record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = persistence.ErrExecutionNotFound
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	execution, err := decodeExecution(record)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	return r.query(ctx, "SELECT record FROM executions WHERE workflow_id = $1 ORDER BY start_time", workflowID)
}

func (r *ExecutionRepository) GetByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.Execution, error) {
	return r.query(ctx, "SELECT record FROM executions WHERE status = $1 ORDER BY start_time", string(status))
}

func (r *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		var record []byte

		err := rows.Scan(&record)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		execution, err := decodeExecution(record)
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func decodeExecution(record []byte) (*models.Execution, error) {
	var execution models.Execution

	err := json.Unmarshal(record, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}

	if execution.Results == nil {
		execution.Results = map[string]any{}
	}

	return &execution, nil
}
