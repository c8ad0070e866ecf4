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

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

func (r *WorkflowRepository) Create(ctx context.Context, workflow *models.Workflow) error {
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = time.Now().UTC()
	}

	definition, err := json.Marshal(workflow)
	if err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, fmt.Errorf("failed to marshal definition: %w", err))
	}

	query := `
		INSERT INTO workflows (id, version, name, definition, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.Version,
		workflow.Name,
		definition,
		workflow.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			err = persistence.ErrWorkflowAlreadyExists
		}

		return &persistence.WorkflowError{Op: "Create", WorkflowID: workflow.ID, Version: workflow.Version, Err: err}
	}

	return nil
}

// GetByID returns the latest version of a definition.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT definition
		FROM workflows
		WHERE id = $1
		ORDER BY version DESC
		LIMIT 1
	`

	workflow, err := r.scanDefinition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) GetVersion(ctx context.Context, id string, version int) (*models.Workflow, error) {
	query := `SELECT definition FROM workflows WHERE id = $1 AND version = $2`

	workflow, err := r.scanDefinition(r.db.QueryRowContext(ctx, query, id, version))
	if err != nil {
		return nil, &persistence.WorkflowError{Op: "GetVersion", WorkflowID: id, Version: version, Err: err}
	}

	return workflow, nil
}

// GetAll returns the latest version of every definition.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	query := `
		SELECT DISTINCT ON (id) definition
		FROM workflows
		ORDER BY id, version DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanDefinition(row scanner) (*models.Workflow, error) {
	var definition []byte

	err := row.Scan(&definition)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, err
	}

	var workflow models.Workflow

	err = json.Unmarshal(definition, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}

	return &workflow, nil
}
