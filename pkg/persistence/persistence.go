// Package persistence provides the state store abstraction for workflow
// definitions, execution records and snapshots.
package persistence

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
)

type Persistence interface {
	// Repository access
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	SnapshotRepository() SnapshotRepository

	// Health and lifecycle
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores immutable definitions keyed by id and version.
type WorkflowRepository interface {
	// Create stores a definition. Returns ErrWorkflowAlreadyExists when the
	// id+version pair is taken.
	Create(ctx context.Context, workflow *models.Workflow) error
	// GetByID returns the latest version of a definition.
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	GetVersion(ctx context.Context, id string, version int) (*models.Workflow, error)
	// GetAll returns the latest version of every definition.
	GetAll(ctx context.Context) ([]*models.Workflow, error)
}

// ExecutionRepository stores execution records with optimistic concurrency.
type ExecutionRepository interface {
	// Create stores a new record at revision 1.
	Create(ctx context.Context, execution *models.Execution) error
	// Update writes the record if the stored revision equals
	// execution.Revision and bumps the revision on success. Returns
	// ErrRevisionConflict otherwise.
	Update(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	GetByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error)
	GetByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.Execution, error)
}

// SnapshotRepository stores point-in-time copies of executions.
type SnapshotRepository interface {
	// Save assigns the next sequence for the execution and stores the
	// snapshot. The assigned sequence is written back into snapshot.
	Save(ctx context.Context, snapshot *models.Snapshot) error
	Latest(ctx context.Context, executionID string) (*models.Snapshot, error)
	List(ctx context.Context, executionID string) ([]*models.Snapshot, error)
	DeleteByExecution(ctx context.Context, executionID string) error
}
