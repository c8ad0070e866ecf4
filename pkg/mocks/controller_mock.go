package mocks

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockExecutionController is a mock implementation of
// recovery.ExecutionController.
type MockExecutionController struct {
	mock.Mock
}

func (m *MockExecutionController) LookupStep(ctx context.Context, executionID, stepID string) (*models.Workflow, *models.Step, error) {
	args := m.Called(ctx, executionID, stepID)

	var (
		workflow *models.Workflow
		step     *models.Step
	)

	if args.Get(0) != nil {
		workflow = args.Get(0).(*models.Workflow)
	}

	if args.Get(1) != nil {
		step = args.Get(1).(*models.Step)
	}

	return workflow, step, args.Error(2)
}

func (m *MockExecutionController) InvokeStep(ctx context.Context, executionID, stepID string) (any, error) {
	args := m.Called(ctx, executionID, stepID)

	return args.Get(0), args.Error(1)
}

func (m *MockExecutionController) RecordRecovery(ctx context.Context, executionID, stepID string, output any, strategy models.RecoveryStrategyType) error {
	args := m.Called(ctx, executionID, stepID, output, strategy)

	return args.Error(0)
}

func (m *MockExecutionController) RemoveResults(ctx context.Context, executionID string, stepIDs []string) error {
	args := m.Called(ctx, executionID, stepIDs)

	return args.Error(0)
}

func (m *MockExecutionController) PauseExecution(ctx context.Context, executionID, reason string) error {
	args := m.Called(ctx, executionID, reason)

	return args.Error(0)
}

func (m *MockExecutionController) ResumeExecution(ctx context.Context, executionID string, opts models.ResumeOptions) error {
	args := m.Called(ctx, executionID, opts)

	return args.Error(0)
}

func (m *MockExecutionController) CancelExecution(ctx context.Context, executionID string) error {
	args := m.Called(ctx, executionID)

	return args.Error(0)
}
