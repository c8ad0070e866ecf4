package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/recovery"
)

var (
	_ recovery.ExecutionController = (*Engine)(nil)
	_ ErrorHandler                 = (*recovery.Handler)(nil)
)

// LookupStep returns the definition an execution runs and one of its steps.
func (e *Engine) LookupStep(ctx context.Context, executionID, stepID string) (*models.Workflow, *models.Step, error) {
	g, err := e.executionGraph(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}

	step, _, err := g.step(stepID)
	if err != nil {
		return g.workflow, nil, err
	}

	return g.workflow, step, nil
}

// InvokeStep runs a step of a running execution once. The output is
// returned, not recorded. Paused and ended executions dispatch nothing.
func (e *Engine) InvokeStep(ctx context.Context, executionID, stepID string) (any, error) {
	r := e.activeRun(executionID)
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotRunning, executionID)
	}

	r.mu.Lock()
	status := r.exec.Status
	r.mu.Unlock()

	if status != models.ExecutionRunning {
		return nil, fmt.Errorf("%w: %s is %s", ErrExecutionNotRunning, executionID, status)
	}

	step, _, err := r.graph.step(stepID)
	if err != nil {
		return nil, err
	}

	return e.invoke(ctx, r, step)
}

func (e *Engine) RecordRecovery(
	ctx context.Context,
	executionID, stepID string,
	output any,
	strategy models.RecoveryStrategyType,
) error {
	r := e.activeRun(executionID)
	if r == nil {
		return fmt.Errorf("%w: %s", ErrExecutionNotRunning, executionID)
	}

	r.mu.Lock()

	if r.exec.Status.IsTerminal() {
		status := r.exec.Status
		r.mu.Unlock()

		return fmt.Errorf("%w: %s is %s", ErrExecutionNotRunning, executionID, status)
	}

	r.exec.SetResult(stepID, output)
	r.recoveredBy[stepID] = strategy
	e.appendLog(ctx, r, "warn", stepID, fmt.Sprintf("step recovered by %s", strategy))
	e.unlock(ctx, r)

	return nil
}

func (e *Engine) RemoveResults(ctx context.Context, executionID string, stepIDs []string) error {
	r := e.activeRun(executionID)
	if r == nil {
		return fmt.Errorf("%w: %s", ErrExecutionNotRunning, executionID)
	}

	r.mu.Lock()

	if r.exec.Status.IsTerminal() {
		status := r.exec.Status
		r.mu.Unlock()

		return fmt.Errorf("%w: %s is %s", ErrExecutionNotRunning, executionID, status)
	}

	for _, id := range stepIDs {
		delete(r.exec.Results, id)
	}

	if len(stepIDs) > 0 {
		e.appendLog(ctx, r, "warn", r.exec.CurrentStepID, "rolled back steps: "+strings.Join(stepIDs, ", "))
	}

	e.unlock(ctx, r)

	return nil
}

func (e *Engine) executionGraph(ctx context.Context, executionID string) (*graph, error) {
	if r := e.activeRun(executionID); r != nil {
		return r.graph, nil
	}

	exec, err := e.store.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return e.graphFor(ctx, exec.WorkflowID, exec.WorkflowVersion)
}
