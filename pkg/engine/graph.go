package engine

import (
	"context"
	"fmt"

	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/models"
)

// graph is the executable form of a definition: each step bound to the
// executor built for it.
type graph struct {
	workflow  *models.Workflow
	executors map[string]executor.Executor
}

func graphKey(id string, version int) string {
	return fmt.Sprintf("%s@%d", id, version)
}

func (g *graph) step(id string) (*models.Step, executor.Executor, error) {
	step := g.workflow.StepByID(id)
	if step == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownStep, id)
	}

	return step, g.executors[id], nil
}

// successors returns the steps to run after step, in order. Condition
// routing wins; after a recovery other than retry on_failure wins; then next,
// then on_success.
func (g *graph) successors(step *models.Step, output any, recoveredBy models.RecoveryStrategyType) []string {
	failed := recoveredBy != "" && recoveredBy != models.RecoveryRetry

	if !failed {
		if router, ok := g.executors[step.ID].(executor.Router); ok {
			if next, selected := router.Next(output); selected {
				return []string{next}
			}
		}
	}

	if failed && step.OnFailure != "" {
		return []string{step.OnFailure}
	}

	if len(step.Next) > 0 {
		return append([]string(nil), step.Next...)
	}

	if step.OnSuccess != "" {
		return []string{step.OnSuccess}
	}

	return nil
}

func (e *Engine) buildGraph(workflow *models.Workflow) (*graph, error) {
	g := &graph{
		workflow:  workflow,
		executors: make(map[string]executor.Executor, len(workflow.Steps)),
	}

	for _, step := range workflow.Steps {
		exec, err := e.registry.Create(step)
		if err != nil {
			return nil, &models.ValidationError{
				WorkflowID: workflow.ID,
				StepID:     step.ID,
				Field:      "config",
				Reason:     err.Error(),
			}
		}

		g.executors[step.ID] = exec
	}

	return g, nil
}

func (e *Engine) cacheGraph(g *graph) {
	e.graphsMu.Lock()
	defer e.graphsMu.Unlock()

	e.graphs[graphKey(g.workflow.ID, g.workflow.Version)] = g
}

// graphFor returns the graph of a stored definition version, rebuilding it
// from the store when it is not cached.
func (e *Engine) graphFor(ctx context.Context, id string, version int) (*graph, error) {
	e.graphsMu.RLock()
	g, ok := e.graphs[graphKey(id, version)]
	e.graphsMu.RUnlock()

	if ok {
		return g, nil
	}

	workflow, err := e.store.WorkflowRepository().GetVersion(ctx, id, version)
	if err != nil {
		return nil, err
	}

	g, err = e.buildGraph(workflow)
	if err != nil {
		return nil, err
	}

	e.cacheGraph(g)

	return g, nil
}

func (e *Engine) latestGraph(ctx context.Context, id string) (*graph, error) {
	workflow, err := e.store.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return e.graphFor(ctx, workflow.ID, workflow.Version)
}
