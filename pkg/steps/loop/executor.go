// Package loop provides the loop step: it re-runs a target step while a
// condition holds, never more than max_iterations times.
package loop

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/template"
)

var (
	ErrMissingTarget = errors.New("loop step requires a target")
	ErrNoRunner      = errors.New("loop step requires a step runner")
)

type Executor struct {
	config models.LoopConfig
}

func New(step *models.Step) (*Executor, error) {
	var config models.LoopConfig
	if err := models.DecodeConfig(step.Config, &config); err != nil {
		return nil, err
	}

	if config.Target == "" {
		return nil, ErrMissingTarget
	}

	if config.Target == step.ID {
		return nil, fmt.Errorf("loop step %s cannot target itself", step.ID)
	}

	return &Executor{config: config}, nil
}

// Execute evaluates the condition before each pass. Inside the condition
// .loop.iteration is the number of completed passes and .loop.last the
// previous output of the target.
func (e *Executor) Execute(ctx context.Context, ec *executor.Context) (any, error) {
	if ec.Runner == nil {
		return nil, ErrNoRunner
	}

	view := ec.Execution()
	limit := e.config.Limit()
	outputs := make([]any, 0)

	var last any

	for iteration := 0; iteration < limit; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if e.config.Condition != "" {
			proceed, err := e.evaluate(view, iteration, last)
			if err != nil {
				return nil, err
			}

			if !proceed {
				return output(iteration, outputs, false), nil
			}
		}

		out, err := ec.Runner.RunStep(ctx, e.config.Target)
		if err != nil {
			return nil, fmt.Errorf("loop iteration %d: %w", iteration+1, err)
		}

		last = out
		outputs = append(outputs, out)
		view.Results[e.config.Target] = out
	}

	ec.Log().Warn("Loop stopped at max iterations", "step_id", ec.Step.ID, "max_iterations", limit)

	return output(limit, outputs, true), nil
}

func (e *Executor) evaluate(view *models.Execution, iteration int, last any) (bool, error) {
	data := template.Data(view)
	data["loop"] = map[string]any{
		"iteration": iteration,
		"last":      last,
	}

	rendered, err := template.Render(e.config.Condition, data)
	if err != nil {
		return false, err
	}

	return models.SimpleConditionalInterpreter{}.Evaluate(rendered)
}

func output(iterations int, outputs []any, exhausted bool) map[string]any {
	return map[string]any{
		"iterations": iterations,
		"outputs":    outputs,
		"exhausted":  exhausted,
	}
}
