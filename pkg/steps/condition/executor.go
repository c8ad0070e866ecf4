// Package condition provides the condition step, which picks one of two
// successors from a boolean expression.
package condition

import (
	"context"
	"errors"

	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/template"
)

var ErrMissingExpression = errors.New("condition step requires an expression")

type Executor struct {
	config models.ConditionConfig
}

func New(step *models.Step) (*Executor, error) {
	var config models.ConditionConfig
	if err := models.DecodeConfig(step.Config, &config); err != nil {
		return nil, err
	}

	if config.Expression == "" {
		return nil, ErrMissingExpression
	}

	return &Executor{config: config}, nil
}

// Execute outputs {"result": bool, "selected": step id or ""}.
func (e *Executor) Execute(_ context.Context, ec *executor.Context) (any, error) {
	result, err := template.EvaluateCondition(e.config.Expression, ec.Execution())
	if err != nil {
		return nil, err
	}

	selected := e.config.Else
	if result {
		selected = e.config.Then
	}

	ec.Log().Debug("Condition evaluated", "step_id", ec.Step.ID, "result", result, "selected", selected)

	return map[string]any{
		"result":   result,
		"selected": selected,
	}, nil
}

// Next routes to the selected branch. An empty branch selects nothing.
func (e *Executor) Next(output any) (string, bool) {
	m, ok := output.(map[string]any)
	if !ok {
		return "", false
	}

	selected, _ := m["selected"].(string)

	return selected, selected != ""
}
