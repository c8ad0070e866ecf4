// Package script provides the script step: it renders a template expression
// against the execution and returns the value. Nothing is executed.
package script

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/template"
)

var ErrScriptFailed = errors.New("script step failed")

type Executor struct {
	config models.ScriptConfig
}

func New(step *models.Step) (*Executor, error) {
	var config models.ScriptConfig
	if err := models.DecodeConfig(step.Config, &config); err != nil {
		return nil, err
	}

	return &Executor{config: config}, nil
}

func (e *Executor) Execute(_ context.Context, ec *executor.Context) (any, error) {
	if e.config.Fail {
		message := e.config.Message
		if message == "" {
			return nil, ErrScriptFailed
		}

		return nil, fmt.Errorf("%w: %s", ErrScriptFailed, message)
	}

	if e.config.Expression == "" {
		return map[string]any{"step_id": ec.Step.ID, "status": "ok"}, nil
	}

	return template.RenderWithContext(e.config.Expression, ec.Execution())
}
