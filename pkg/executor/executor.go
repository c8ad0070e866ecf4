// Package executor defines the contract between the engine and the code that
// performs a step, and the registry that maps step kinds to implementations.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"maps"

	"github.com/dukex/stepflow/pkg/models"
)

var (
	ErrUnknownKind   = errors.New("no executor registered for step kind")
	ErrInvalidConfig = errors.New("invalid step config")
)

// StepRunner lets control-flow executors run other steps of the same
// execution through the engine. The output of a step run this way is
// recorded as that step's result.
type StepRunner interface {
	RunStep(ctx context.Context, stepID string) (any, error)
}

// Context is everything an executor may read about the execution it runs in.
// Variables and Results are copies; writing to them has no effect.
type Context struct {
	ExecutionID string
	WorkflowID  string
	Step        *models.Step
	Variables   map[string]any
	Results     map[string]any
	Runner      StepRunner
	Logger      *slog.Logger
}

// Execution returns a detached execution view, as used by the template
// grammar.
func (c *Context) Execution() *models.Execution {
	results := maps.Clone(c.Results)
	if results == nil {
		results = map[string]any{}
	}

	return &models.Execution{
		ID:            c.ExecutionID,
		WorkflowID:    c.WorkflowID,
		CurrentStepID: c.Step.ID,
		Variables:     maps.Clone(c.Variables),
		Results:       results,
	}
}

// Log returns the step logger, or a discarding one when none was set.
func (c *Context) Log() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}

	return c.Logger
}

// Executor performs one step. A returned error is a step failure and is
// handed to the error handler by the engine.
type Executor interface {
	Execute(ctx context.Context, ec *Context) (any, error)
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, ec *Context) (any, error)

func (f Func) Execute(ctx context.Context, ec *Context) (any, error) {
	return f(ctx, ec)
}

// Factory builds executors for one step kind.
type Factory interface {
	Kind() models.StepKind
	Description() string
	// Schema is the JSON schema a step's config must satisfy.
	Schema() map[string]any
	Create(step *models.Step) (Executor, error)
}

// Router is implemented by executors that choose the next step themselves,
// like condition. Next returns false when the output selects nothing and the
// step's own edges apply.
type Router interface {
	Next(output any) (string, bool)
}
