// Package parallel provides the parallel step: it runs sibling steps
// concurrently and succeeds only when all of them succeed.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/models"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoBranches = errors.New("parallel step requires at least one branch")
	ErrNoRunner   = errors.New("parallel step requires a step runner")
)

type Executor struct {
	config models.ParallelConfig
}

func New(step *models.Step) (*Executor, error) {
	var config models.ParallelConfig
	if err := models.DecodeConfig(step.Config, &config); err != nil {
		return nil, err
	}

	if len(config.Branches) == 0 {
		return nil, ErrNoBranches
	}

	for _, branch := range config.Branches {
		if branch == step.ID {
			return nil, fmt.Errorf("parallel step %s cannot branch to itself", step.ID)
		}
	}

	return &Executor{config: config}, nil
}

// Execute returns branch id -> output. The first branch failure cancels the
// context passed to the others.
func (e *Executor) Execute(ctx context.Context, ec *executor.Context) (any, error) {
	if ec.Runner == nil {
		return nil, ErrNoRunner
	}

	group, groupCtx := errgroup.WithContext(ctx)
	if e.config.MaxConcurrency > 0 {
		group.SetLimit(e.config.MaxConcurrency)
	}

	var mu sync.Mutex

	outputs := make(map[string]any, len(e.config.Branches))

	for _, branch := range e.config.Branches {
		group.Go(func() error {
			out, err := ec.Runner.RunStep(groupCtx, branch)
			if err != nil {
				return fmt.Errorf("branch %s: %w", branch, err)
			}

			mu.Lock()
			outputs[branch] = out
			mu.Unlock()

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return outputs, nil
}
