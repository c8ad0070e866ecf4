package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	cli "github.com/urfave/cli/v3"
)

var ErrExecutionNotCompleted = errors.New("execution did not complete")

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run a workflow file and print the final execution",
		ArgsUsage: "<workflow.(json|yaml)>",
		Flags: flags(
			persistenceFlags(),
			eventBusFlags(),
			engineFlags(),
			[]cli.Flag{
				&cli.StringSliceFlag{
					Name:    "var",
					Aliases: []string{"v"},
					Usage:   "Execution variable as key=value (repeatable)",
				},
				&cli.DurationFlag{
					Name:  "timeout",
					Usage: "Give up waiting after this long (0 waits forever)",
				},
			},
		),
		Action: runWorkflow,
	}
}

func runWorkflow(ctx context.Context, command *cli.Command) error {
	if command.Args().Len() != 1 {
		return cli.Exit("run expects exactly one workflow file", 2)
	}

	logger := log.WithModule("stepflow-run")

	workflow, err := loadWorkflow(command.Args().First())
	if err != nil {
		return err
	}

	variables, err := parseVariables(command.StringSlice("var"))
	if err != nil {
		return err
	}

	a, err := newApp(ctx, command, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := a.close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to shut down cleanly", "error", err)
		}
	}()

	if _, err := a.engine.CreateWorkflow(ctx, workflow); err != nil {
		if !errors.Is(err, persistence.ErrWorkflowAlreadyExists) {
			return err
		}

		logger.InfoContext(ctx, "Workflow version already stored, running it",
			"workflow_id", workflow.ID, "version", workflow.Version)
	}

	id, err := a.engine.ExecuteWorkflow(ctx, workflow.ID, variables)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Execution started", "workflow_id", workflow.ID, "execution_id", id)

	waitCtx := ctx
	if timeout := command.Duration("timeout"); timeout > 0 {
		var cancel context.CancelFunc

		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	exec, err := a.engine.Wait(waitCtx, id)
	if err != nil {
		return fmt.Errorf("failed waiting for execution %s: %w", id, err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(exec); err != nil {
		return err
	}

	if exec.Status != models.ExecutionCompleted {
		return fmt.Errorf("%w: %s is %s after %s", ErrExecutionNotCompleted, id, exec.Status, elapsed(exec))
	}

	return nil
}

func elapsed(exec *models.Execution) time.Duration {
	end := time.Now()
	if exec.EndTime != nil {
		end = *exec.EndTime
	}

	return end.Sub(exec.StartTime).Round(time.Millisecond)
}
