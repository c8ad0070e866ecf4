package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/models"
	cli "github.com/urfave/cli/v3"
)

var ErrInvalidWorkflows = errors.New("invalid workflow definitions")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate workflow definition files",
		ArgsUsage: "<workflow.(json|yaml)>...",
		Action: func(ctx context.Context, command *cli.Command) error {
			if command.Args().Len() == 0 {
				return cli.Exit("validate expects at least one workflow file", 2)
			}

			logger := log.WithModule("stepflow").With("action", "validate")
			registry := cmd.NewExecutorRegistry(logger, "")

			invalid := 0

			for _, path := range command.Args().Slice() {
				if err := validateFile(path, registry); err != nil {
					invalid++

					logger.ErrorContext(ctx, "Invalid workflow", "file", path, "error", err)

					continue
				}

				logger.InfoContext(ctx, "Workflow is valid", "file", path)
			}

			if invalid > 0 {
				return fmt.Errorf("%w: %d of %d", ErrInvalidWorkflows, invalid, command.Args().Len())
			}

			return nil
		},
	}
}

// stepValidator is implemented by executor.Registry.
type stepValidator interface {
	Validate(step *models.Step) error
}

func validateFile(path string, registry stepValidator) error {
	workflow, err := loadWorkflow(path)
	if err != nil {
		return err
	}

	if err := models.ValidateWorkflow(workflow); err != nil {
		return err
	}

	for _, step := range workflow.Steps {
		if err := registry.Validate(step); err != nil {
			return &models.ValidationError{WorkflowID: workflow.ID, StepID: step.ID, Field: "config", Reason: err.Error()}
		}
	}

	return nil
}
