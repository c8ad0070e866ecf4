package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidDefinition is wrapped by every definition validation failure.
var ErrInvalidDefinition = errors.New("invalid workflow definition")

// ValidationError describes why a definition was rejected.
type ValidationError struct {
	WorkflowID string
	StepID     string
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	var b strings.Builder

	b.WriteString("invalid workflow definition")

	if e.WorkflowID != "" {
		fmt.Fprintf(&b, " %s", e.WorkflowID)
	}

	if e.StepID != "" {
		fmt.Fprintf(&b, ": step %s", e.StepID)
	}

	if e.Field != "" {
		fmt.Fprintf(&b, ": %s", e.Field)
	}

	fmt.Fprintf(&b, ": %s", e.Reason)

	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidDefinition
}

// IsInvalidDefinition checks if an error is a definition validation failure.
func IsInvalidDefinition(err error) bool {
	return errors.Is(err, ErrInvalidDefinition)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateWorkflow checks required fields, unique step ids, known kinds and
// that every forward reference resolves to a step of the same definition.
func ValidateWorkflow(w *Workflow) error {
	if w == nil {
		return &ValidationError{Reason: "definition is nil"}
	}

	if err := validate.Struct(w); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]

			return &ValidationError{
				WorkflowID: w.ID,
				Field:      fe.Namespace(),
				Reason:     fmt.Sprintf("failed on '%s'", fe.Tag()),
			}
		}

		return &ValidationError{WorkflowID: w.ID, Reason: err.Error()}
	}

	ids := make(map[string]struct{}, len(w.Steps))
	for _, step := range w.Steps {
		if _, dup := ids[step.ID]; dup {
			return &ValidationError{WorkflowID: w.ID, StepID: step.ID, Reason: "duplicate step id"}
		}

		ids[step.ID] = struct{}{}

		if !step.Kind.Valid() {
			return &ValidationError{
				WorkflowID: w.ID,
				StepID:     step.ID,
				Field:      "kind",
				Reason:     fmt.Sprintf("unknown step kind %q", step.Kind),
			}
		}

		if step.Recovery != nil {
			if err := validate.Struct(step.Recovery); err != nil {
				return &ValidationError{WorkflowID: w.ID, StepID: step.ID, Field: "recovery", Reason: err.Error()}
			}
		}
	}

	for _, step := range w.Steps {
		refs, err := step.References()
		if err != nil {
			return &ValidationError{WorkflowID: w.ID, StepID: step.ID, Field: "config", Reason: err.Error()}
		}

		for _, ref := range refs {
			if ref == "" {
				return &ValidationError{WorkflowID: w.ID, StepID: step.ID, Reason: "empty step reference"}
			}

			if _, ok := ids[ref]; !ok {
				return &ValidationError{
					WorkflowID: w.ID,
					StepID:     step.ID,
					Reason:     fmt.Sprintf("dangling reference to step %q", ref),
				}
			}
		}
	}

	return nil
}
