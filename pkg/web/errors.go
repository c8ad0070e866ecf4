package web

import (
	"errors"

	"github.com/dukex/stepflow/pkg/engine"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/recovery"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func notFound(c fiber.Ctx, kind, detail string) error {
	return problem(c, fiber.StatusNotFound, kind, detail)
}

func conflict(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusConflict, "conflict", detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// handleError maps engine, store and error handler failures to problems.
func handleError(c fiber.Ctx, err error) error {
	switch {
	case models.IsInvalidDefinition(err):
		return badRequest(c, err.Error())
	case errors.Is(err, recovery.ErrInvalidResolution):
		return badRequest(c, err.Error())

	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow_not_found", "workflow not found")
	case persistence.IsExecutionNotFound(err):
		return notFound(c, "execution_not_found", "execution not found")
	case errors.Is(err, recovery.ErrErrorNotFound):
		return notFound(c, "error_not_found", "workflow error not found")

	case errors.Is(err, persistence.ErrWorkflowAlreadyExists),
		errors.Is(err, engine.ErrInvalidTransition),
		errors.Is(err, recovery.ErrAlreadyResolved),
		errors.Is(err, recovery.ErrRecoveryInProgress),
		persistence.IsRevisionConflict(err):
		return conflict(c, err.Error())

	case errors.Is(err, engine.ErrShuttingDown):
		return problem(c, fiber.StatusServiceUnavailable, "shutting_down", err.Error())

	default:
		return internalError(c, err)
	}
}
