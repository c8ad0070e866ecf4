// Package web provides the HTTP API over the workflow engine and its error
// handler.
package web

import (
	"net/http"
	"time"

	"github.com/dukex/stepflow/pkg/engine"
	"github.com/dukex/stepflow/pkg/metrics"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/recovery"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
)

type APIHandlers struct {
	engine      *engine.Engine
	errors      *recovery.Handler
	persistence persistence.Persistence
	metrics     *metrics.Collector
	validator   *validator.Validate
}

func NewAPIHandlers(
	eng *engine.Engine,
	errorHandler *recovery.Handler,
	persistence persistence.Persistence,
	collector *metrics.Collector,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		engine:      eng,
		errors:      errorHandler,
		persistence: persistence,
		metrics:     collector,
		validator:   validator,
	}
}

// RegisterRoutes mounts every endpoint on router. /metrics is only mounted
// when a collector was given.
func (h *APIHandlers) RegisterRoutes(router fiber.Router) {
	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Post("/:id/executions", h.ExecuteWorkflow)
	w.Get("/:id/executions", h.GetWorkflowExecutions)

	e := router.Group("/executions")
	e.Get("/:id", h.GetExecution)
	e.Get("/:id/snapshots", h.GetExecutionSnapshots)
	e.Get("/:id/errors", h.GetExecutionErrors)
	e.Post("/:id/pause", h.PauseExecution)
	e.Post("/:id/resume", h.ResumeExecution)
	e.Post("/:id/cancel", h.CancelExecution)

	router.Get("/dead-letters", h.GetDeadLetters)
	router.Post("/errors/:id/resolve", h.ResolveError)
	router.Get("/circuit-breakers", h.GetCircuitBreakers)

	router.Get("/health", h.HealthCheck)

	if h.metrics != nil {
		router.Get("/metrics", adaptor.HTTPHandler(h.metrics.Handler()))
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "stepflow is healthy"
	httpStatus := http.StatusOK
	repository := "ok"

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "stepflow is unhealthy"
		httpStatus = http.StatusServiceUnavailable
		repository = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repository,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.engine.ListWorkflows(c.Context())
	if err != nil {
		return handleError(c, err)
	}

	if workflows == nil {
		workflows = []*models.Workflow{}
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var workflow models.Workflow
	if err := c.Bind().JSON(&workflow); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	created, err := h.engine.CreateWorkflow(c.Context(), &workflow)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.engine.GetWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	var req ExecuteWorkflowRequest
	if err := h.bindOptional(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	id, err := h.engine.ExecuteWorkflow(c.Context(), c.Params("id"), req.Variables)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(ExecuteWorkflowResponse{ExecutionID: id})
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	workflowID := c.Params("id")

	if _, err := h.engine.GetWorkflow(c.Context(), workflowID); err != nil {
		return handleError(c, err)
	}

	execs, err := h.engine.ListExecutions(c.Context(), workflowID)
	if err != nil {
		return handleError(c, err)
	}

	summaries := make([]ExecutionSummary, 0, len(execs))
	for _, exec := range execs {
		summaries = append(summaries, summarize(exec))
	}

	return c.JSON(fiber.Map{
		"executions":  summaries,
		"total_count": len(summaries),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	exec, err := h.engine.GetExecution(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(exec)
}

func (h *APIHandlers) GetExecutionSnapshots(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.engine.GetExecution(c.Context(), id); err != nil {
		return handleError(c, err)
	}

	snapshots, err := h.engine.Snapshots(c.Context(), id)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{"snapshots": snapshots})
}

func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	var req PauseExecutionRequest
	if err := h.bindOptional(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	if req.Reason == "" {
		req.Reason = "paused via API"
	}

	return h.transition(c, func(id string) error {
		return h.engine.PauseExecution(c.Context(), id, req.Reason)
	})
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	var req ResumeExecutionRequest
	if err := h.bindOptional(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	return h.transition(c, func(id string) error {
		return h.engine.ResumeExecution(c.Context(), id, engine.ResumeOptions{SkipCurrent: req.SkipCurrent})
	})
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	return h.transition(c, func(id string) error {
		return h.engine.CancelExecution(c.Context(), id)
	})
}

// transition applies a lifecycle change and answers with the resulting
// execution state.
func (h *APIHandlers) transition(c fiber.Ctx, apply func(id string) error) error {
	id := c.Params("id")

	if err := apply(id); err != nil {
		return handleError(c, err)
	}

	exec, err := h.engine.GetExecution(c.Context(), id)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(summarize(exec))
}

func (h *APIHandlers) GetExecutionErrors(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.engine.GetExecution(c.Context(), id); err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{
		"errors":       h.errors.Errors(id),
		"dead_letters": h.errors.DeadLetterFor(id),
	})
}

func (h *APIHandlers) GetDeadLetters(c fiber.Ctx) error {
	entries := h.errors.DeadLetters()

	return c.JSON(fiber.Map{
		"dead_letters": entries,
		"total_count":  len(entries),
	})
}

func (h *APIHandlers) ResolveError(c fiber.Ctx) error {
	var req ResolveErrorRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	errorID := c.Params("id")

	if err := h.errors.ResolveError(c.Context(), errorID, req.Resolution); err != nil {
		return handleError(c, err)
	}

	resolved, _ := h.errors.Error(errorID)

	return c.JSON(resolved)
}

func (h *APIHandlers) GetCircuitBreakers(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"circuit_breakers": h.errors.BreakerStates()})
}

// bindOptional decodes and validates a JSON body when one was sent.
func (h *APIHandlers) bindOptional(c fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}

	if err := c.Bind().JSON(out); err != nil {
		return err
	}

	return h.validator.Struct(out)
}
