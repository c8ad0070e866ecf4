package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukex/stepflow/pkg/backoff"
	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/google/uuid"
)

// Manual resolutions accepted by ResolveError.
const (
	ResolutionRetry  = "retry"
	ResolutionSkip   = "skip"
	ResolutionCancel = "cancel"

	// ResolutionAbandoned marks errors whose recovery stopped because the
	// execution was paused or cancelled meanwhile.
	ResolutionAbandoned = "abandoned"
)

// ExecutionController is the slice of the engine the handler drives. The
// handler never touches stored executions directly.
type ExecutionController interface {
	// LookupStep returns the definition and step an execution is running.
	LookupStep(ctx context.Context, executionID, stepID string) (*models.Workflow, *models.Step, error)
	// InvokeStep runs a step's executor once without recording its output.
	// It fails with ErrExecutionNotRunning unless the execution is running.
	InvokeStep(ctx context.Context, executionID, stepID string) (any, error)
	// RecordRecovery stores output as the result of the failed step.
	RecordRecovery(ctx context.Context, executionID, stepID string, output any, strategy models.RecoveryStrategyType) error
	// RemoveResults deletes recorded results, used by rollback.
	RemoveResults(ctx context.Context, executionID string, stepIDs []string) error
	PauseExecution(ctx context.Context, executionID, reason string) error
	ResumeExecution(ctx context.Context, executionID string, opts models.ResumeOptions) error
	CancelExecution(ctx context.Context, executionID string) error
}

type Option func(*Handler)

// WithClock replaces time.Now, for breaker timeouts and error timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// WithSleep replaces the wait between retry attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(h *Handler) {
		h.sleep = sleep
	}
}

type Handler struct {
	cfg       Config
	logger    *slog.Logger
	publisher eventbus.EventPublisher
	breakers  *BreakerRegistry
	dlq       *DeadLetterQueue
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	ctrlMu     sync.RWMutex
	controller ExecutionController

	strategiesMu    sync.RWMutex
	stepStrategies  map[string]models.RecoveryStrategy
	kindStrategies  map[models.StepKind]models.RecoveryStrategy
	defaultStrategy models.RecoveryStrategy

	errorsMu sync.RWMutex
	errors   map[string]*models.WorkflowError
	// recovering holds the errors a strategy is still working on.
	recovering map[string]struct{}
}

func NewHandler(cfg Config, publisher eventbus.EventPublisher, logger *slog.Logger, opts ...Option) *Handler {
	cfg = cfg.withDefaults()

	if publisher == nil {
		publisher = eventbus.NopPublisher()
	}

	h := &Handler{
		cfg:             cfg,
		logger:          logger.With("module", "recovery"),
		publisher:       publisher,
		dlq:             NewDeadLetterQueue(cfg.DeadLetterCapacity),
		now:             time.Now,
		sleep:           sleepContext,
		stepStrategies:  make(map[string]models.RecoveryStrategy),
		kindStrategies:  make(map[models.StepKind]models.RecoveryStrategy),
		defaultStrategy: cfg.DefaultStrategy,
		errors:          make(map[string]*models.WorkflowError),
		recovering:      make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(h)
	}

	h.breakers = NewBreakerRegistry(cfg, h.now, func(ctx context.Context, event events.CircuitBreakerTransition) {
		h.logger.WarnContext(ctx, "Circuit breaker transition", "key", event.Key, "from", event.From, "to", event.To)
		h.publish(ctx, event.Key, &event)
	})

	return h
}

// Attach binds the handler to the engine it recovers for.
func (h *Handler) Attach(controller ExecutionController) {
	h.ctrlMu.Lock()
	defer h.ctrlMu.Unlock()

	h.controller = controller
}

func (h *Handler) ctrl() ExecutionController {
	h.ctrlMu.RLock()
	defer h.ctrlMu.RUnlock()

	return h.controller
}

func (h *Handler) RegisterStepStrategy(stepID string, strategy models.RecoveryStrategy) {
	h.strategiesMu.Lock()
	defer h.strategiesMu.Unlock()

	h.stepStrategies[stepID] = strategy
}

func (h *Handler) RegisterKindStrategy(kind models.StepKind, strategy models.RecoveryStrategy) {
	h.strategiesMu.Lock()
	defer h.strategiesMu.Unlock()

	h.kindStrategies[kind] = strategy
}

func (h *Handler) SetDefaultStrategy(strategy models.RecoveryStrategy) {
	h.strategiesMu.Lock()
	defer h.strategiesMu.Unlock()

	h.defaultStrategy = strategy
}

// StrategyFor resolves the most specific strategy: step id registration,
// then the step's own recovery block, then kind registration, then default.
func (h *Handler) StrategyFor(stepID string, step *models.Step, kind models.StepKind) models.RecoveryStrategy {
	h.strategiesMu.RLock()
	defer h.strategiesMu.RUnlock()

	if strategy, ok := h.stepStrategies[stepID]; ok {
		return strategy
	}

	if step != nil && step.Recovery != nil {
		return *step.Recovery
	}

	if strategy, ok := h.kindStrategies[kind]; ok {
		return strategy
	}

	return h.defaultStrategy
}

// BreakerKey is the breaker identifier for a step.
func (h *Handler) BreakerKey(stepID string, kind models.StepKind) string {
	if h.cfg.BreakerKeyByStepID {
		return stepID
	}

	return string(kind)
}

// AllowStep is consulted by the engine before invoking a step.
func (h *Handler) AllowStep(ctx context.Context, stepID string, kind models.StepKind) error {
	return h.breakers.Allow(ctx, h.BreakerKey(stepID, kind))
}

// StepSucceeded is reported by the engine after a successful invocation.
func (h *Handler) StepSucceeded(ctx context.Context, stepID string, kind models.StepKind) {
	h.breakers.RecordSuccess(ctx, h.BreakerKey(stepID, kind))
}

// HandleStepError decides what happens after a step failed. It returns true
// when a strategy recovered the step and the engine may continue. When it
// returns false the execution has been paused, unless the breaker was open,
// in which case nothing was attempted and the engine fails the execution.
// An execution paused or cancelled during recovery is left as it is and
// nothing is dead-lettered.
func (h *Handler) HandleStepError(ctx context.Context, executionID, stepID string, stepErr error, kind models.StepKind) (bool, error) {
	controller := h.ctrl()
	if controller == nil {
		return false, ErrNoController
	}

	logger := h.logger.With("execution_id", executionID, "step_id", stepID, "step_kind", kind)

	workflow, step, err := controller.LookupStep(ctx, executionID, stepID)
	if err != nil {
		logger.WarnContext(ctx, "Step definition unavailable, using kind strategy", "error", err)
	}

	strategy := h.StrategyFor(stepID, step, kind)

	werr := &models.WorkflowError{
		ID:               uuid.New().String(),
		ExecutionID:      executionID,
		StepID:           stepID,
		StepKind:         kind,
		Cause:            stepErr.Error(),
		Timestamp:        h.now().UTC(),
		Attempts:         1,
		RecoveryStrategy: strategy.Type,
	}
	if workflow != nil {
		werr.WorkflowID = workflow.ID
	}

	h.storeError(werr)

	key := h.BreakerKey(stepID, kind)

	if h.breakers.IsOpen(key) {
		logger.WarnContext(ctx, "Circuit breaker open, recovery not attempted", "breaker", key)

		return false, nil
	}

	h.breakers.RecordFailure(ctx, key)

	h.setRecovering(werr.ID, true)
	resolved, err := h.apply(ctx, controller, werr.ID, executionID, stepID, strategy, key)
	h.setRecovering(werr.ID, false)

	if errors.Is(err, ErrExecutionNotRunning) {
		logger.InfoContext(ctx, "Recovery abandoned, execution no longer running", "strategy", strategy.Type)
		h.markResolved(werr.ID, ResolutionAbandoned)

		return false, nil
	}

	if err != nil {
		resolved = false

		logger.ErrorContext(ctx, "Recovery attempt failed", "strategy", strategy.Type, "error", err)
		h.updateError(werr.ID, func(e *models.WorkflowError) {
			e.Cause = err.Error()
		})
	}

	if resolved {
		logger.InfoContext(ctx, "Step recovered", "strategy", strategy.Type)
		h.markResolved(werr.ID, string(strategy.Type))

		return true, nil
	}

	entry, _ := h.Error(werr.ID)

	reason := fmt.Sprintf("step %s failed: %s", stepID, entry.Cause)
	if strategy.Type == models.RecoveryEscalate {
		reason = fmt.Sprintf("step %s escalated: %s", stepID, entry.Cause)
	}

	// The execution is paused before its entry becomes visible in the queue.
	if err := controller.PauseExecution(ctx, executionID, reason); err != nil {
		logger.ErrorContext(ctx, "Failed to pause execution", "error", err)

		return false, err
	}

	size := h.dlq.Add(entry)

	logger.WarnContext(ctx, "Step moved to dead-letter queue", "error_id", entry.ID, "queue_size", size)
	h.publish(ctx, executionID, &events.DeadLetterAdded{
		BaseEvent: events.NewBaseEvent(events.DeadLetterAddedEvent, entry.WorkflowID, executionID),
		ErrorID:   entry.ID,
		StepID:    stepID,
		StepKind:  kind,
		Cause:     entry.Cause,
		QueueSize: size,
	})

	return false, nil
}

func (h *Handler) apply(
	ctx context.Context,
	controller ExecutionController,
	errorID, executionID, stepID string,
	strategy models.RecoveryStrategy,
	breakerKey string,
) (bool, error) {
	switch strategy.Type {
	case models.RecoveryRetry:
		return h.retry(ctx, controller, errorID, executionID, stepID, strategy, breakerKey)
	case models.RecoverySkip:
		return true, controller.RecordRecovery(ctx, executionID, stepID, models.SkippedResult, models.RecoverySkip)
	case models.RecoveryAlternative:
		if strategy.AlternativeStep == "" {
			return false, ErrNoAlternative
		}

		out, err := controller.InvokeStep(ctx, executionID, strategy.AlternativeStep)
		if err != nil {
			return false, fmt.Errorf("alternative step %s: %w", strategy.AlternativeStep, err)
		}

		return true, controller.RecordRecovery(ctx, executionID, stepID, out, models.RecoveryAlternative)
	case models.RecoveryRollback:
		if err := controller.RemoveResults(ctx, executionID, strategy.RollbackSteps); err != nil {
			return false, fmt.Errorf("rollback: %w", err)
		}

		return true, controller.RecordRecovery(ctx, executionID, stepID, models.RolledBackResult, models.RecoveryRollback)
	case models.RecoveryEscalate:
		return false, nil
	default:
		return false, fmt.Errorf("unknown recovery strategy %q", strategy.Type)
	}
}

// retry re-invokes the step until it succeeds or MaxAttempts, counting the
// original failure as attempt 1. Every failed attempt counts in the breaker
// and an open breaker stops the loop.
func (h *Handler) retry(
	ctx context.Context,
	controller ExecutionController,
	errorID, executionID, stepID string,
	strategy models.RecoveryStrategy,
	breakerKey string,
) (bool, error) {
	maxAttempts := strategy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultRecoveryStrategy().MaxAttempts
	}

	delays := backoff.FromName(strategy.Backoff, strategy.Delay(), h.cfg.MaxRetryDelay)

	for attempt := 2; attempt <= maxAttempts; attempt++ {
		if err := h.sleep(ctx, delays.Delay(attempt-1)); err != nil {
			return false, err
		}

		if err := h.breakers.Allow(ctx, breakerKey); err != nil {
			return false, err
		}

		out, err := controller.InvokeStep(ctx, executionID, stepID)
		if errors.Is(err, ErrExecutionNotRunning) {
			return false, err
		}

		h.updateError(errorID, func(e *models.WorkflowError) {
			e.Attempts = attempt
		})

		if err == nil {
			return true, controller.RecordRecovery(ctx, executionID, stepID, out, models.RecoveryRetry)
		}

		h.breakers.RecordFailure(ctx, breakerKey)
		h.updateError(errorID, func(e *models.WorkflowError) {
			e.Cause = err.Error()
		})
		h.logger.DebugContext(ctx, "Retry attempt failed",
			"execution_id", executionID, "step_id", stepID, "attempt", attempt, "error", err)
	}

	return false, nil
}

// ResolveError applies an operator decision to an unresolved error: retry
// re-enters the failed step, skip moves past it, cancel ends the execution.
func (h *Handler) ResolveError(ctx context.Context, errorID, resolution string) error {
	controller := h.ctrl()
	if controller == nil {
		return ErrNoController
	}

	werr, ok := h.Error(errorID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrErrorNotFound, errorID)
	}

	if werr.Resolved {
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, errorID)
	}

	if h.isRecovering(errorID) {
		return fmt.Errorf("%w: %s", ErrRecoveryInProgress, errorID)
	}

	var err error

	switch resolution {
	case ResolutionRetry:
		err = controller.ResumeExecution(ctx, werr.ExecutionID, models.ResumeOptions{})
	case ResolutionSkip:
		err = controller.ResumeExecution(ctx, werr.ExecutionID, models.ResumeOptions{SkipCurrent: true})
	case ResolutionCancel:
		err = controller.CancelExecution(ctx, werr.ExecutionID)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidResolution, resolution)
	}

	if err != nil {
		return fmt.Errorf("resolve %s with %s: %w", errorID, resolution, err)
	}

	h.markResolved(errorID, resolution)
	h.dlq.Remove(errorID)

	h.logger.InfoContext(ctx, "Error resolved manually",
		"error_id", errorID, "execution_id", werr.ExecutionID, "resolution", resolution)
	h.publish(ctx, werr.ExecutionID, &events.ErrorResolved{
		BaseEvent:  events.NewBaseEvent(events.ErrorResolvedEvent, werr.WorkflowID, werr.ExecutionID),
		ErrorID:    errorID,
		StepID:     werr.StepID,
		Resolution: resolution,
	})

	return nil
}

// CleanupResolvedErrors deletes resolved errors resolved longer than
// olderThan ago and returns how many were removed.
func (h *Handler) CleanupResolvedErrors(olderThan time.Duration) int {
	cutoff := h.now().Add(-olderThan)

	h.errorsMu.Lock()
	defer h.errorsMu.Unlock()

	removed := 0

	for id, werr := range h.errors {
		if werr.Resolved && werr.ResolvedAt != nil && werr.ResolvedAt.Before(cutoff) {
			delete(h.errors, id)

			removed++
		}
	}

	return removed
}

func (h *Handler) Error(errorID string) (models.WorkflowError, bool) {
	h.errorsMu.RLock()
	defer h.errorsMu.RUnlock()

	werr, ok := h.errors[errorID]
	if !ok {
		return models.WorkflowError{}, false
	}

	return *werr, true
}

// Errors lists the errors recorded for an execution, oldest first.
func (h *Handler) Errors(executionID string) []models.WorkflowError {
	h.errorsMu.RLock()

	out := make([]models.WorkflowError, 0)

	for _, werr := range h.errors {
		if werr.ExecutionID == executionID {
			out = append(out, *werr)
		}
	}

	h.errorsMu.RUnlock()

	slices.SortFunc(out, func(a, b models.WorkflowError) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	return out
}

func (h *Handler) DeadLetters() []models.WorkflowError {
	return h.dlq.All()
}

func (h *Handler) DeadLetterFor(executionID string) []models.WorkflowError {
	return h.dlq.ForExecution(executionID)
}

func (h *Handler) BreakerState(key string) models.CircuitBreakerState {
	return h.breakers.State(key)
}

func (h *Handler) BreakerStates() []models.CircuitBreakerState {
	return h.breakers.States()
}

func (h *Handler) storeError(werr *models.WorkflowError) {
	h.errorsMu.Lock()
	defer h.errorsMu.Unlock()

	h.errors[werr.ID] = werr
}

func (h *Handler) setRecovering(errorID string, recovering bool) {
	h.errorsMu.Lock()
	defer h.errorsMu.Unlock()

	if recovering {
		h.recovering[errorID] = struct{}{}
	} else {
		delete(h.recovering, errorID)
	}
}

func (h *Handler) isRecovering(errorID string) bool {
	h.errorsMu.RLock()
	defer h.errorsMu.RUnlock()

	_, ok := h.recovering[errorID]

	return ok
}

func (h *Handler) updateError(errorID string, update func(*models.WorkflowError)) {
	h.errorsMu.Lock()
	defer h.errorsMu.Unlock()

	if werr, ok := h.errors[errorID]; ok {
		update(werr)
	}
}

func (h *Handler) markResolved(errorID, resolution string) {
	resolvedAt := h.now().UTC()

	h.updateError(errorID, func(e *models.WorkflowError) {
		e.Resolved = true
		e.Resolution = resolution
		e.ResolvedAt = &resolvedAt
	})
}

func (h *Handler) publish(ctx context.Context, key string, event eventbus.Event) {
	if err := h.publisher.Publish(ctx, key, event); err != nil {
		h.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
