package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

// loop drives one execution until it completes, fails, pauses or is
// cancelled. Steps run one at a time; parallel branches run inside their
// parallel step.
func (e *Engine) loop(ctx context.Context, r *run) {
	defer e.loops.Done()
	defer func() {
		r.mu.Lock()
		r.active = false
		keep := r.halted
		close(r.done)
		r.mu.Unlock()

		if !keep {
			e.forget(r)
		}
	}()

	r.mu.Lock()
	if r.exec.Status == models.ExecutionPending {
		r.exec.Status = models.ExecutionRunning
		e.appendLog(ctx, r, "info", "", "execution started")
		r.emit(&events.WorkflowStarted{
			BaseEvent: events.NewBaseEvent(events.WorkflowStartedEvent, r.exec.WorkflowID, r.exec.ID),
			Variables: maps.Clone(r.exec.Variables),
		})

		if err := e.persist(ctx, r); err != nil {
			e.halt(ctx, r, "", err)
			e.unlock(ctx, r)

			return
		}
	}
	e.unlock(ctx, r)

	for {
		r.mu.Lock()
		step, proceed := e.next(ctx, r)
		e.unlock(ctx, r)

		if !proceed {
			return
		}

		started := e.now()
		output, err := e.invoke(ctx, r, step)

		if !e.settle(ctx, r, step, output, err, e.now().Sub(started)) {
			return
		}
	}
}

// next picks the step at the queue head, or ends the loop. Called with r.mu
// held.
func (e *Engine) next(ctx context.Context, r *run) (*models.Step, bool) {
	switch r.exec.Status {
	case models.ExecutionRunning:
	case models.ExecutionPaused:
		if err := e.persist(ctx, r); err != nil {
			e.logger.ErrorContext(ctx, "Failed to persist paused execution", "execution_id", r.exec.ID, "error", err)
		}

		e.takeSnapshot(ctx, r)

		return nil, false
	default:
		return nil, false
	}

	if e.stopping.Load() {
		if err := e.persist(ctx, r); err != nil {
			e.logger.ErrorContext(ctx, "Failed to persist interrupted execution", "execution_id", r.exec.ID, "error", err)
		}

		e.logger.InfoContext(ctx, "Execution interrupted by shutdown", "execution_id", r.exec.ID)

		return nil, false
	}

	head := r.head()
	if head == "" {
		e.complete(ctx, r)

		return nil, false
	}

	step, _, err := r.graph.step(head)
	if err != nil {
		e.fail(ctx, r, head, err)

		return nil, false
	}

	if r.steps >= e.cfg.MaxSteps {
		e.fail(ctx, r, head, ErrStepBudgetExceeded)

		return nil, false
	}

	r.steps++
	r.exec.CurrentStepID = head

	return step, true
}

// settle records the outcome of a step and reports whether the loop should
// continue.
func (e *Engine) settle(ctx context.Context, r *run, step *models.Step, output any, stepErr error, elapsed time.Duration) bool {
	r.mu.Lock()

	if r.exec.Status.IsTerminal() {
		e.logger.InfoContext(ctx, "Discarding step result of ended execution",
			"execution_id", r.exec.ID,
			"step_id", step.ID,
			"status", r.exec.Status)
		e.unlock(ctx, r)

		return false
	}

	if stepErr == nil {
		r.exec.SetResult(step.ID, output)
		r.advance(step, output, "")
		e.appendLog(ctx, r, "info", step.ID, "step completed")
		r.emit(&events.StepCompleted{
			BaseEvent:  events.NewBaseEvent(events.StepCompletedEvent, r.exec.WorkflowID, r.exec.ID),
			StepID:     step.ID,
			StepKind:   step.Kind,
			DurationMs: elapsed.Milliseconds(),
		})

		if err := e.persist(ctx, r); err != nil {
			e.halt(ctx, r, step.ID, err)
			e.unlock(ctx, r)

			return false
		}

		e.maybeSnapshot(ctx, r)
		e.unlock(ctx, r)

		return true
	}

	e.appendLog(ctx, r, "error", step.ID, "step failed: "+stepErr.Error())
	r.emit(&events.StepFailed{
		BaseEvent:  events.NewBaseEvent(events.StepFailedEvent, r.exec.WorkflowID, r.exec.ID),
		StepID:     step.ID,
		StepKind:   step.Kind,
		Error:      stepErr.Error(),
		DurationMs: elapsed.Milliseconds(),
	})
	executionID := r.exec.ID
	e.unlock(ctx, r)

	resolved := false

	if e.errors != nil {
		ok, err := e.errors.HandleStepError(ctx, executionID, step.ID, stepErr, step.Kind)
		if err != nil {
			e.logger.WarnContext(ctx, "Error handler failed",
				"execution_id", executionID,
				"step_id", step.ID,
				"error", err)
		}

		resolved = ok
	}

	r.mu.Lock()
	defer e.unlock(ctx, r)

	if r.exec.Status.IsTerminal() {
		return false
	}

	if resolved {
		strategy := r.recoveredBy[step.ID]
		delete(r.recoveredBy, step.ID)

		r.advance(step, r.exec.Results[step.ID], strategy)

		if err := e.persist(ctx, r); err != nil {
			e.halt(ctx, r, step.ID, err)

			return false
		}

		return true
	}

	// The handler paused the execution; the failed step stays at the queue
	// head and is re-entered on resume.
	if r.exec.Status == models.ExecutionPaused {
		return true
	}

	e.fail(ctx, r, step.ID, stepErr)

	return false
}

// invoke runs a step's executor once, guarded by the circuit breaker.
func (e *Engine) invoke(ctx context.Context, r *run, step *models.Step) (any, error) {
	exec := r.graph.executors[step.ID]
	if exec == nil {
		return nil, fmt.Errorf("%w: %s", executor.ErrUnknownKind, step.Kind)
	}

	if e.errors != nil {
		if err := e.errors.AllowStep(ctx, step.ID, step.Kind); err != nil {
			return nil, err
		}
	}

	output, err := e.call(ctx, r, step, exec)
	if err != nil {
		return nil, err
	}

	if e.errors != nil {
		e.errors.StepSucceeded(ctx, step.ID, step.Kind)
	}

	return output, nil
}

type outcome struct {
	output any
	err    error
}

// call runs exec inside a span and enforces the step timeout. An executor
// that ignores its context keeps running after the timeout but its output is
// dropped.
func (e *Engine) call(ctx context.Context, r *run, step *models.Step, exec executor.Executor) (any, error) {
	r.mu.Lock()
	ec := &executor.Context{
		ExecutionID: r.exec.ID,
		WorkflowID:  r.exec.WorkflowID,
		Step:        step,
		Variables:   maps.Clone(r.exec.Variables),
		Results:     maps.Clone(r.exec.Results),
		Runner:      &stepRunner{engine: e, run: r},
		Logger: e.logger.With(
			"execution_id", r.exec.ID,
			"step_id", step.ID,
			"step_kind", step.Kind),
	}
	version := r.exec.WorkflowVersion
	r.mu.Unlock()

	attrs := []attribute.KeyValue{
		attribute.String(otelhelper.WorkflowIDKey, ec.WorkflowID),
		attribute.Int(otelhelper.WorkflowVersionKey, version),
		attribute.String(otelhelper.ExecutionIDKey, ec.ExecutionID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepKindKey, string(step.Kind)),
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "step."+string(step.Kind), attrs...)
	defer span.End()

	timeout := step.Timeout()
	if timeout <= 0 {
		timeout = e.cfg.DefaultStepTimeout
	}

	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("step %s panicked: %v", step.ID, p)}
			}
		}()

		output, err := exec.Execute(ctx, ec)
		done <- outcome{output: output, err: err}
	}()

	var result outcome

	select {
	case result = <-done:
	case <-ctx.Done():
		if timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result = outcome{err: fmt.Errorf("step %s timed out after %s: %w", step.ID, timeout, ctx.Err())}
		} else {
			result = outcome{err: fmt.Errorf("step %s interrupted: %w", step.ID, ctx.Err())}
		}
	}

	if result.err != nil {
		otelhelper.SetError(span, result.err, attrs...)
	}

	return result.output, result.err
}

// stepRunner lets parallel and loop steps run other steps of their own
// execution. Outputs are recorded like those of top-level steps.
type stepRunner struct {
	engine *Engine
	run    *run
}

func (s *stepRunner) RunStep(ctx context.Context, stepID string) (any, error) {
	r := s.run

	step, _, err := r.graph.step(stepID)
	if err != nil {
		return nil, err
	}

	output, err := s.engine.invoke(ctx, r, step)

	r.mu.Lock()
	defer s.engine.unlock(ctx, r)

	if err != nil {
		s.engine.appendLog(ctx, r, "error", stepID, "step failed: "+err.Error())

		return nil, err
	}

	r.exec.SetResult(stepID, output)
	s.engine.appendLog(ctx, r, "info", stepID, "step completed")

	return output, nil
}

func isPermanent(err error) bool {
	return errors.Is(err, persistence.ErrRevisionConflict) ||
		errors.Is(err, persistence.ErrExecutionNotFound) ||
		errors.Is(err, context.Canceled)
}
