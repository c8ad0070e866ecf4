package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// ErrorHandler decides what happens after a step fails and guards step
// invocations with circuit breakers. recovery.Handler implements it.
type ErrorHandler interface {
	// HandleStepError returns true when the failure was recovered and the
	// execution can move on.
	HandleStepError(ctx context.Context, executionID, stepID string, err error, kind models.StepKind) (bool, error)
	AllowStep(ctx context.Context, stepID string, kind models.StepKind) error
	StepSucceeded(ctx context.Context, stepID string, kind models.StepKind)
}

type Engine struct {
	cfg       Config
	store     persistence.Persistence
	registry  *executor.Registry
	errors    ErrorHandler
	publisher eventbus.EventPublisher
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time

	graphsMu sync.RWMutex
	graphs   map[string]*graph

	runsMu sync.Mutex
	runs   map[string]*run

	// lifecycle serializes resume and cancel of one execution.
	lifecycle sync.Map
	loops     sync.WaitGroup
	stopping  atomic.Bool
}

func New(store persistence.Persistence, registry *executor.Registry, opts ...Option) *Engine {
	e := &Engine{
		cfg:       DefaultConfig(),
		store:     store,
		registry:  registry,
		publisher: eventbus.NopPublisher(),
		tracer:    otelhelper.NoopTracer(),
		logger:    slog.Default(),
		now:       time.Now,
		graphs:    map[string]*graph{},
		runs:      map[string]*run{},
	}

	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With("module", "engine")

	return e
}

// CreateWorkflow validates and stores a definition. Nothing is stored when
// validation fails; the error then wraps models.ErrInvalidDefinition.
func (e *Engine) CreateWorkflow(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, models.ValidateWorkflow(nil)
	}

	if workflow.Version == 0 {
		workflow.Version = 1
	}

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = e.now().UTC()
	}

	if err := models.ValidateWorkflow(workflow); err != nil {
		return nil, err
	}

	g, err := e.buildGraph(workflow)
	if err != nil {
		return nil, err
	}

	if err := e.store.WorkflowRepository().Create(ctx, workflow); err != nil {
		return nil, err
	}

	e.cacheGraph(g)

	e.logger.InfoContext(ctx, "Workflow created",
		"workflow_id", workflow.ID,
		"version", workflow.Version,
		"steps", len(workflow.Steps))

	event := &events.WorkflowCreated{
		BaseEvent: events.NewBaseEvent(events.WorkflowCreatedEvent, workflow.ID, ""),
		Name:      workflow.Name,
		Version:   workflow.Version,
		Steps:     len(workflow.Steps),
	}
	e.publish(ctx, workflow.ID, event)

	return workflow, nil
}

func (e *Engine) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	return e.store.WorkflowRepository().GetByID(ctx, id)
}

func (e *Engine) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	return e.store.WorkflowRepository().GetAll(ctx)
}

// ExecuteWorkflow starts the latest version of a definition and returns the
// new execution id. The steps run on their own goroutine.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID string, variables map[string]any) (string, error) {
	if e.stopping.Load() {
		return "", ErrShuttingDown
	}

	g, err := e.latestGraph(ctx, workflowID)
	if err != nil {
		return "", err
	}

	exec := models.NewExecution(uuid.NewString(), g.workflow, variables, e.now().UTC())

	if err := e.store.ExecutionRepository().Create(ctx, exec); err != nil {
		return "", err
	}

	r := newRun(exec, g)
	e.start(ctx, r)

	return exec.ID, nil
}

// GetExecution returns a copy of the freshest known state of an execution.
func (e *Engine) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	if r := e.activeRun(id); r != nil {
		return r.snapshot()
	}

	return e.store.ExecutionRepository().GetByID(ctx, id)
}

func (e *Engine) ListExecutions(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	stored, err := e.store.ExecutionRepository().GetByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	for i, exec := range stored {
		r := e.activeRun(exec.ID)
		if r == nil {
			continue
		}

		if live, err := r.snapshot(); err == nil {
			stored[i] = live
		}
	}

	return stored, nil
}

// Snapshots lists the stored snapshots of an execution, oldest first.
func (e *Engine) Snapshots(ctx context.Context, id string) ([]*models.Snapshot, error) {
	return e.store.SnapshotRepository().List(ctx, id)
}

// PauseExecution stops an execution before its next step. A running loop
// takes the snapshot when it observes the pause; otherwise it is taken here.
func (e *Engine) PauseExecution(ctx context.Context, id, reason string) error {
	if r := e.activeRun(id); r != nil {
		r.mu.Lock()

		switch {
		case r.exec.Status == models.ExecutionPaused:
			r.mu.Unlock()

			return nil
		case !models.CanTransition(r.exec.Status, models.ExecutionPaused):
			status := r.exec.Status
			r.mu.Unlock()

			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, models.ExecutionPaused)
		}

		r.exec.Status = models.ExecutionPaused
		e.appendLog(ctx, r, "info", r.exec.CurrentStepID, "execution paused: "+reason)
		r.emit(e.pausedEvent(r.exec, reason))

		var err error
		if !r.active {
			err = e.persist(ctx, r)
			if err == nil {
				e.takeSnapshot(ctx, r)
			}
		}

		e.unlock(ctx, r)

		return err
	}

	exec, err := e.store.ExecutionRepository().GetByID(ctx, id)
	if err != nil {
		return err
	}

	if exec.Status == models.ExecutionPaused {
		return nil
	}

	if !models.CanTransition(exec.Status, models.ExecutionPaused) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, exec.Status, models.ExecutionPaused)
	}

	g, err := e.graphFor(ctx, exec.WorkflowID, exec.WorkflowVersion)
	if err != nil {
		return err
	}

	r := newRun(exec, g)

	r.mu.Lock()
	r.exec.Status = models.ExecutionPaused
	e.appendLog(ctx, r, "info", r.exec.CurrentStepID, "execution paused: "+reason)
	r.emit(e.pausedEvent(r.exec, reason))

	err = e.persist(ctx, r)
	if err == nil {
		e.takeSnapshot(ctx, r)
	}

	e.unlock(ctx, r)

	return err
}

// ResumeExecution re-enters a paused execution at the step it stopped on.
// Resuming a running execution is a no-op; terminal ones are rejected.
func (e *Engine) ResumeExecution(ctx context.Context, id string, opts ResumeOptions) error {
	unlock := e.lockLifecycle(id)
	defer unlock()

	if r := e.activeRun(id); r != nil {
		r.mu.Lock()
		status, active, done := r.exec.Status, r.active, r.done
		r.mu.Unlock()

		if status == models.ExecutionRunning && active {
			return nil
		}

		if active {
			// paused while a step was in flight; let the loop write its
			// final state before the record is reloaded.
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	exec, err := e.store.ExecutionRepository().GetByID(ctx, id)
	if err != nil {
		return err
	}

	switch {
	case exec.Status.IsTerminal():
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, exec.Status, models.ExecutionRunning)
	case exec.Status != models.ExecutionPaused:
		return e.restart(ctx, exec, "execution restarted")
	}

	state := exec

	snapshot, err := e.store.SnapshotRepository().Latest(ctx, id)

	switch {
	case err == nil && snapshot.Execution != nil:
		state = snapshot.Execution
		state.Revision = exec.Revision
	case err != nil && !persistence.IsSnapshotNotFound(err):
		return err
	}

	g, err := e.graphFor(ctx, state.WorkflowID, state.WorkflowVersion)
	if err != nil {
		return err
	}

	r := newRun(state, g)

	r.mu.Lock()
	r.exec.Status = models.ExecutionRunning
	r.exec.EndTime = nil

	head := r.head()

	if opts.SkipCurrent && head != "" {
		step, _, err := g.step(head)
		if err != nil {
			r.mu.Unlock()

			return err
		}

		r.exec.SetResult(head, models.SkippedResult)
		r.advance(step, models.SkippedResult, models.RecoverySkip)
		e.appendLog(ctx, r, "warn", head, "step skipped on resume")
	}

	e.appendLog(ctx, r, "info", head, "execution resumed")
	r.emit(&events.WorkflowResumed{
		BaseEvent:   events.NewBaseEvent(events.WorkflowResumedEvent, r.exec.WorkflowID, r.exec.ID),
		StepID:      head,
		SkipCurrent: opts.SkipCurrent,
	})

	if err := e.persist(ctx, r); err != nil {
		e.unlock(ctx, r)

		return err
	}

	e.unlock(ctx, r)
	e.start(ctx, r)

	return nil
}

// CancelExecution ends an execution. A step in flight finishes but its
// output is discarded.
func (e *Engine) CancelExecution(ctx context.Context, id string) error {
	unlock := e.lockLifecycle(id)
	defer unlock()

	r := e.activeRun(id)
	if r == nil {
		exec, err := e.store.ExecutionRepository().GetByID(ctx, id)
		if err != nil {
			return err
		}

		g, err := e.graphFor(ctx, exec.WorkflowID, exec.WorkflowVersion)
		if err != nil {
			return err
		}

		r = newRun(exec, g)
	}

	r.mu.Lock()

	if !models.CanTransition(r.exec.Status, models.ExecutionCancelled) {
		status := r.exec.Status
		r.mu.Unlock()

		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, models.ExecutionCancelled)
	}

	r.exec.Status = models.ExecutionCancelled
	e.appendLog(ctx, r, "info", r.exec.CurrentStepID, "execution cancelled")

	err := e.finish(ctx, r)

	r.emit(&events.WorkflowCancelled{
		BaseEvent: events.NewBaseEvent(events.WorkflowCancelledEvent, r.exec.WorkflowID, r.exec.ID),
		StepID:    r.exec.CurrentStepID,
	})

	active := r.active
	e.unlock(ctx, r)

	if !active {
		e.forget(r)
	}

	return err
}

// RecoverInterrupted restarts executions that were persisted as pending or
// running but have no loop in this process, which happens after a crash.
func (e *Engine) RecoverInterrupted(ctx context.Context) (int, error) {
	recovered := 0

	for _, status := range []models.ExecutionStatus{models.ExecutionRunning, models.ExecutionPending} {
		execs, err := e.store.ExecutionRepository().GetByStatus(ctx, status)
		if err != nil {
			return recovered, err
		}

		for _, exec := range execs {
			if e.activeRun(exec.ID) != nil {
				continue
			}

			if err := e.restart(ctx, exec, "execution recovered after restart"); err != nil {
				e.logger.ErrorContext(ctx, "Failed to recover execution",
					"execution_id", exec.ID,
					"error", err)

				continue
			}

			recovered++
		}
	}

	if recovered > 0 {
		e.logger.InfoContext(ctx, "Recovered interrupted executions", "count", recovered)
	}

	return recovered, nil
}

// Wait blocks until the execution has no step loop running and returns its
// state.
func (e *Engine) Wait(ctx context.Context, id string) (*models.Execution, error) {
	for {
		r := e.activeRun(id)
		if r == nil {
			return e.GetExecution(ctx, id)
		}

		r.mu.Lock()
		active, done := r.active, r.done
		r.mu.Unlock()

		if !active {
			return r.snapshot()
		}

		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Shutdown stops loops before their next step and waits for them. Stopped
// executions stay running in the store and are picked up by
// RecoverInterrupted.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stopping.Store(true)

	done := make(chan struct{})

	go func() {
		e.loops.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) restart(ctx context.Context, exec *models.Execution, message string) error {
	if e.stopping.Load() {
		return ErrShuttingDown
	}

	g, err := e.graphFor(ctx, exec.WorkflowID, exec.WorkflowVersion)
	if err != nil {
		return err
	}

	r := newRun(exec, g)

	r.mu.Lock()
	e.appendLog(ctx, r, "info", r.exec.CurrentStepID, message)
	r.mu.Unlock()

	e.start(ctx, r)

	return nil
}

// start registers r and runs its step loop on a new goroutine detached from
// the caller's cancellation.
func (e *Engine) start(ctx context.Context, r *run) {
	r.mu.Lock()
	r.active = true
	r.done = make(chan struct{})
	r.mu.Unlock()

	e.runsMu.Lock()
	e.runs[r.exec.ID] = r
	e.runsMu.Unlock()

	e.loops.Add(1)

	go e.loop(context.WithoutCancel(ctx), r)
}

func (e *Engine) activeRun(id string) *run {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()

	return e.runs[id]
}

// forget drops r from the execution map unless it was replaced.
func (e *Engine) forget(r *run) {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()

	if e.runs[r.exec.ID] == r {
		delete(e.runs, r.exec.ID)
	}
}

func (e *Engine) lockLifecycle(id string) func() {
	value, _ := e.lifecycle.LoadOrStore(id, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()

	return mu.Unlock
}

func (e *Engine) pausedEvent(exec *models.Execution, reason string) *events.WorkflowPaused {
	return &events.WorkflowPaused{
		BaseEvent: events.NewBaseEvent(events.WorkflowPausedEvent, exec.WorkflowID, exec.ID),
		StepID:    exec.CurrentStepID,
		Reason:    reason,
	}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(),
			"error", err)
	}
}
