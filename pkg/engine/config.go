// Package engine runs workflow executions: it walks the step graph, invokes
// executors, persists progress after every step and drives the
// pause/resume/cancel lifecycle.
package engine

import (
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/recovery"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrInvalidTransition   = errors.New("invalid execution status transition")
	ErrExecutionNotRunning = recovery.ErrExecutionNotRunning
	ErrUnknownStep         = errors.New("unknown step")
	ErrStepBudgetExceeded  = errors.New("execution exceeded its step budget")
	ErrShuttingDown        = errors.New("engine is shutting down")
)

// ResumeOptions tunes how a paused execution re-enters its step loop.
type ResumeOptions = models.ResumeOptions

const (
	DefaultLogBatchSize      = 10
	DefaultPersistAttempts   = 3
	DefaultPersistRetryDelay = 50 * time.Millisecond
	DefaultMaxSteps          = 10000
)

type Config struct {
	// LogBatchSize unflushed log entries force a write between steps.
	LogBatchSize int
	// PersistAttempts bounds writes of one execution record before the
	// execution is halted.
	PersistAttempts   int
	PersistRetryDelay time.Duration
	// SnapshotInterval takes a snapshot while running when positive.
	SnapshotInterval time.Duration
	// DefaultStepTimeout applies to steps without config.timeout.
	DefaultStepTimeout time.Duration
	// MaxSteps stops executions whose graph loops forever.
	MaxSteps int
}

func DefaultConfig() Config {
	return Config{
		LogBatchSize:      DefaultLogBatchSize,
		PersistAttempts:   DefaultPersistAttempts,
		PersistRetryDelay: DefaultPersistRetryDelay,
		MaxSteps:          DefaultMaxSteps,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.LogBatchSize <= 0 {
		c.LogBatchSize = d.LogBatchSize
	}

	if c.PersistAttempts <= 0 {
		c.PersistAttempts = d.PersistAttempts
	}

	if c.PersistRetryDelay < 0 {
		c.PersistRetryDelay = 0
	}

	if c.MaxSteps <= 0 {
		c.MaxSteps = d.MaxSteps
	}

	return c
}

type Option func(*Engine)

func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg.withDefaults()
	}
}

// WithErrorHandler routes step failures to handler. Without one every step
// failure fails the execution.
func WithErrorHandler(handler ErrorHandler) Option {
	return func(e *Engine) {
		e.errors = handler
	}
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}
