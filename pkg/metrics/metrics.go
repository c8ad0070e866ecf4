// Package metrics turns lifecycle events into Prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stepflow"

// Status label values.
const (
	statusSuccess = "success"
	statusError   = "error"
)

// ObservedEvents are the event types the collector subscribes to.
var ObservedEvents = []events.EventType{
	events.WorkflowCreatedEvent,
	events.WorkflowStartedEvent,
	events.WorkflowCompletedEvent,
	events.WorkflowFailedEvent,
	events.WorkflowPausedEvent,
	events.WorkflowResumedEvent,
	events.WorkflowCancelledEvent,
	events.StepCompletedEvent,
	events.StepFailedEvent,
	events.CircuitBreakerOpenedEvent,
	events.CircuitBreakerHalfOpenEvent,
	events.CircuitBreakerReopenedEvent,
	events.CircuitBreakerResetEvent,
	events.DeadLetterAddedEvent,
	events.ErrorResolvedEvent,
}

// Collector owns its registry; nothing is registered globally.
type Collector struct {
	registry *prometheus.Registry

	workflowsCreated   prometheus.Counter
	executions         *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	steps              *prometheus.CounterVec
	stepDuration       *prometheus.HistogramVec
	deadLetters        prometheus.Counter
	deadLetterQueue    prometheus.Gauge
	breakerTransitions *prometheus.CounterVec
	resolutions        *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		workflowsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_created_total",
			Help:      "Total number of workflow definitions created",
		}),
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Execution lifecycle transitions by resulting status",
			},
			[]string{"status"}, // started, completed, failed, paused, resumed, cancelled
		),
		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Duration of finished executions in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"status"},
		),
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Total number of step invocations",
			},
			[]string{"kind", "status"}, // status: success, error
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of step invocations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		deadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_total",
			Help:      "Total number of failures moved to the dead-letter queue",
		}),
		deadLetterQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dead_letter_queue_size",
			Help:      "Dead-letter queue size after the last addition",
		}),
		breakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Circuit breaker transitions by breaker key and target state",
			},
			[]string{"key", "state"},
		),
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "error_resolutions_total",
				Help:      "Manual error resolutions by decision",
			},
			[]string{"resolution"},
		),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.workflowsCreated,
		c.executions,
		c.executionDuration,
		c.steps,
		c.stepDuration,
		c.deadLetters,
		c.deadLetterQueue,
		c.breakerTransitions,
		c.resolutions,
	)

	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Subscribe registers the collector for every observed event type.
func (c *Collector) Subscribe(subscriber eventbus.EventSubscriber) error {
	for _, eventType := range ObservedEvents {
		if err := subscriber.Handle(eventType, c.handle); err != nil {
			return err
		}
	}

	return nil
}

func (c *Collector) handle(_ context.Context, event any) error {
	c.Observe(event)

	return nil
}

// Observe records one event. Unknown events are ignored.
func (c *Collector) Observe(event any) {
	switch e := event.(type) {
	case *events.WorkflowCreated:
		c.workflowsCreated.Inc()
	case *events.WorkflowStarted:
		c.executions.WithLabelValues("started").Inc()
	case *events.WorkflowCompleted:
		c.executions.WithLabelValues("completed").Inc()
		c.executionDuration.WithLabelValues("completed").Observe(seconds(e.DurationMs))
	case *events.WorkflowFailed:
		c.executions.WithLabelValues("failed").Inc()
		c.executionDuration.WithLabelValues("failed").Observe(seconds(e.DurationMs))
	case *events.WorkflowPaused:
		c.executions.WithLabelValues("paused").Inc()
	case *events.WorkflowResumed:
		c.executions.WithLabelValues("resumed").Inc()
	case *events.WorkflowCancelled:
		c.executions.WithLabelValues("cancelled").Inc()
	case *events.StepCompleted:
		c.steps.WithLabelValues(string(e.StepKind), statusSuccess).Inc()
		c.stepDuration.WithLabelValues(string(e.StepKind)).Observe(seconds(e.DurationMs))
	case *events.StepFailed:
		c.steps.WithLabelValues(string(e.StepKind), statusError).Inc()
		c.stepDuration.WithLabelValues(string(e.StepKind)).Observe(seconds(e.DurationMs))
	case *events.CircuitBreakerTransition:
		c.breakerTransitions.WithLabelValues(e.Key, string(e.To)).Inc()
	case *events.DeadLetterAdded:
		c.deadLetters.Inc()
		c.deadLetterQueue.Set(float64(e.QueueSize))
	case *events.ErrorResolved:
		c.resolutions.WithLabelValues(e.Resolution).Inc()
	}
}

// Publisher observes events synchronously before handing them to next, for
// processes that don't subscribe to the bus.
func (c *Collector) Publisher(next eventbus.EventPublisher) eventbus.EventPublisher {
	return &observingPublisher{collector: c, next: next}
}

type observingPublisher struct {
	collector *Collector
	next      eventbus.EventPublisher
}

func (p *observingPublisher) Publish(ctx context.Context, key string, event eventbus.Event) error {
	p.collector.Observe(event)

	return p.next.Publish(ctx, key, event)
}

func seconds(ms int64) float64 {
	return float64(ms) / 1000
}
