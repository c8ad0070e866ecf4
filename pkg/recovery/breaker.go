package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
)

// breaker is one circuit. Its mutex serializes callers on the same key only.
type breaker struct {
	mu    sync.Mutex
	state models.CircuitBreakerState
}

// BreakerRegistry holds one breaker per identifier.
type BreakerRegistry struct {
	threshold         int
	halfOpenThreshold int
	timeout           time.Duration
	now               func() time.Time
	notify            func(ctx context.Context, event events.CircuitBreakerTransition)

	mu       sync.RWMutex
	breakers map[string]*breaker
}

func NewBreakerRegistry(cfg Config, now func() time.Time, notify func(context.Context, events.CircuitBreakerTransition)) *BreakerRegistry {
	if now == nil {
		now = time.Now
	}

	if notify == nil {
		notify = func(context.Context, events.CircuitBreakerTransition) {}
	}

	return &BreakerRegistry{
		threshold:         cfg.BreakerThreshold,
		halfOpenThreshold: cfg.HalfOpenThreshold,
		timeout:           cfg.BreakerTimeout,
		now:               now,
		notify:            notify,
		breakers:          make(map[string]*breaker),
	}
}

func (r *BreakerRegistry) get(key string) *breaker {
	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()

	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok = r.breakers[key]; ok {
		return b
	}

	b = &breaker{state: models.CircuitBreakerState{Key: key, State: models.CircuitClosed}}
	r.breakers[key] = b

	return b
}

// Allow reports whether a call may go through. An open breaker whose timeout
// has elapsed moves to half-open with its counter reset and lets the call in.
func (r *BreakerRegistry) Allow(ctx context.Context, key string) error {
	b := r.get(key)

	b.mu.Lock()

	if b.state.State != models.CircuitOpen {
		b.mu.Unlock()

		return nil
	}

	if r.now().Before(b.state.NextAttempt) {
		next := b.state.NextAttempt
		b.mu.Unlock()

		return &CircuitOpenError{Key: key, NextAttempt: next}
	}

	b.state.Failures = 0
	b.state.NextAttempt = time.Time{}
	event := r.transition(b, models.CircuitHalfOpen, events.CircuitBreakerHalfOpenEvent)
	b.mu.Unlock()

	r.notify(ctx, event)

	return nil
}

// IsOpen reports whether the breaker currently rejects calls. It never moves
// the breaker to half-open.
func (r *BreakerRegistry) IsOpen(key string) bool {
	b := r.get(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state.State == models.CircuitOpen && r.now().Before(b.state.NextAttempt)
}

// RecordFailure counts a failure and opens the breaker at the threshold that
// applies to its current state.
func (r *BreakerRegistry) RecordFailure(ctx context.Context, key string) {
	b := r.get(key)

	b.mu.Lock()

	var (
		event  events.CircuitBreakerTransition
		notify bool
	)

	b.state.Failures++

	switch b.state.State {
	case models.CircuitClosed:
		if b.state.Failures >= r.threshold {
			b.state.NextAttempt = r.now().Add(r.timeout)
			event = r.transition(b, models.CircuitOpen, events.CircuitBreakerOpenedEvent)
			notify = true
		}
	case models.CircuitHalfOpen:
		if b.state.Failures >= r.halfOpenThreshold {
			b.state.NextAttempt = r.now().Add(r.timeout)
			event = r.transition(b, models.CircuitOpen, events.CircuitBreakerReopenedEvent)
			notify = true
		}
	case models.CircuitOpen:
	}

	b.mu.Unlock()

	if notify {
		r.notify(ctx, event)
	}
}

// RecordSuccess closes the breaker and clears its counter.
func (r *BreakerRegistry) RecordSuccess(ctx context.Context, key string) {
	b := r.get(key)

	b.mu.Lock()

	b.state.Failures = 0

	if b.state.State == models.CircuitClosed {
		b.mu.Unlock()

		return
	}

	b.state.NextAttempt = time.Time{}
	event := r.transition(b, models.CircuitClosed, events.CircuitBreakerResetEvent)
	b.mu.Unlock()

	r.notify(ctx, event)
}

func (r *BreakerRegistry) State(key string) models.CircuitBreakerState {
	b := r.get(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// States returns a copy of every known breaker.
func (r *BreakerRegistry) States() []models.CircuitBreakerState {
	r.mu.RLock()

	all := make([]*breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		all = append(all, b)
	}

	r.mu.RUnlock()

	states := make([]models.CircuitBreakerState, 0, len(all))

	for _, b := range all {
		b.mu.Lock()
		states = append(states, b.state)
		b.mu.Unlock()
	}

	return states
}

// transition must be called with b.mu held.
func (r *BreakerRegistry) transition(b *breaker, to models.CircuitState, eventType events.EventType) events.CircuitBreakerTransition {
	from := b.state.State
	b.state.State = to

	return events.CircuitBreakerTransition{
		BaseEvent:   events.NewBaseEvent(eventType, "", ""),
		Key:         b.state.Key,
		From:        from,
		To:          to,
		Failures:    b.state.Failures,
		NextAttempt: b.state.NextAttempt,
	}
}
