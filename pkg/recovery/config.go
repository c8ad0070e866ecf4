// Package recovery handles step failures: it picks a recovery strategy,
// applies it through the engine, keeps a circuit breaker per step kind or step
// id and parks unrecoverable failures in a bounded dead-letter queue.
package recovery

import (
	"time"

	"github.com/dukex/stepflow/pkg/models"
)

const (
	DefaultBreakerThreshold   = 5
	DefaultHalfOpenThreshold  = 3
	DefaultBreakerTimeout     = 30 * time.Second
	DefaultDeadLetterCapacity = 1000
	DefaultMaxRetryDelay      = time.Minute
)

type Config struct {
	// DefaultStrategy applies when neither the step nor its kind has one.
	DefaultStrategy models.RecoveryStrategy
	// BreakerThreshold failures open a closed breaker.
	BreakerThreshold int
	// HalfOpenThreshold failures re-open a half-open breaker.
	HalfOpenThreshold int
	BreakerTimeout    time.Duration
	// DeadLetterCapacity bounds the queue; the oldest entry is evicted.
	DeadLetterCapacity int
	// BreakerKeyByStepID keys breakers by step id instead of step kind.
	BreakerKeyByStepID bool
	// MaxRetryDelay caps growing backoffs.
	MaxRetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultStrategy:    models.DefaultRecoveryStrategy(),
		BreakerThreshold:   DefaultBreakerThreshold,
		HalfOpenThreshold:  DefaultHalfOpenThreshold,
		BreakerTimeout:     DefaultBreakerTimeout,
		DeadLetterCapacity: DefaultDeadLetterCapacity,
		MaxRetryDelay:      DefaultMaxRetryDelay,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.DefaultStrategy.Type == "" {
		c.DefaultStrategy = d.DefaultStrategy
	}

	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = d.BreakerThreshold
	}

	if c.HalfOpenThreshold <= 0 {
		c.HalfOpenThreshold = d.HalfOpenThreshold
	}

	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = d.BreakerTimeout
	}

	if c.DeadLetterCapacity <= 0 {
		c.DeadLetterCapacity = d.DeadLetterCapacity
	}

	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = d.MaxRetryDelay
	}

	return c
}
