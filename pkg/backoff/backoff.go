// Package backoff provides the delay strategies used between retry attempts.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before retry attempt n (1-indexed).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Strategy names accepted by FromName.
const (
	NameConstant          = "constant"
	NameLinear            = "linear"
	NameExponential       = "exponential"
	NameExponentialJitter = "exponential_jitter"
)

// Constant always waits the same interval.
type Constant struct {
	Interval time.Duration
}

func (c Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Linear waits Initial * attempt, capped at Max when Max > 0.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

func (l Linear) Delay(attempt int) time.Duration {
	return capped(l.Initial*time.Duration(max(attempt, 1)), l.Max)
}

// Exponential waits Initial * 2^(attempt-1), capped at Max when Max > 0.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

func (e Exponential) Delay(attempt int) time.Duration {
	return capped(exponential(e.Initial, attempt), e.Max)
}

// ExponentialWithJitter picks a random delay in [0, exponential delay].
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

func (e ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := capped(exponential(e.Initial, attempt), e.Max)

	return time.Duration(rand.Float64() * float64(base)) //nolint:gosec // jitter does not need crypto rand
}

// FromName builds a strategy from its configured name. Unknown or empty
// names fall back to Constant.
func FromName(name string, interval, maxDelay time.Duration) Strategy {
	switch name {
	case NameLinear:
		return Linear{Initial: interval, Max: maxDelay}
	case NameExponential:
		return Exponential{Initial: interval, Max: maxDelay}
	case NameExponentialJitter:
		return ExponentialWithJitter{Initial: interval, Max: maxDelay}
	default:
		return Constant{Interval: interval}
	}
}

func exponential(initial time.Duration, attempt int) time.Duration {
	d := float64(initial) * math.Pow(2, float64(max(attempt, 1)-1))
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(d)
}

func capped(d, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}

	return d
}
