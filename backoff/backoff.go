// Package backoff provides retry delay strategies for failed deliveries.
// Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before redelivering a failed message.
type Strategy interface {
	// Delay returns the wait before retry n. Retry 1 follows the first
	// failed attempt.
	Delay(retry int) time.Duration
}

// Func adapts a function to Strategy.
type Func func(retry int) time.Duration

// Delay calls f.
func (f Func) Delay(retry int) time.Duration { return f(retry) }

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant waits the same interval before every retry.
type Constant time.Duration

// Delay returns the interval.
func (c Constant) Delay(int) time.Duration { return time.Duration(c) }

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay on each retry up to Max:
// min(Initial * 2^(retry-1), Max). With Jitter set, the delay is drawn
// uniformly from [0, that value] so retries of a burst of failures spread
// out.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  bool
}

// NewExponential creates an exponential strategy without jitter.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// NewJittered creates an exponential strategy with full jitter.
func NewJittered(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay, Jitter: true}
}

// Delay implements Strategy.
func (e *Exponential) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := float64(e.Initial) * math.Pow(2, float64(retry-1))
	if e.Max > 0 && d > float64(e.Max) {
		d = float64(e.Max)
	}
	if e.Jitter {
		d *= rand.Float64() //nolint:gosec // jitter does not need crypto rand
	}
	return time.Duration(d)
}

// Default is the strategy used by the worker pool: jittered exponential
// from 2s up to 2m. AI-backed handlers usually fail on upstream rate
// limits, which need more room than a sub-second first retry.
func Default() Strategy {
	return NewJittered(2*time.Second, 2*time.Minute)
}
