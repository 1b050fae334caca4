// Package backoff computes when a job that failed recoverably becomes
// eligible again. All strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"time"
)

// Strategy computes the delay before the next attempt.
type Strategy interface {
	// Delay returns how long to wait after the attempt-th failed attempt
	// (1-indexed: attempts is the job's count after the failure).
	Delay(attempts int) time.Duration
}

// MaxDelay is the ceiling applied by the default strategy.
const MaxDelay = 7 * 24 * time.Hour

// NextRetry returns now plus s's delay for attempts.
func NextRetry(s Strategy, now time.Time, attempts int) time.Time {
	return now.Add(s.Delay(attempts))
}

// ──────────────────────────────────────────────────
// Polynomial
// ──────────────────────────────────────────────────

// Polynomial grows the delay as a power of the attempt count.
// Delay = min(Base + attempts^Power * Unit, Max).
type Polynomial struct {
	Base  time.Duration
	Unit  time.Duration
	Power float64
	Max   time.Duration
}

// NewQuartic returns the default strategy: 5s + attempts⁴ seconds, capped
// at seven days. Attempt 1 waits 6s, attempt 5 about 10.5m, attempt 9
// about 1.8h.
func NewQuartic() *Polynomial {
	return &Polynomial{
		Base:  5 * time.Second,
		Unit:  time.Second,
		Power: 4,
		Max:   MaxDelay,
	}
}

// Delay returns Base + attempts^Power * Unit, capped at Max. The growth
// term is computed in float64 so huge attempt counts saturate at Max
// instead of overflowing time.Duration.
func (p *Polynomial) Delay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	grow := math.Pow(float64(attempts), p.Power) * float64(p.Unit)
	total := float64(p.Base) + grow
	if p.Max > 0 && total >= float64(p.Max) {
		return p.Max
	}
	if total >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(total)
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempts-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempts-1), capped at Max.
func (e *Exponential) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := float64(e.Initial) * math.Pow(2, float64(attempts-1))
	if e.Max > 0 && d > float64(e.Max) {
		return e.Max
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the strategy used by the engine unless
// overridden: NewQuartic.
func DefaultStrategy() Strategy {
	return NewQuartic()
}
