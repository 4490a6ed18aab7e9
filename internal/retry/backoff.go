// Package retry schedules later acquisition attempts for DOIs whose sources
// all failed transiently, and sweeps the queue when entries become due.
package retry

import (
	"math/rand/v2"
	"time"
)

// maxShift keeps Base << n from overflowing time.Duration.
const maxShift = 32

// Backoff computes exponential retry delays with bounded jitter.
//
// Delay(n) = min(Base*2^n + j, Max) with j drawn from [0, Jitter*Base*2^n).
// Because Jitter < 1, Delay(n+1) is never below Delay(n) until the cap.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64

	rand func() float64
}

// NewBackoff creates a backoff. Jitter outside [0, 1) is clamped.
func NewBackoff(base, max time.Duration, jitter float64) *Backoff {
	if jitter < 0 {
		jitter = 0
	}
	if jitter >= 1 {
		jitter = 0.99
	}
	if max < base {
		max = base
	}
	return &Backoff{Base: base, Max: max, Jitter: jitter, rand: rand.Float64}
}

// Delay returns the wait before retry number retryCount (zero-based).
func (b *Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= maxShift {
		return b.Max
	}

	d := b.Base << uint(retryCount)
	if d <= 0 || d >= b.Max {
		return b.Max
	}

	if b.Jitter > 0 {
		r := rand.Float64
		if b.rand != nil {
			r = b.rand
		}
		d += time.Duration(r() * b.Jitter * float64(d))
	}

	if d > b.Max {
		return b.Max
	}
	return d
}

// Next returns the instant retry number retryCount becomes due.
func (b *Backoff) Next(now time.Time, retryCount int) time.Time {
	return now.Add(b.Delay(retryCount))
}
