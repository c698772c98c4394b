// ABOUTME: Exponential backoff with jitter for reconnect scheduling.
// ABOUTME: Delay grows by a fixed factor per attempt up to a cap, then jitters uniformly.

package connection

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: min(base * factor^(attempt-1), cap)
// scaled by a uniform jitter in [1-Jitter, 1+Jitter].
type Backoff struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
	Jitter float64
}

// DefaultBackoff returns the standard reconnect curve: 2s doubling by
// 1.8x per attempt, capped at 30s, with ±25% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   2 * time.Second,
		Factor: 1.8,
		Cap:    30 * time.Second,
		Jitter: 0.25,
	}
}

// Delay returns the wait before the given attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base) * math.Pow(b.Factor, float64(attempt-1))
	if capped := float64(b.Cap); d > capped {
		d = capped
	}
	scale := 1 + b.Jitter*(2*rand.Float64()-1)
	return time.Duration(d * scale)
}
