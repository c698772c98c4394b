// ABOUTME: Tests for the reconnect backoff curve.
// ABOUTME: Verifies jitter bounds and growth toward the cap.

package connection

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_DelayWithinJitterBounds(t *testing.T) {
	b := DefaultBackoff()

	for attempt := 1; attempt <= 12; attempt++ {
		ideal := float64(b.Base) * math.Pow(b.Factor, float64(attempt-1))
		if capped := float64(b.Cap); ideal > capped {
			ideal = capped
		}
		low := time.Duration(ideal * (1 - b.Jitter))
		high := time.Duration(ideal * (1 + b.Jitter))

		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			assert.GreaterOrEqual(t, d, low, "attempt %d", attempt)
			assert.LessOrEqual(t, d, high, "attempt %d", attempt)
		}
	}
}

func TestBackoff_GrowsToCap(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Factor: 1.8, Cap: 30 * time.Second}

	// Without jitter the curve is deterministic and non-decreasing.
	var prev time.Duration
	for attempt := 1; attempt <= 10; attempt++ {
		d := b.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, b.Cap)
		prev = d
	}
	assert.Equal(t, b.Cap, b.Delay(10))
}

func TestConfig_PartialBackoffFillsRemainingFields(t *testing.T) {
	// A config that sets only the base must not zero out the rest of
	// the curve: factor/cap/jitter fall back to the defaults so
	// reconnect delays never collapse to an immediate retry loop.
	cfg := Config{Backoff: Backoff{Base: 5 * time.Second}}.withDefaults()
	def := DefaultBackoff()

	assert.Equal(t, 5*time.Second, cfg.Backoff.Base)
	assert.Equal(t, def.Factor, cfg.Backoff.Factor)
	assert.Equal(t, def.Cap, cfg.Backoff.Cap)
	assert.Equal(t, def.Jitter, cfg.Backoff.Jitter)

	for attempt := 1; attempt <= 3; attempt++ {
		assert.Greater(t, cfg.Backoff.Delay(attempt), time.Duration(0), "attempt %d", attempt)
	}
	assert.Greater(t, cfg.Backoff.Delay(2), cfg.Backoff.Delay(1)/2, "delays must grow, not collapse")
}

func TestConfig_ZeroBackoffTakesFullDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultBackoff(), cfg.Backoff)
}

func TestBackoff_AttemptFloor(t *testing.T) {
	b := Backoff{Base: time.Second, Factor: 2, Cap: time.Minute}
	assert.Equal(t, b.Delay(1), b.Delay(0))
	assert.Equal(t, b.Delay(1), b.Delay(-3))
}
