package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayWithinBounds(t *testing.T) {
	base := 100 * time.Millisecond
	cap := 5 * time.Second

	for attempt := 1; attempt <= 10; attempt++ {
		for i := 0; i < 50; i++ {
			d := backoffDelay(attempt, base, cap)
			assert.Greater(t, d, time.Duration(0), "attempt %d", attempt)
			assert.LessOrEqual(t, d, cap, "attempt %d", attempt)
		}
	}
}

func TestBackoffDelayCeilingGrows(t *testing.T) {
	base := 100 * time.Millisecond
	cap := time.Minute

	// with full jitter only the ceiling grows; sample maxima to observe it
	maxFor := func(attempt int) time.Duration {
		var max time.Duration
		for i := 0; i < 200; i++ {
			if d := backoffDelay(attempt, base, cap); d > max {
				max = d
			}
		}
		return max
	}

	assert.LessOrEqual(t, maxFor(1), base)
	assert.Greater(t, maxFor(5), base)
}

func TestBackoffDelayZeroBase(t *testing.T) {
	assert.Equal(t, time.Duration(0), backoffDelay(3, 0, time.Second))
}
