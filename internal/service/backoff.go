package service

import (
	"math/rand"
	"time"
)

// backoffDelay computes the delay before retry attempt n (1-based) using
// capped exponential backoff with full jitter, so retry storms against the
// external providers spread out instead of arriving in lockstep.
func backoffDelay(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			d = cap
			break
		}
	}
	if d > cap {
		d = cap
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d))) + 1
}
