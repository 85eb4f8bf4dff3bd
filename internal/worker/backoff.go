package worker

import (
	"math"
	"math/rand"
	"time"
)

// ExponentialBackoff is the pause before retrying after the given number of
// consecutive failed rounds.
func ExponentialBackoff(attempt int, base, capDelay time.Duration) time.Duration {
	// attempt=0 => base
	// attempt=1 => 2*base
	// attempt=2 => 4*base
	multiple := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(base) * multiple)

	if delay > capDelay || delay <= 0 {
		delay = capDelay
	}

	// small jitter (0-250ms) so several sweepers do not hit the db together
	delay += time.Duration(rand.Intn(250)) * time.Millisecond
	return delay
}
