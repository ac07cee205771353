package syncer

import (
	"math/rand/v2"
	"time"
)

// Backoff computes the delay before the next replay of a failed operation:
// Base * 2^(retries-1), capped at Max, plus up to Jitter*delay of random
// spread so a fleet of kiosks does not retry in lockstep.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// maxBackoff bounds an uncapped Backoff.
const maxBackoff = 24 * time.Hour

// DefaultBackoff is 5s, 10s, 20s ... capped at 15 minutes with 20% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   5 * time.Second,
		Max:    15 * time.Minute,
		Jitter: 0.2,
	}
}

// Delay returns the wait after the given number of failed attempts.
func (b Backoff) Delay(retries int) time.Duration {
	if retries < 1 {
		return 0
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}

	shift := retries - 1
	if shift > 30 {
		shift = 30
	}
	delay := base << uint(shift)
	if delay <= 0 {
		// overflow
		delay = maxBackoff
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}

	if b.Jitter > 0 {
		delay += time.Duration(rand.Float64() * b.Jitter * float64(delay))
	}
	return delay
}
