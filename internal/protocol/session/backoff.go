package session

import (
	"math/rand"
	"time"
)

// ReconnectDelay is how long the site service waits before dial attempt n
// (1-based). The first retry waits InitialDelay; each later one grows by
// Multiplier up to MaxDelay. Jitter spreads the delay over [d/2, d) so a
// fleet of forecourt clients does not reconnect in step after an outage.
// A zero config falls back to the default schedule.
func (b BackoffConfig) ReconnectDelay(attempt int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		b = DefaultConfig().Backoff
	}
	grow := b.Multiplier
	if grow < 1 {
		grow = 1
	}
	delay := b.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * grow)
		if b.MaxDelay > 0 && delay >= b.MaxDelay {
			delay = b.MaxDelay
			break
		}
	}
	if !b.Jitter || delay <= 1 {
		return delay
	}
	half := delay / 2
	if rng == nil {
		return half
	}
	return half + time.Duration(rng.Int63n(int64(delay-half)))
}
