package session

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig is the reconnect policy applied after an abnormal closure.
// The default is a fixed delay: Multiplier 1 and MaxDelay equal to
// InitialDelay. A larger multiplier grows the delay per consecutive attempt
// up to MaxDelay; the attempt counter resets once the socket opens again.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	// Jitter scales each delay by a random factor in [0.5, 1.5).
	Jitter bool
}

// Delay returns the wait before reconnect attempt n (1-based).
func (c BackoffConfig) Delay(n int) time.Duration {
	return c.delay(n, rand.Float64)
}

func (c BackoffConfig) delay(n int, random func() float64) time.Duration {
	if c.InitialDelay <= 0 {
		return 0
	}
	d := float64(c.InitialDelay)
	if n > 1 && c.Multiplier > 1 {
		d *= math.Pow(c.Multiplier, float64(n-1))
	}
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.Jitter && random != nil {
		d *= 0.5 + random()
	}
	return time.Duration(d)
}
