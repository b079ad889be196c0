package notification

import (
	"math"
	"math/rand/v2"
	"time"
)

const jitterFactor = 0.1

// nextDelay returns the delay before retry number attempt (1-based):
// BackoffBase * 2^(attempt-1) with +/-10% jitter, capped at BackoffMax.
func nextDelay(cfg Config, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	base := cfg.BackoffBase
	if base <= 0 {
		base = time.Minute
	}
	ceiling := cfg.BackoffMax
	if ceiling <= 0 {
		ceiling = time.Hour
	}

	interval := float64(base) * math.Pow(2, float64(attempt-1))
	interval *= 1 + (rand.Float64()*2-1)*jitterFactor
	if interval > float64(ceiling) {
		interval = float64(ceiling)
	}
	return time.Duration(interval)
}
