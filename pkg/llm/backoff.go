package llm

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the exponential-with-jitter retry delay used by both the
// LLM client and the episode queue's retry loop: delay = min(base*2^k, cap),
// with +/-10% jitter to avoid synchronized retries across episodes.
func Backoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	raw := float64(base) * math.Pow(2, float64(attempt-1))
	if raw > float64(cap) {
		raw = float64(cap)
	}
	jitter := 1 + (rand.Float64()*0.2 - 0.1) // +/-10%
	return time.Duration(raw * jitter)
}
