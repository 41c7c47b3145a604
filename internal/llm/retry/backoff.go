package retry

import (
	"math/rand/v2"
	"time"
)

// maxShift keeps base<<attempt inside int64.
const maxShift = 62

// Backoff returns min(base×2^attempt + jitter, ceiling) for the 1-based
// attempt that just failed.
func Backoff(attempt int, base, ceiling, jitter time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= maxShift || base > ceiling>>attempt {
		return ceiling
	}
	d := base<<attempt + jitter
	if d > ceiling || d < 0 {
		return ceiling
	}
	return d
}

func uniformJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit))) // #nosec G404 -- non-cryptographic jitter is appropriate here
}
