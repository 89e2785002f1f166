package engine

import (
	"math/rand/v2"
	"time"
)

// maxBackoffShift bounds the exponent so base<<shift cannot overflow.
const maxBackoffShift = 20

// backoffDelay returns the sleep before retry number attempt (1-based), or 0
// when backoff is disabled.
//
// The delay is drawn uniformly from [0, min(max, base*2^(attempt-1))]
// ("full jitter").
func backoffDelay(base, limit time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt < 1 {
		return 0
	}
	shift := min(attempt-1, maxBackoffShift)
	ceiling := base << shift
	if ceiling <= 0 || ceiling > limit {
		ceiling = limit
	}
	return rand.N(ceiling + 1)
}
