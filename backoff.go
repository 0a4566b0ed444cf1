// backoff.go: Backoff schedules for restarts and sink retries
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"math/rand"
	"time"
)

// calculateBackoff returns the delay before retry number attempt
// (0-based): initial * multiplier^attempt, capped at maxDuration.
func calculateBackoff(attempt int, initial, maxDuration time.Duration, multiplier float64) time.Duration {
	backoff := float64(initial)
	for i := 0; i < attempt; i++ {
		backoff *= multiplier
		if backoff >= float64(maxDuration) {
			return maxDuration
		}
	}
	if backoff > float64(maxDuration) {
		return maxDuration
	}
	return time.Duration(backoff)
}

// fullJitterBackoff returns a delay drawn uniformly from
// [0, min(max, initial*2^attempt)]. Full jitter spreads simultaneous
// restarts so a burst of crashing plugins does not come back in lockstep.
func fullJitterBackoff(rng *rand.Rand, attempt int, config BackoffConfig) time.Duration {
	ceiling := calculateBackoff(attempt, config.Initial, config.Max, 2.0)
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(int64(ceiling) + 1))
}
