// backoff_test.go: Backoff schedule tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateBackoff(t *testing.T) {
	testCases := []struct {
		name     string
		attempt  int
		expected time.Duration
	}{
		{"first_retry_is_immediate_base", 0, time.Second},
		{"second_retry_doubles", 1, 2 * time.Second},
		{"third_retry_doubles_again", 2, 4 * time.Second},
		{"fifth_retry", 4, 16 * time.Second},
		{"capped_at_max", 6, 30 * time.Second},
		{"stays_capped", 20, 30 * time.Second},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, calculateBackoff(tc.attempt, time.Second, 30*time.Second, 2.0))
		})
	}
}

func TestFullJitterBackoff_Bounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	config := BackoffConfig{Initial: 2 * time.Second, Max: 5 * time.Minute}

	for attempt := 0; attempt < 12; attempt++ {
		ceiling := calculateBackoff(attempt, config.Initial, config.Max, 2.0)
		for i := 0; i < 200; i++ {
			d := fullJitterBackoff(rng, attempt, config)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, ceiling)
		}
	}
}

func TestFullJitterBackoff_CeilingGrowth(t *testing.T) {
	config := BackoffConfig{Initial: 2 * time.Second, Max: 5 * time.Minute}

	assert.Equal(t, 2*time.Second, calculateBackoff(0, config.Initial, config.Max, 2.0))
	assert.Equal(t, 64*time.Second, calculateBackoff(5, config.Initial, config.Max, 2.0))
	assert.Equal(t, 5*time.Minute, calculateBackoff(8, config.Initial, config.Max, 2.0), "ceiling caps at the configured maximum")
}
