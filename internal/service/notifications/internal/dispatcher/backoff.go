/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package dispatcher

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig tunes how failed deliveries are retried. A work item is
// dispatched MaxRetries+1 times in total before it is dropped.
type RetryConfig struct {
	MaxRetries int
	Base       int
	Factor     time.Duration
	Max        time.Duration
	Jitter     bool
}

// Backoff returns the wait before the given attempt:
//
//	min(Base^attempt * Factor, Max)
//
// optionally scaled by a uniform random factor in [0.5, 1.0).
func Backoff(cfg RetryConfig, attempt int) time.Duration {
	backoff := time.Duration(math.Pow(float64(cfg.Base), float64(attempt)) * float64(cfg.Factor))
	if backoff <= 0 || backoff > cfg.Max {
		backoff = cfg.Max
	}
	if cfg.Jitter {
		backoff = time.Duration(float64(backoff) * (0.5 + rand.Float64()/2))
	}
	return backoff
}
