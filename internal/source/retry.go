// SPDX-License-Identifier: MIT

package source

import (
	"context"
	"errors"
	"time"

	"github.com/pmomusic/pmomusicd/internal/ratelimit"
	"github.com/pmomusic/pmomusicd/internal/resilience"
)

const (
	defaultFetchAttempts = 3
	defaultFetchBackoff  = 250 * time.Millisecond
)

// ErrThrottled reports that a fetch attempt was rejected by the
// per-class rate limiter before reaching the network.
var ErrThrottled = errors.New("source: fetch throttled")

// fetchLimiter throttles upstream catalog fetches per source class so
// retries and batch operations can't exceed an upstream API quota.
var fetchLimiter = ratelimit.New(ratelimit.DefaultConfig())

// FetchWithRetry runs fn up to defaultFetchAttempts times with
// exponential backoff from defaultFetchBackoff, gated by the per-class
// rate limiter and an optional circuit breaker (nil disables the
// gate). class names the upstream quota bucket (e.g. "qobuz"); an unknown class is only
// subject to the global tier.
func FetchWithRetry(ctx context.Context, breaker *resilience.CircuitBreaker, class string, fn func(ctx context.Context) error) error {
	backoff := defaultFetchBackoff
	var lastErr error

	for attempt := 0; attempt < defaultFetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}

		if !fetchLimiter.Allow("", class) {
			lastErr = ErrThrottled
			continue
		}

		run := func() error { return fn(ctx) }
		var err error
		if breaker != nil {
			err = breaker.Execute(run)
		} else {
			err = run()
		}
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}
