// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

package sync

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/marketsync/internal/config"
	"github.com/tomtom215/marketsync/internal/metrics"
	"github.com/tomtom215/marketsync/internal/models"
)

// endpointClass selects which documented rate budget a request consumes.
// The orders endpoint has its own, larger budget than everything else.
type endpointClass string

const (
	classOrders endpointClass = "orders"
	classOther  endpointClass = "other"
)

// classFor maps a sync type to its endpoint class.
func classFor(syncType models.SyncType) endpointClass {
	if syncType == models.SyncTypeOrders {
		return classOrders
	}
	return classOther
}

// RateLimiter enforces one account's budget for one endpoint class: a
// token-bucket per-second limit plus a sliding-window per-minute ceiling.
// The marketplace enforces both server-side without advertising remaining
// capacity in response headers, so the client must stay under the documented
// ceilings on its own.
//
// Each concurrent account worker owns its own RateLimiter because the
// marketplace tracks budgets per account, not per connection.
type RateLimiter struct {
	account   models.AccountType
	class     endpointClass
	bucket    *rate.Limiter
	perMinute int
	jitterMax time.Duration

	mu     sync.Mutex
	window []time.Time // request timestamps inside the last minute

	waits int64
}

// NewRateLimiter builds a limiter for one account and endpoint class from the
// configured ceilings.
func NewRateLimiter(account models.AccountType, syncType models.SyncType, cfg *config.RateLimitsConfig) *RateLimiter {
	class := classFor(syncType)

	budget := cfg.Other
	if class == classOrders {
		budget = cfg.Orders
	}

	return &RateLimiter{
		account:   account,
		class:     class,
		bucket:    rate.NewLimiter(rate.Limit(budget.PerSecond), budget.PerSecond),
		perMinute: budget.PerMinute,
		jitterMax: cfg.JitterMax,
	}
}

// Acquire blocks until one request may be sent without exceeding either the
// per-second or the per-minute ceiling, then applies a small random jitter so
// concurrent account workers don't fire in lockstep. Returns early with the
// context's error on cancellation.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	start := time.Now()
	waited := false

	// Per-second token bucket. Reserve first so a wait is observable.
	reservation := rl.bucket.Reserve()
	if !reservation.OK() {
		return fmt.Errorf("rate limiter cannot satisfy request for %s/%s", rl.account, rl.class)
	}
	if delay := reservation.Delay(); delay > 0 {
		waited = true
		if err := sleepCtx(ctx, delay); err != nil {
			reservation.Cancel()
			return err
		}
	}

	// Per-minute sliding window.
	for {
		rl.mu.Lock()
		now := time.Now()
		rl.prune(now)
		if len(rl.window) < rl.perMinute {
			rl.window = append(rl.window, now)
			rl.mu.Unlock()
			break
		}
		wait := rl.window[0].Add(time.Minute).Sub(now)
		rl.mu.Unlock()

		waited = true
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}

	if waited {
		rl.mu.Lock()
		rl.waits++
		rl.mu.Unlock()
		metrics.RateLimitWaits.WithLabelValues(string(rl.account), string(rl.class)).Inc()
		metrics.RateLimitWaitDuration.WithLabelValues(string(rl.account), string(rl.class)).Observe(time.Since(start).Seconds())
	}

	if rl.jitterMax > 0 {
		// Math/rand is fine here; the jitter only desynchronizes workers.
		jitter := time.Duration(rand.Int63n(int64(rl.jitterMax))) //nolint:gosec
		if err := sleepCtx(ctx, jitter); err != nil {
			return err
		}
	}

	return nil
}

// Waits reports how many acquisitions had to block for capacity. The sync
// log's rate_limit_hits counter is fed from this.
func (rl *RateLimiter) Waits() int64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.waits
}

// prune drops window entries older than one minute. Caller holds mu.
func (rl *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(rl.window) && !rl.window[i].After(cutoff) {
		i++
	}
	rl.window = rl.window[i:]
}

// sleepCtx sleeps for d or until the context is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
