// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

package sync

import (
	"context"
	"time"

	"github.com/tomtom215/marketsync/internal/config"
	"github.com/tomtom215/marketsync/internal/database"
	"github.com/tomtom215/marketsync/internal/logging"
	"github.com/tomtom215/marketsync/internal/metrics"
)

// Reaper periodically force-fails sync logs stuck in the running state, e.g.
// after a crash or power loss mid-run. Reaping frees the exclusivity slot so
// the next trigger can proceed. The sweep is idempotent and safe to run from
// multiple processes at once; the store's status guard arbitrates.
type Reaper struct {
	db       *database.DB
	interval time.Duration
	timeout  time.Duration
}

// NewReaper builds a reaper from the sync lifecycle settings.
func NewReaper(db *database.DB, cfg *config.SyncConfig) *Reaper {
	return &Reaper{
		db:       db,
		interval: cfg.ReapInterval,
		timeout:  cfg.StuckTimeout,
	}
}

// Run sweeps immediately, then on every tick until the context is canceled.
// The startup sweep matters most: it clears slots orphaned by the previous
// process.
func (r *Reaper) Run(ctx context.Context) error {
	if _, err := r.Sweep(ctx); err != nil {
		logging.Error().Err(err).Msg("Startup stuck-sync sweep failed")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				logging.Error().Err(err).Msg("Stuck-sync sweep failed")
			}
		}
	}
}

// Sweep force-fails every running sync log older than the configured stuck
// timeout and returns how many were reaped.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	return r.SweepWithTimeout(ctx, r.timeout)
}

// SweepWithTimeout sweeps with a caller-supplied timeout instead of the
// configured one. Used by the cleanup endpoint, which lets an operator reap
// a run they know is dead without waiting out the full stuck window.
func (r *Reaper) SweepWithTimeout(ctx context.Context, timeout time.Duration) (int, error) {
	reaped, err := r.db.ReapStuckSyncs(ctx, timeout)
	if err != nil {
		return 0, err
	}

	if len(reaped) > 0 {
		metrics.StuckSyncsReaped.Add(float64(len(reaped)))
		logging.Warn().
			Int("count", len(reaped)).
			Strs("sync_log_ids", reaped).
			Dur("timeout", timeout).
			Msg("Reaped stuck sync logs")
	}
	return len(reaped), nil
}
