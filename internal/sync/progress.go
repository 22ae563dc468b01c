// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

package sync

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/marketsync/internal/database"
	"github.com/tomtom215/marketsync/internal/logging"
	"github.com/tomtom215/marketsync/internal/models"
)

// progressFlushInterval throttles how often the ephemeral progress row and
// the running log's counters are written. Progress is a courtesy for
// observers, not part of correctness.
const progressFlushInterval = time.Second

// rateWindow is how far back the moving items-per-second average looks.
const rateWindow = 30 * time.Second

// ProgressTracker maintains the live view of one running sync: current page,
// current item index, a moving-average throughput, and an ETA once the total
// is known. It also mutates the run's SyncLog counters in place and persists
// them alongside the progress row, so a status poll mid-run sees real
// numbers. All store writes are best-effort; a failed write is logged and
// never fails the run.
//
// Safe for concurrent use; fetch workers for both accounts report into the
// same tracker. The SyncLog must not be mutated elsewhere while fetch
// workers are running.
type ProgressTracker struct {
	db  *database.DB
	log *models.SyncLog

	mu           sync.Mutex
	currentPage  int
	itemIndex    int
	itemsFetched int
	total        int
	samples      []rateSample
	lastFlush    time.Time
}

type rateSample struct {
	at    time.Time
	count int
}

// NewProgressTracker starts tracking for one running sync log.
func NewProgressTracker(db *database.DB, log *models.SyncLog) *ProgressTracker {
	return &ProgressTracker{
		db:  db,
		log: log,
	}
}

// OnPage records that a page finished fetching and how many items it carried.
// Pages advance monotonically in the snapshot even when two account workers
// interleave; the pages-processed counter counts every page from every
// account.
func (t *ProgressTracker) OnPage(ctx context.Context, page, pageItems int) {
	t.mu.Lock()
	if page > t.currentPage {
		t.currentPage = page
	}
	t.itemsFetched += pageItems
	t.log.PagesProcessed++
	now := time.Now()
	t.samples = append(t.samples, rateSample{at: now, count: t.itemsFetched})
	t.pruneSamplesLocked(now)
	flush := t.shouldFlush()
	snapshot := t.snapshotLocked()
	counters := *t.log
	t.mu.Unlock()

	if flush {
		t.write(ctx, snapshot, &counters)
	}
}

// SetTotal fixes the denominator for percentage and ETA once the fetch phase
// knows how many records survived deduplication. The throughput samples
// restart here: fetch-phase and write-phase rates measure different work.
func (t *ProgressTracker) SetTotal(total int) {
	t.mu.Lock()
	t.total = total
	t.samples = t.samples[:0]
	t.mu.Unlock()
}

// OnItem records that the record at the given 0-based index has been written.
func (t *ProgressTracker) OnItem(ctx context.Context, index int) {
	t.mu.Lock()
	t.itemIndex = index + 1
	t.log.ProcessedItems = t.itemIndex
	now := time.Now()
	t.samples = append(t.samples, rateSample{at: now, count: t.itemIndex})
	t.pruneSamplesLocked(now)
	flush := t.shouldFlush()
	snapshot := t.snapshotLocked()
	counters := *t.log
	t.mu.Unlock()

	if flush {
		t.write(ctx, snapshot, &counters)
	}
}

// Flush forces a snapshot write regardless of throttling.
func (t *ProgressTracker) Flush(ctx context.Context) {
	t.mu.Lock()
	t.lastFlush = time.Now()
	snapshot := t.snapshotLocked()
	counters := *t.log
	t.mu.Unlock()

	t.write(ctx, snapshot, &counters)
}

// shouldFlush applies the write throttle. Caller holds mu.
func (t *ProgressTracker) shouldFlush() bool {
	now := time.Now()
	if now.Sub(t.lastFlush) < progressFlushInterval {
		return false
	}
	t.lastFlush = now
	return true
}

// pruneSamplesLocked drops samples outside the rate window. Caller holds mu.
func (t *ProgressTracker) pruneSamplesLocked(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(t.samples) && t.samples[i].at.Before(cutoff) {
		i++
	}
	t.samples = t.samples[i:]
}

// snapshotLocked builds the persistable progress row. Caller holds mu.
func (t *ProgressTracker) snapshotLocked() *models.SyncProgress {
	p := &models.SyncProgress{
		SyncLogID:        t.log.ID,
		CurrentPage:      t.currentPage,
		CurrentItemIndex: t.itemIndex,
		IsActive:         true,
	}

	if t.total > 0 {
		p.PercentageComplete = float64(t.itemIndex) / float64(t.total) * 100
	}

	if len(t.samples) >= 2 {
		first := t.samples[0]
		last := t.samples[len(t.samples)-1]
		elapsed := last.at.Sub(first.at).Seconds()
		if elapsed > 0 {
			p.ItemsPerSecond = float64(last.count-first.count) / elapsed
		}
	}

	if p.ItemsPerSecond > 0 && t.total > t.itemIndex {
		remaining := float64(t.total-t.itemIndex) / p.ItemsPerSecond
		eta := time.Now().Add(time.Duration(remaining * float64(time.Second)))
		p.EstimatedCompletion = &eta
	}

	return p
}

func (t *ProgressTracker) write(ctx context.Context, p *models.SyncProgress, counters *models.SyncLog) {
	if err := t.db.UpsertSyncProgress(ctx, p); err != nil {
		logging.Warn().Err(err).Str("sync_log_id", t.log.ID).Msg("Failed to write sync progress")
	}
	if err := t.db.UpdateSyncLogCounters(ctx, counters); err != nil {
		logging.Warn().Err(err).Str("sync_log_id", t.log.ID).Msg("Failed to write sync log counters")
	}
}
