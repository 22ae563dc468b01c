// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

package sync

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/marketsync/internal/config"
	"github.com/tomtom215/marketsync/internal/database"
	"github.com/tomtom215/marketsync/internal/models"
)

func setupTracker(t *testing.T) (*ProgressTracker, *database.DB, *models.SyncLog) {
	t.Helper()

	db, err := database.New(&config.DatabaseConfig{Path: ""})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	log := &models.SyncLog{
		ID:           uuid.NewString(),
		SyncType:     models.SyncTypeProducts,
		AccountScope: models.ScopeBoth,
		StartedAt:    time.Now().UTC(),
		TriggeredBy:  "test",
	}
	checkNoError(t, "CreateSyncLog", db.CreateSyncLog(context.Background(), log))

	return NewProgressTracker(db, log), db, log
}

func TestProgressTrackerCountsPagesAndItems(t *testing.T) {
	tracker, _, log := setupTracker(t)
	ctx := context.Background()

	tracker.OnPage(ctx, 1, 100)
	tracker.OnPage(ctx, 2, 50)
	checkIntEqual(t, "pages processed", log.PagesProcessed, 2)

	tracker.SetTotal(150)
	tracker.OnItem(ctx, 0)
	tracker.OnItem(ctx, 1)
	checkIntEqual(t, "processed items", log.ProcessedItems, 2)
}

func TestProgressTrackerPersistsCountersMidRun(t *testing.T) {
	tracker, db, log := setupTracker(t)
	ctx := context.Background()

	tracker.OnPage(ctx, 1, 100)
	tracker.OnPage(ctx, 2, 50)
	tracker.Flush(ctx)

	// A status poll against the still-running log sees live numbers, not
	// zeroes held back until finalization.
	persisted, err := db.GetSyncLog(ctx, log.ID)
	checkNoError(t, "GetSyncLog", err)
	checkStringEqual(t, "status", string(persisted.Status), string(models.SyncStatusRunning))
	checkIntEqual(t, "pages processed", persisted.PagesProcessed, 2)
	if persisted.CompletedAt != nil {
		t.Errorf("Expected no completion time on a running log, got %v", persisted.CompletedAt)
	}
}

func TestProgressTrackerPageMonotonicAcrossWorkers(t *testing.T) {
	tracker, db, log := setupTracker(t)
	ctx := context.Background()

	// Two account workers interleave; the snapshot page never goes backward.
	tracker.OnPage(ctx, 3, 10)
	tracker.OnPage(ctx, 1, 10)
	tracker.Flush(ctx)

	progress, err := db.GetSyncProgress(ctx, log.ID)
	checkNoError(t, "GetSyncProgress", err)
	checkIntEqual(t, "current page", progress.CurrentPage, 3)
	checkIntEqual(t, "pages processed", log.PagesProcessed, 2)
}
