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

func setupReaperDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(&config.DatabaseConfig{Path: ""})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestReaperSweep(t *testing.T) {
	db := setupReaperDB(t)
	ctx := context.Background()

	stuck := &models.SyncLog{
		ID:           uuid.NewString(),
		SyncType:     models.SyncTypeProducts,
		AccountScope: models.ScopeBoth,
		StartedAt:    time.Now().UTC().Add(-2 * time.Hour),
		TriggeredBy:  "test",
	}
	checkNoError(t, "CreateSyncLog", db.CreateSyncLog(ctx, stuck))

	reaper := NewReaper(db, &config.SyncConfig{
		StuckTimeout: time.Hour,
		ReapInterval: time.Minute,
	})

	count, err := reaper.Sweep(ctx)
	checkNoError(t, "Sweep", err)
	checkIntEqual(t, "reaped", count, 1)

	got, err := db.GetSyncLog(ctx, stuck.ID)
	checkNoError(t, "GetSyncLog", err)
	checkStringEqual(t, "status", string(got.Status), string(models.SyncStatusFailed))

	// A reaped slot is free for the next trigger.
	next := &models.SyncLog{
		ID:           uuid.NewString(),
		SyncType:     models.SyncTypeProducts,
		AccountScope: models.ScopeBoth,
		StartedAt:    time.Now().UTC(),
		TriggeredBy:  "test",
	}
	checkNoError(t, "CreateSyncLog after reap", db.CreateSyncLog(ctx, next))
}

func TestReaperSweepLeavesFreshRuns(t *testing.T) {
	db := setupReaperDB(t)
	ctx := context.Background()

	fresh := &models.SyncLog{
		ID:           uuid.NewString(),
		SyncType:     models.SyncTypeOrders,
		AccountScope: models.ScopePrimary,
		StartedAt:    time.Now().UTC(),
		TriggeredBy:  "test",
	}
	checkNoError(t, "CreateSyncLog", db.CreateSyncLog(ctx, fresh))

	reaper := NewReaper(db, &config.SyncConfig{
		StuckTimeout: time.Hour,
		ReapInterval: time.Minute,
	})

	count, err := reaper.Sweep(ctx)
	checkNoError(t, "Sweep", err)
	checkIntEqual(t, "reaped", count, 0)
}

func TestReaperRunStopsOnCancel(t *testing.T) {
	db := setupReaperDB(t)

	reaper := NewReaper(db, &config.SyncConfig{
		StuckTimeout: time.Hour,
		ReapInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reaper.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected context error from canceled Run")
		}
	case <-time.After(time.Second):
		t.Fatal("Reaper did not stop after cancellation")
	}
}
