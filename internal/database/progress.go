// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/marketsync/internal/models"
)

// UpsertSyncProgress writes the live progress row for a running sync,
// replacing any previous snapshot in place.
func (db *DB) UpsertSyncProgress(ctx context.Context, p *models.SyncProgress) error {
	query := `INSERT INTO sync_progress (
		sync_log_id, current_page, current_item_index, percentage_complete,
		items_per_second, estimated_completion, is_active, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (sync_log_id) DO UPDATE SET
		current_page = EXCLUDED.current_page,
		current_item_index = EXCLUDED.current_item_index,
		percentage_complete = EXCLUDED.percentage_complete,
		items_per_second = EXCLUDED.items_per_second,
		estimated_completion = EXCLUDED.estimated_completion,
		is_active = EXCLUDED.is_active,
		updated_at = EXCLUDED.updated_at`

	var eta interface{}
	if p.EstimatedCompletion != nil {
		eta = *p.EstimatedCompletion
	}

	_, err := db.conn.ExecContext(ctx, query,
		p.SyncLogID, p.CurrentPage, p.CurrentItemIndex, p.PercentageComplete,
		p.ItemsPerSecond, eta, p.IsActive, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sync progress: %w", err)
	}
	return nil
}

// GetSyncProgress fetches the progress row for a sync log, or ErrNotFound.
func (db *DB) GetSyncProgress(ctx context.Context, syncLogID string) (*models.SyncProgress, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT
			sync_log_id, current_page, current_item_index, percentage_complete,
			items_per_second, estimated_completion, is_active, updated_at
		FROM sync_progress WHERE sync_log_id = ?`, syncLogID)

	var p models.SyncProgress
	var eta sql.NullTime
	err := row.Scan(
		&p.SyncLogID, &p.CurrentPage, &p.CurrentItemIndex, &p.PercentageComplete,
		&p.ItemsPerSecond, &eta, &p.IsActive, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan sync progress: %w", err)
	}
	if eta.Valid {
		t := eta.Time
		p.EstimatedCompletion = &t
	}
	return &p, nil
}

// DeactivateSyncProgress flags the progress row inactive once its sync log
// reaches a terminal state. Missing rows are not an error.
func (db *DB) DeactivateSyncProgress(ctx context.Context, syncLogID string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE sync_progress SET is_active = false, updated_at = ? WHERE sync_log_id = ?`,
		time.Now().UTC(), syncLogID)
	if err != nil {
		return fmt.Errorf("failed to deactivate sync progress: %w", err)
	}
	return nil
}
