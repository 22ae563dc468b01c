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

	"github.com/goccy/go-json"

	"github.com/tomtom215/marketsync/internal/logging"
	"github.com/tomtom215/marketsync/internal/models"
)

// CreateSyncLog inserts a new running sync log, enforcing the one-running-
// sync-per-(sync_type, account) constraint with a single compare-and-set
// insert: the row is only written when no running log with an overlapping
// account scope exists. This is correct across multiple processes because
// the store itself arbitrates, not an in-process lock.
//
// Returns ErrSyncAlreadyRunning when the slot is taken; no second row is
// created in that case.
func (db *DB) CreateSyncLog(ctx context.Context, log *models.SyncLog) error {
	errsJSON, err := json.Marshal(log.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal error list: %w", err)
	}

	// Scopes overlap unless one is exactly primary and the other exactly
	// secondary.
	query := `INSERT INTO sync_logs (
		id, sync_type, account_scope, status,
		total_items, processed_items, created_items, updated_items,
		unchanged_items, failed_items, pages_processed, api_requests_made,
		rate_limit_hits, dedup_discarded, started_at, duration_seconds,
		errors, triggered_by
	)
	SELECT ?, ?, ?, ?, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, ?, 0, ?, ?
	WHERE NOT EXISTS (
		SELECT 1 FROM sync_logs
		WHERE sync_type = ?
		  AND status = 'running'
		  AND NOT (
			(account_scope = 'primary' AND ? = 'secondary') OR
			(account_scope = 'secondary' AND ? = 'primary')
		  )
	)`

	res, err := db.conn.ExecContext(ctx, query,
		log.ID, string(log.SyncType), string(log.AccountScope), string(models.SyncStatusRunning),
		log.StartedAt, string(errsJSON), log.TriggeredBy,
		string(log.SyncType), string(log.AccountScope), string(log.AccountScope),
	)
	if err != nil {
		return fmt.Errorf("failed to create sync log: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return ErrSyncAlreadyRunning
	}

	log.Status = models.SyncStatusRunning
	return nil
}

// UpdateSyncLogCounters persists the live counters of a running sync log.
// The progress tracker calls this on its throttled flush path; failures here
// are surfaced to the caller, which treats them as best-effort.
func (db *DB) UpdateSyncLogCounters(ctx context.Context, log *models.SyncLog) error {
	errsJSON, err := json.Marshal(log.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal error list: %w", err)
	}

	query := `UPDATE sync_logs SET
		total_items = ?, processed_items = ?, created_items = ?,
		updated_items = ?, unchanged_items = ?, failed_items = ?,
		pages_processed = ?, api_requests_made = ?, rate_limit_hits = ?,
		dedup_discarded = ?, errors = ?
	WHERE id = ?`

	_, err = db.conn.ExecContext(ctx, query,
		log.TotalItems, log.ProcessedItems, log.CreatedItems,
		log.UpdatedItems, log.UnchangedItems, log.FailedItems,
		log.PagesProcessed, log.APIRequestsMade, log.RateLimitHits,
		log.DedupDiscarded, string(errsJSON), log.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync log counters: %w", err)
	}
	return nil
}

// FinalizeSyncLog moves a sync log to a terminal state, records completion
// time and duration, and deactivates its progress row. Only a running log is
// finalized; finalizing an already-terminal log is a no-op.
func (db *DB) FinalizeSyncLog(ctx context.Context, log *models.SyncLog) error {
	if !log.Status.Terminal() {
		return fmt.Errorf("finalize requires a terminal status, got %q", log.Status)
	}

	errsJSON, err := json.Marshal(log.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal error list: %w", err)
	}

	completedAt := time.Now().UTC()
	duration := completedAt.Sub(log.StartedAt).Seconds()

	query := `UPDATE sync_logs SET
		status = ?, total_items = ?, processed_items = ?, created_items = ?,
		updated_items = ?, unchanged_items = ?, failed_items = ?,
		pages_processed = ?, api_requests_made = ?, rate_limit_hits = ?,
		dedup_discarded = ?, completed_at = ?, duration_seconds = ?, errors = ?
	WHERE id = ? AND status = 'running'`

	res, err := db.conn.ExecContext(ctx, query,
		string(log.Status), log.TotalItems, log.ProcessedItems, log.CreatedItems,
		log.UpdatedItems, log.UnchangedItems, log.FailedItems,
		log.PagesProcessed, log.APIRequestsMade, log.RateLimitHits,
		log.DedupDiscarded, completedAt, duration, string(errsJSON), log.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize sync log: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows > 0 {
		log.CompletedAt = &completedAt
		log.DurationSeconds = duration
	}

	if err := db.DeactivateSyncProgress(ctx, log.ID); err != nil {
		// Progress cleanup is best-effort; the terminal status is what matters.
		logging.Warn().Err(err).Str("sync_log_id", log.ID).Msg("Failed to deactivate sync progress")
	}

	return nil
}

// GetSyncLog fetches one sync log by id. Returns ErrNotFound if absent.
func (db *DB) GetSyncLog(ctx context.Context, id string) (*models.SyncLog, error) {
	row := db.conn.QueryRowContext(ctx, syncLogSelect+` WHERE id = ?`, id)
	return scanSyncLog(row)
}

// GetRunningSyncLog returns the running sync log whose scope covers the given
// account for the given sync type, or ErrNotFound.
func (db *DB) GetRunningSyncLog(ctx context.Context, syncType models.SyncType, account models.AccountType) (*models.SyncLog, error) {
	row := db.conn.QueryRowContext(ctx, syncLogSelect+`
		WHERE sync_type = ? AND status = 'running'
		  AND (account_scope = 'both' OR account_scope = ?)
		ORDER BY started_at DESC LIMIT 1`,
		string(syncType), string(account))
	return scanSyncLog(row)
}

// GetLatestSyncLog returns the most recently started sync log whose scope
// covers the given account for the given sync type, or ErrNotFound.
func (db *DB) GetLatestSyncLog(ctx context.Context, syncType models.SyncType, account models.AccountType) (*models.SyncLog, error) {
	row := db.conn.QueryRowContext(ctx, syncLogSelect+`
		WHERE sync_type = ?
		  AND (account_scope = 'both' OR account_scope = ?)
		ORDER BY started_at DESC LIMIT 1`,
		string(syncType), string(account))
	return scanSyncLog(row)
}

// ListRunningSyncLogs returns every sync log currently in the running state,
// oldest first.
func (db *DB) ListRunningSyncLogs(ctx context.Context) ([]*models.SyncLog, error) {
	rows, err := db.conn.QueryContext(ctx, syncLogSelect+` WHERE status = 'running' ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list running sync logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []*models.SyncLog
	for rows.Next() {
		log, err := scanSyncLogRows(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// ListSyncLogs returns the most recent sync logs, newest first.
func (db *DB) ListSyncLogs(ctx context.Context, limit int) ([]*models.SyncLog, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.conn.QueryContext(ctx, syncLogSelect+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []*models.SyncLog
	for rows.Next() {
		log, err := scanSyncLogRows(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// ReapStuckSyncs force-fails every running sync log started before the
// cutoff, appending a single timeout error entry and deactivating its
// progress row. Idempotent: rows already terminal are never touched, so a
// second sweep over the same logs is a no-op and appends no duplicate
// entries. Returns the ids of the logs reaped by this call.
func (db *DB) ReapStuckSyncs(ctx context.Context, timeout time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-timeout)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, errors FROM sync_logs WHERE status = 'running' AND started_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to select stuck syncs: %w", err)
	}

	type stale struct {
		id     string
		errors string
	}
	var candidates []stale
	for rows.Next() {
		var s stale
		if err := rows.Scan(&s.id, &s.errors); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan stuck sync: %w", err)
		}
		candidates = append(candidates, s)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	var reaped []string
	completedAt := time.Now().UTC()

	for _, s := range candidates {
		var errList []models.SyncError
		if err := json.Unmarshal([]byte(s.errors), &errList); err != nil {
			errList = nil // corrupted error list is replaced, not fatal
		}
		errList = append(errList, models.SyncError{
			Kind:    models.ErrorKindTimeout,
			Message: "sync exceeded timeout and was auto-terminated",
		})
		errsJSON, err := json.Marshal(errList)
		if err != nil {
			return reaped, fmt.Errorf("failed to marshal error list: %w", err)
		}

		// The status guard makes concurrent sweeps safe: only one of them
		// can move the row out of running.
		res, err := db.conn.ExecContext(ctx, `UPDATE sync_logs SET
				status = 'failed',
				completed_at = ?,
				duration_seconds = CAST(date_diff('second', started_at, CAST(? AS TIMESTAMP)) AS DOUBLE),
				errors = ?
			WHERE id = ? AND status = 'running'`,
			completedAt, completedAt, string(errsJSON), s.id)
		if err != nil {
			return reaped, fmt.Errorf("failed to reap sync log %s: %w", s.id, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return reaped, fmt.Errorf("failed to read rows affected: %w", err)
		}
		if affected == 0 {
			continue // another sweep got there first
		}

		if err := db.DeactivateSyncProgress(ctx, s.id); err != nil {
			logging.Warn().Err(err).Str("sync_log_id", s.id).Msg("Failed to deactivate progress for reaped sync")
		}

		reaped = append(reaped, s.id)
	}

	return reaped, nil
}

const syncLogSelect = `SELECT
	id, sync_type, account_scope, status,
	total_items, processed_items, created_items, updated_items,
	unchanged_items, failed_items, pages_processed, api_requests_made,
	rate_limit_hits, dedup_discarded, started_at, completed_at,
	duration_seconds, errors, triggered_by
FROM sync_logs`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSyncLog(row *sql.Row) (*models.SyncLog, error) {
	log, err := scanSyncLogRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return log, err
}

func scanSyncLogRows(row rowScanner) (*models.SyncLog, error) {
	var log models.SyncLog
	var syncType, scope, status, errsJSON string
	var completedAt sql.NullTime

	err := row.Scan(
		&log.ID, &syncType, &scope, &status,
		&log.TotalItems, &log.ProcessedItems, &log.CreatedItems, &log.UpdatedItems,
		&log.UnchangedItems, &log.FailedItems, &log.PagesProcessed, &log.APIRequestsMade,
		&log.RateLimitHits, &log.DedupDiscarded, &log.StartedAt, &completedAt,
		&log.DurationSeconds, &errsJSON, &log.TriggeredBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan sync log: %w", err)
	}

	log.SyncType = models.SyncType(syncType)
	log.AccountScope = models.AccountScope(scope)
	log.Status = models.SyncStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		log.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(errsJSON), &log.Errors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal error list: %w", err)
	}

	return &log, nil
}
