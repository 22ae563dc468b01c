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

// UpsertOrder inserts or reconciles one order row under the given conflict
// strategy, one transaction per record, mirroring UpsertProduct. Orders have
// no user-owned fields; remote_priority overwrites everything.
func (db *DB) UpsertOrder(ctx context.Context, incoming *models.Order, strategy models.ConflictStrategy, modifiedAt *time.Time) (models.UpsertResult, error) {
	var lastErr error

	for attempt := 0; attempt < upsertWriteRetries; attempt++ {
		result, err := db.upsertOrderOnce(ctx, incoming, strategy, modifiedAt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if (isTransactionConflict(err) || isConstraintViolation(err)) && attempt < upsertWriteRetries-1 {
			backoff := time.Millisecond * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				lastErr = ctx.Err()
			}
		}
		break
	}

	db.recordOrderFailure(ctx, incoming.OrderID, incoming.Account)
	return models.UpsertFailed, lastErr
}

func (db *DB) upsertOrderOnce(ctx context.Context, incoming *models.Order, strategy models.ConflictStrategy, modifiedAt *time.Time) (models.UpsertResult, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return models.UpsertFailed, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := getOrder(ctx, tx, incoming.OrderID, incoming.Account)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return models.UpsertFailed, err
	}

	now := time.Now().UTC()

	if existing == nil {
		var placedAt interface{}
		if incoming.PlacedAt != nil {
			placedAt = *incoming.PlacedAt
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO orders (
				order_id, account, status, total, items_count, placed_at,
				last_synced_at, sync_attempts, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			incoming.OrderID, string(incoming.Account), incoming.Status,
			incoming.Total, incoming.ItemsCount, placedAt, now, now,
		)
		if err != nil {
			return models.UpsertFailed, fmt.Errorf("failed to insert order %s: %w", incoming.OrderID, err)
		}
		if err := tx.Commit(); err != nil {
			return models.UpsertFailed, fmt.Errorf("failed to commit insert: %w", err)
		}
		return models.UpsertCreated, nil
	}

	merged, changed := mergeOrder(existing, incoming, strategy, modifiedAt)

	if !changed {
		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET last_synced_at = ? WHERE order_id = ? AND account = ?`,
			now, incoming.OrderID, string(incoming.Account)); err != nil {
			return models.UpsertFailed, fmt.Errorf("failed to touch order %s: %w", incoming.OrderID, err)
		}
		if err := tx.Commit(); err != nil {
			return models.UpsertFailed, fmt.Errorf("failed to commit touch: %w", err)
		}
		return models.UpsertUnchanged, nil
	}

	var placedAt interface{}
	if merged.PlacedAt != nil {
		placedAt = *merged.PlacedAt
	}
	_, err = tx.ExecContext(ctx, `UPDATE orders SET
			status = ?, total = ?, items_count = ?, placed_at = ?, last_synced_at = ?
		WHERE order_id = ? AND account = ?`,
		merged.Status, merged.Total, merged.ItemsCount, placedAt, now,
		incoming.OrderID, string(incoming.Account),
	)
	if err != nil {
		return models.UpsertFailed, fmt.Errorf("failed to update order %s: %w", incoming.OrderID, err)
	}
	if err := tx.Commit(); err != nil {
		return models.UpsertFailed, fmt.Errorf("failed to commit update: %w", err)
	}
	return models.UpsertUpdated, nil
}

func mergeOrder(existing, incoming *models.Order, strategy models.ConflictStrategy, modifiedAt *time.Time) (*models.Order, bool) {
	switch strategy {
	case models.StrategyLocalPriority:
		merged := *existing
		changed := false
		if merged.Status == "" && incoming.Status != "" {
			merged.Status = incoming.Status
			changed = true
		}
		if merged.Total == 0 && incoming.Total != 0 {
			merged.Total = incoming.Total
			changed = true
		}
		if merged.ItemsCount == 0 && incoming.ItemsCount != 0 {
			merged.ItemsCount = incoming.ItemsCount
			changed = true
		}
		if merged.PlacedAt == nil && incoming.PlacedAt != nil {
			merged.PlacedAt = incoming.PlacedAt
			changed = true
		}
		return &merged, changed

	case models.StrategyNewestWins:
		if modifiedAt != nil && !modifiedAt.After(existing.LastSyncedAt) {
			return existing, false
		}
		return remoteMergeOrder(existing, incoming)

	default: // remote_priority
		return remoteMergeOrder(existing, incoming)
	}
}

func remoteMergeOrder(existing, incoming *models.Order) (*models.Order, bool) {
	merged := *existing
	merged.Status = incoming.Status
	merged.Total = incoming.Total
	merged.ItemsCount = incoming.ItemsCount
	if incoming.PlacedAt != nil {
		merged.PlacedAt = incoming.PlacedAt
	}

	changed := merged.Status != existing.Status ||
		merged.Total != existing.Total ||
		merged.ItemsCount != existing.ItemsCount ||
		!timePtrEqual(merged.PlacedAt, existing.PlacedAt)

	return &merged, changed
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (db *DB) recordOrderFailure(ctx context.Context, orderID string, account models.AccountType) {
	_, _ = db.conn.ExecContext(ctx,
		`UPDATE orders SET sync_attempts = sync_attempts + 1, last_synced_at = ? WHERE order_id = ? AND account = ?`,
		time.Now().UTC(), orderID, string(account))
}

// GetOrder fetches one order row by (order_id, account), or ErrNotFound.
func (db *DB) GetOrder(ctx context.Context, orderID string, account models.AccountType) (*models.Order, error) {
	return getOrder(ctx, db.conn, orderID, account)
}

func getOrder(ctx context.Context, q querier, orderID string, account models.AccountType) (*models.Order, error) {
	row := q.QueryRowContext(ctx, `SELECT
			order_id, account, status, total, items_count, placed_at,
			last_synced_at, sync_attempts, created_at
		FROM orders WHERE order_id = ? AND account = ?`, orderID, string(account))

	var o models.Order
	var acct string
	var placedAt sql.NullTime
	err := row.Scan(
		&o.OrderID, &acct, &o.Status, &o.Total, &o.ItemsCount, &placedAt,
		&o.LastSyncedAt, &o.SyncAttempts, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	o.Account = models.AccountType(acct)
	if placedAt.Valid {
		t := placedAt.Time
		o.PlacedAt = &t
	}
	return &o, nil
}

// CountOrders returns the number of order rows for an account.
func (db *DB) CountOrders(ctx context.Context, account models.AccountType) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE account = ?`, string(account)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return count, nil
}
