// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

/*
products.go - Product Upserts with Conflict Resolution

Each upsert runs in its own transaction scoped to one record, so one bad
record cannot roll back an entire page's progress. The (sku, account)
primary key is the idempotence anchor; concurrent writers (including manual
user edits outside the sync path) are arbitrated by the store's own
constraint and transaction conflict detection, retried briefly here.

Conflict strategies:
  - remote_priority: overwrite remote-owned fields, preserve user-only
    fields (notes); identical payloads classify as unchanged.
  - local_priority: only fill fields that are empty locally.
  - newest_wins: overwrite only when the incoming modification timestamp is
    newer than the local last_synced_at; without an incoming timestamp the
    strategy falls back to remote_priority.

last_synced_at is updated on every attempt and is monotonically
non-decreasing; sync_attempts increments only on failure.
*/
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/marketsync/internal/models"
)

// upsertWriteRetries bounds the short retry loop around transaction
// conflicts with concurrent writers.
const upsertWriteRetries = 3

// UpsertProduct inserts or reconciles one product row under the given
// conflict strategy. modifiedAt is the incoming record's own modification
// timestamp, if the marketplace supplied one (newest_wins needs it).
//
// The returned result is always valid; the error is non-nil only for
// UpsertFailed, and processing is expected to continue with the next record.
func (db *DB) UpsertProduct(ctx context.Context, incoming *models.Product, strategy models.ConflictStrategy, modifiedAt *time.Time) (models.UpsertResult, error) {
	var lastErr error

	for attempt := 0; attempt < upsertWriteRetries; attempt++ {
		result, err := db.upsertProductOnce(ctx, incoming, strategy, modifiedAt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if (isTransactionConflict(err) || isConstraintViolation(err)) && attempt < upsertWriteRetries-1 {
			backoff := time.Millisecond * time.Duration(1<<uint(attempt)) // 1ms, 2ms, 4ms
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				lastErr = ctx.Err()
			}
		}
		break
	}

	db.recordProductFailure(ctx, incoming.SKU, incoming.Account)
	return models.UpsertFailed, lastErr
}

func (db *DB) upsertProductOnce(ctx context.Context, incoming *models.Product, strategy models.ConflictStrategy, modifiedAt *time.Time) (models.UpsertResult, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return models.UpsertFailed, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := getProduct(ctx, tx, incoming.SKU, incoming.Account)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return models.UpsertFailed, err
	}

	now := time.Now().UTC()

	if existing == nil {
		_, err = tx.ExecContext(ctx, `INSERT INTO products (
				sku, account, name, brand, category, barcode,
				price, old_price, stock, notes, last_synced_at, sync_attempts, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?, 0, ?)`,
			incoming.SKU, string(incoming.Account), incoming.Name, incoming.Brand,
			incoming.Category, incoming.Barcode, incoming.Price, incoming.OldPrice,
			incoming.Stock, now, now,
		)
		if err != nil {
			return models.UpsertFailed, fmt.Errorf("failed to insert product %s: %w", incoming.SKU, err)
		}
		if err := tx.Commit(); err != nil {
			return models.UpsertFailed, fmt.Errorf("failed to commit insert: %w", err)
		}
		return models.UpsertCreated, nil
	}

	merged, changed := mergeProduct(existing, incoming, strategy, modifiedAt)

	if !changed {
		// last_synced_at still advances on an unchanged attempt.
		if _, err := tx.ExecContext(ctx,
			`UPDATE products SET last_synced_at = ? WHERE sku = ? AND account = ?`,
			now, incoming.SKU, string(incoming.Account)); err != nil {
			return models.UpsertFailed, fmt.Errorf("failed to touch product %s: %w", incoming.SKU, err)
		}
		if err := tx.Commit(); err != nil {
			return models.UpsertFailed, fmt.Errorf("failed to commit touch: %w", err)
		}
		return models.UpsertUnchanged, nil
	}

	_, err = tx.ExecContext(ctx, `UPDATE products SET
			name = ?, brand = ?, category = ?, barcode = ?,
			price = ?, old_price = ?, stock = ?, last_synced_at = ?
		WHERE sku = ? AND account = ?`,
		merged.Name, merged.Brand, merged.Category, merged.Barcode,
		merged.Price, merged.OldPrice, merged.Stock, now,
		incoming.SKU, string(incoming.Account),
	)
	if err != nil {
		return models.UpsertFailed, fmt.Errorf("failed to update product %s: %w", incoming.SKU, err)
	}
	if err := tx.Commit(); err != nil {
		return models.UpsertFailed, fmt.Errorf("failed to commit update: %w", err)
	}
	return models.UpsertUpdated, nil
}

// mergeProduct applies the conflict strategy and reports whether any
// remote-owned field actually changes. notes is user-owned and never merged.
func mergeProduct(existing, incoming *models.Product, strategy models.ConflictStrategy, modifiedAt *time.Time) (*models.Product, bool) {
	switch strategy {
	case models.StrategyLocalPriority:
		merged := *existing
		changed := false
		if merged.Name == "" && incoming.Name != "" {
			merged.Name = incoming.Name
			changed = true
		}
		if merged.Brand == "" && incoming.Brand != "" {
			merged.Brand = incoming.Brand
			changed = true
		}
		if merged.Category == "" && incoming.Category != "" {
			merged.Category = incoming.Category
			changed = true
		}
		if merged.Barcode == "" && incoming.Barcode != "" {
			merged.Barcode = incoming.Barcode
			changed = true
		}
		if merged.Price == 0 && incoming.Price != 0 {
			merged.Price = incoming.Price
			changed = true
		}
		if merged.OldPrice == 0 && incoming.OldPrice != 0 {
			merged.OldPrice = incoming.OldPrice
			changed = true
		}
		if merged.Stock == 0 && incoming.Stock != 0 {
			merged.Stock = incoming.Stock
			changed = true
		}
		return &merged, changed

	case models.StrategyNewestWins:
		// Without an incoming timestamp there is nothing to compare, so the
		// incoming record wins as under remote_priority.
		if modifiedAt != nil && !modifiedAt.After(existing.LastSyncedAt) {
			return existing, false
		}
		return remoteMergeProduct(existing, incoming)

	default: // remote_priority
		return remoteMergeProduct(existing, incoming)
	}
}

func remoteMergeProduct(existing, incoming *models.Product) (*models.Product, bool) {
	merged := *existing
	merged.Name = incoming.Name
	merged.Brand = incoming.Brand
	merged.Category = incoming.Category
	merged.Barcode = incoming.Barcode
	merged.Price = incoming.Price
	merged.OldPrice = incoming.OldPrice
	merged.Stock = incoming.Stock

	changed := merged.Name != existing.Name ||
		merged.Brand != existing.Brand ||
		merged.Category != existing.Category ||
		merged.Barcode != existing.Barcode ||
		merged.Price != existing.Price ||
		merged.OldPrice != existing.OldPrice ||
		merged.Stock != existing.Stock

	return &merged, changed
}

// recordProductFailure bumps sync_attempts and last_synced_at after a failed
// write, best-effort and only if the row exists.
func (db *DB) recordProductFailure(ctx context.Context, sku string, account models.AccountType) {
	_, _ = db.conn.ExecContext(ctx,
		`UPDATE products SET sync_attempts = sync_attempts + 1, last_synced_at = ? WHERE sku = ? AND account = ?`,
		time.Now().UTC(), sku, string(account))
}

// GetProduct fetches one product row by (sku, account), or ErrNotFound.
func (db *DB) GetProduct(ctx context.Context, sku string, account models.AccountType) (*models.Product, error) {
	return getProduct(ctx, db.conn, sku, account)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getProduct(ctx context.Context, q querier, sku string, account models.AccountType) (*models.Product, error) {
	row := q.QueryRowContext(ctx, `SELECT
			sku, account, name, brand, category, barcode,
			price, old_price, stock, notes, last_synced_at, sync_attempts, created_at
		FROM products WHERE sku = ? AND account = ?`, sku, string(account))

	var p models.Product
	var acct string
	err := row.Scan(
		&p.SKU, &acct, &p.Name, &p.Brand, &p.Category, &p.Barcode,
		&p.Price, &p.OldPrice, &p.Stock, &p.Notes, &p.LastSyncedAt, &p.SyncAttempts, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}
	p.Account = models.AccountType(acct)
	return &p, nil
}

// CountProducts returns the number of product rows for an account.
func (db *DB) CountProducts(ctx context.Context, account models.AccountType) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE account = ?`, string(account)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return count, nil
}
