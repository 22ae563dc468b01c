// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

package database

import (
	"fmt"
)

// initSchema creates all tables and indexes if they do not exist.
//
// All columns are defined in the initial CREATE TABLE statements; schema
// evolution replays these idempotently on startup.
func (db *DB) initSchema() error {
	queries := []string{
		// Products: one row per (sku, account). The composite primary key is
		// the uniqueness anchor for idempotent upserts. notes is user-owned
		// and never overwritten by sync.
		`CREATE TABLE IF NOT EXISTS products (
			sku VARCHAR NOT NULL,
			account VARCHAR NOT NULL,
			name VARCHAR NOT NULL DEFAULT '',
			brand VARCHAR NOT NULL DEFAULT '',
			category VARCHAR NOT NULL DEFAULT '',
			barcode VARCHAR NOT NULL DEFAULT '',
			price DOUBLE NOT NULL DEFAULT 0,
			old_price DOUBLE NOT NULL DEFAULT 0,
			stock INTEGER NOT NULL DEFAULT 0,
			notes VARCHAR NOT NULL DEFAULT '',
			last_synced_at TIMESTAMP NOT NULL,
			sync_attempts INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (sku, account)
		)`,

		// Orders: one row per (order_id, account). Orders are disjoint per
		// account so no cross-account deduplication applies.
		`CREATE TABLE IF NOT EXISTS orders (
			order_id VARCHAR NOT NULL,
			account VARCHAR NOT NULL,
			status VARCHAR NOT NULL DEFAULT '',
			total DOUBLE NOT NULL DEFAULT 0,
			items_count INTEGER NOT NULL DEFAULT 0,
			placed_at TIMESTAMP,
			last_synced_at TIMESTAMP NOT NULL,
			sync_attempts INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (order_id, account)
		)`,

		// Sync logs: the durable record of one synchronization run.
		// errors holds the ordered error entries as a JSON array.
		`CREATE TABLE IF NOT EXISTS sync_logs (
			id VARCHAR PRIMARY KEY,
			sync_type VARCHAR NOT NULL,
			account_scope VARCHAR NOT NULL,
			status VARCHAR NOT NULL,
			total_items INTEGER NOT NULL DEFAULT 0,
			processed_items INTEGER NOT NULL DEFAULT 0,
			created_items INTEGER NOT NULL DEFAULT 0,
			updated_items INTEGER NOT NULL DEFAULT 0,
			unchanged_items INTEGER NOT NULL DEFAULT 0,
			failed_items INTEGER NOT NULL DEFAULT 0,
			pages_processed INTEGER NOT NULL DEFAULT 0,
			api_requests_made INTEGER NOT NULL DEFAULT 0,
			rate_limit_hits INTEGER NOT NULL DEFAULT 0,
			dedup_discarded INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			duration_seconds DOUBLE NOT NULL DEFAULT 0,
			errors VARCHAR NOT NULL DEFAULT '[]',
			triggered_by VARCHAR NOT NULL DEFAULT ''
		)`,

		// Sync progress: ephemeral, one row per active sync log, upserted in
		// place and flagged inactive when the log terminates.
		`CREATE TABLE IF NOT EXISTS sync_progress (
			sync_log_id VARCHAR PRIMARY KEY,
			current_page INTEGER NOT NULL DEFAULT 0,
			current_item_index INTEGER NOT NULL DEFAULT 0,
			percentage_complete DOUBLE NOT NULL DEFAULT 0,
			items_per_second DOUBLE NOT NULL DEFAULT 0,
			estimated_completion TIMESTAMP,
			is_active BOOLEAN NOT NULL DEFAULT true,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sync_logs_status ON sync_logs (status)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_type_started ON sync_logs (sync_type, started_at)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	return nil
}
