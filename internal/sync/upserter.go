// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

package sync

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/marketsync/internal/database"
	"github.com/tomtom215/marketsync/internal/logging"
	"github.com/tomtom215/marketsync/internal/metrics"
	"github.com/tomtom215/marketsync/internal/models"
)

// UpsertStats aggregates per-record outcomes of the write phase.
type UpsertStats struct {
	Created   int
	Updated   int
	Unchanged int
	Failed    int
	Errors    []models.SyncError
}

// Processed is the number of records that went through the store, whatever
// the outcome.
func (s *UpsertStats) Processed() int {
	return s.Created + s.Updated + s.Unchanged + s.Failed
}

// Upserter writes fetched records into the local store under one conflict
// strategy. Failures are per-record: a record that cannot be decoded or
// written is counted and the stream continues.
type Upserter struct {
	db       *database.DB
	syncType models.SyncType
	strategy models.ConflictStrategy
}

// NewUpserter builds an upserter for one sync run.
func NewUpserter(db *database.DB, syncType models.SyncType, strategy models.ConflictStrategy) *Upserter {
	return &Upserter{db: db, syncType: syncType, strategy: strategy}
}

// Apply writes every record, invoking onItem with the 0-based index after
// each one so the caller can track live progress. Stops early only on
// context cancellation.
func (u *Upserter) Apply(ctx context.Context, records []models.RemoteRecord, onItem func(index int)) (*UpsertStats, error) {
	stats := &UpsertStats{}

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		result, err := u.applyOne(ctx, rec)
		metrics.UpsertResults.WithLabelValues(string(u.syncType), string(result)).Inc()

		switch result {
		case models.UpsertCreated:
			stats.Created++
		case models.UpsertUpdated:
			stats.Updated++
		case models.UpsertUnchanged:
			stats.Unchanged++
		case models.UpsertFailed:
			stats.Failed++
			stats.Errors = append(stats.Errors, models.SyncError{
				Account: rec.Account,
				Kind:    models.ErrorKindRecordFailed,
				Message: err.Error(),
			})
			logging.Warn().
				Str("sync_type", string(u.syncType)).
				Str("account", string(rec.Account)).
				Str("key", rec.DedupKey).
				Err(err).
				Msg("Record upsert failed")
		}

		if onItem != nil {
			onItem(i)
		}
	}

	return stats, nil
}

func (u *Upserter) applyOne(ctx context.Context, rec models.RemoteRecord) (models.UpsertResult, error) {
	if u.syncType == models.SyncTypeOrders {
		return u.applyOrder(ctx, rec)
	}
	return u.applyProduct(ctx, rec)
}

func (u *Upserter) applyProduct(ctx context.Context, rec models.RemoteRecord) (models.UpsertResult, error) {
	var remote models.RemoteProduct
	if err := json.Unmarshal(rec.Payload, &remote); err != nil {
		return models.UpsertFailed, err
	}

	product := &models.Product{
		SKU:      remote.SKU,
		Account:  rec.Account,
		Name:     remote.Name,
		Brand:    remote.Brand,
		Category: remote.Category,
		Barcode:  remote.Barcode,
		Price:    remote.Price,
		OldPrice: remote.OldPrice,
		Stock:    remote.Stock,
	}

	return u.db.UpsertProduct(ctx, product, u.strategy, remoteTimestamp(remote.ModifiedAt))
}

func (u *Upserter) applyOrder(ctx context.Context, rec models.RemoteRecord) (models.UpsertResult, error) {
	var remote models.RemoteOrder
	if err := json.Unmarshal(rec.Payload, &remote); err != nil {
		return models.UpsertFailed, err
	}

	order := &models.Order{
		OrderID:    remote.OrderID,
		Account:    rec.Account,
		Status:     remote.Status,
		Total:      remote.Total,
		ItemsCount: remote.ItemsCount,
		PlacedAt:   remoteTimestamp(remote.CreatedAt),
	}

	return u.db.UpsertOrder(ctx, order, u.strategy, remoteTimestamp(remote.ModifiedAt))
}

// remoteTimestamp converts an optional marketplace timestamp to a plain
// *time.Time, treating the zero value as absent.
func remoteTimestamp(d *models.DateRFC) *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}
