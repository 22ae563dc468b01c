// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

package sync

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/marketsync/internal/metrics"
	"github.com/tomtom215/marketsync/internal/models"
)

// decodeRecords turns one account's raw page items into tagged records with
// their dedup key extracted. Items that don't decode or that carry no natural
// key are dropped and counted; one bad record never stops the stream.
func decodeRecords(account models.AccountType, syncType models.SyncType, items []json.RawMessage) ([]models.RemoteRecord, []models.SyncError) {
	records := make([]models.RemoteRecord, 0, len(items))
	var errs []models.SyncError

	for _, item := range items {
		key, err := dedupKey(syncType, item)
		if err != nil {
			errs = append(errs, models.SyncError{
				Account: account,
				Kind:    models.ErrorKindRecordFailed,
				Message: err.Error(),
			})
			continue
		}
		records = append(records, models.RemoteRecord{
			Account:  account,
			DedupKey: key,
			Payload:  item,
		})
	}
	return records, errs
}

// dedupKey extracts the natural key of one raw item: the SKU for products
// and offers, the remote order id for orders.
func dedupKey(syncType models.SyncType, item json.RawMessage) (string, error) {
	if syncType == models.SyncTypeOrders {
		var o models.RemoteOrder
		if err := json.Unmarshal(item, &o); err != nil {
			return "", fmt.Errorf("undecodable order record: %w", err)
		}
		if o.OrderID == "" {
			return "", fmt.Errorf("order record missing orderId")
		}
		return o.OrderID, nil
	}

	var p models.RemoteProduct
	if err := json.Unmarshal(item, &p); err != nil {
		return "", fmt.Errorf("undecodable product record: %w", err)
	}
	if p.SKU == "" {
		return "", fmt.Errorf("product record missing sku")
	}
	return p.SKU, nil
}

// Deduplicate collapses records sharing a dedup key. The primary account's
// copy always wins over the secondary's regardless of arrival order; within
// one account the first occurrence wins. Returns the surviving records in
// first-seen key order plus the number discarded.
//
// Only products pass through here: offers and orders are keyed by ids that
// are disjoint per account, and both copies are kept as separate rows.
func Deduplicate(records []models.RemoteRecord, syncType models.SyncType) ([]models.RemoteRecord, int) {
	kept := make([]models.RemoteRecord, 0, len(records))
	index := make(map[string]int, len(records))
	discarded := 0

	for _, rec := range records {
		at, seen := index[rec.DedupKey]
		if !seen {
			index[rec.DedupKey] = len(kept)
			kept = append(kept, rec)
			continue
		}

		discarded++
		// A primary copy displaces a previously kept secondary one.
		if rec.Account == models.AccountPrimary && kept[at].Account == models.AccountSecondary {
			kept[at] = rec
		}
	}

	if discarded > 0 {
		metrics.DedupDiscards.WithLabelValues(string(syncType)).Add(float64(discarded))
	}
	return kept, discarded
}
