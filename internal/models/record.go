// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// RemoteRecord is one raw decoded item from a marketplace page, tagged with
// the account it was fetched from. DedupKey is the SKU for products and the
// remote order id for orders; orders are never deduplicated across accounts
// because each account's orders are disjoint.
type RemoteRecord struct {
	Account  AccountType
	DedupKey string
	Payload  json.RawMessage
}

// RemoteProduct is the decoded shape of one product/offer item as returned by
// the marketplace read endpoint. Unknown fields are preserved nowhere; the
// local store is authoritative for user-only fields.
type RemoteProduct struct {
	SKU        string   `json:"sku"`
	Name       string   `json:"name"`
	Brand      string   `json:"brand"`
	Category   string   `json:"category"`
	Barcode    string   `json:"barcode"`
	Price      float64  `json:"price"`
	OldPrice   float64  `json:"oldPrice"`
	Stock      int      `json:"stock"`
	ModifiedAt *DateRFC `json:"modifiedAt,omitempty"`
}

// RemoteOrder is the decoded shape of one order item.
type RemoteOrder struct {
	OrderID    string   `json:"orderId"`
	Status     string   `json:"status"`
	Total      float64  `json:"total"`
	ItemsCount int      `json:"itemsCount"`
	CreatedAt  *DateRFC `json:"createdAt,omitempty"`
	ModifiedAt *DateRFC `json:"modifiedAt,omitempty"`
}

// DateRFC unmarshals marketplace timestamps that arrive either as RFC 3339
// strings or as "YYYY-MM-DD HH:MM:SS" without a zone.
type DateRFC struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *DateRFC) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d DateRFC) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(d.Format(time.RFC3339))
}

// Product is a persisted local product row, keyed by (sku, account). No two
// rows may share the same SKU and account; that constraint is the anchor for
// idempotent upserts.
type Product struct {
	SKU      string      `json:"sku"`
	Account  AccountType `json:"account"`
	Name     string      `json:"name"`
	Brand    string      `json:"brand"`
	Category string      `json:"category"`
	Barcode  string      `json:"barcode"`
	Price    float64     `json:"price"`
	OldPrice float64     `json:"old_price"`
	Stock    int         `json:"stock"`

	// Notes is user-owned and never overwritten by sync.
	Notes string `json:"notes"`

	LastSyncedAt time.Time `json:"last_synced_at"`
	SyncAttempts int       `json:"sync_attempts"`
	CreatedAt    time.Time `json:"created_at"`
}

// Order is a persisted local order row, keyed by (order_id, account).
type Order struct {
	OrderID    string      `json:"order_id"`
	Account    AccountType `json:"account"`
	Status     string      `json:"status"`
	Total      float64     `json:"total"`
	ItemsCount int         `json:"items_count"`
	PlacedAt   *time.Time  `json:"placed_at,omitempty"`

	LastSyncedAt time.Time `json:"last_synced_at"`
	SyncAttempts int       `json:"sync_attempts"`
	CreatedAt    time.Time `json:"created_at"`
}

// UpsertResult classifies the outcome of one record upsert.
type UpsertResult string

// Upsert outcomes.
const (
	UpsertCreated   UpsertResult = "created"
	UpsertUpdated   UpsertResult = "updated"
	UpsertUnchanged UpsertResult = "unchanged"
	UpsertFailed    UpsertResult = "failed"
)
