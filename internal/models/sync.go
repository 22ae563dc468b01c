// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

package models

import (
	"time"
)

// SyncType identifies which entity kind a sync run covers.
type SyncType string

// Supported sync types.
const (
	SyncTypeProducts SyncType = "products"
	SyncTypeOffers   SyncType = "offers"
	SyncTypeOrders   SyncType = "orders"
)

// Valid reports whether the sync type is one of the supported values.
func (s SyncType) Valid() bool {
	switch s {
	case SyncTypeProducts, SyncTypeOffers, SyncTypeOrders:
		return true
	}
	return false
}

// AccountType identifies one of the two seller accounts synced against the
// same local store.
type AccountType string

// Seller accounts. Rate limit budgets and natural-key uniqueness are scoped
// per account.
const (
	AccountPrimary   AccountType = "primary"
	AccountSecondary AccountType = "secondary"
)

// AccountScope selects which accounts a sync request covers.
type AccountScope string

// Supported account scopes.
const (
	ScopePrimary   AccountScope = "primary"
	ScopeSecondary AccountScope = "secondary"
	ScopeBoth      AccountScope = "both"
)

// Accounts resolves the scope to the concrete account list.
// ScopeBoth resolves to [primary, secondary].
func (s AccountScope) Accounts() []AccountType {
	switch s {
	case ScopePrimary:
		return []AccountType{AccountPrimary}
	case ScopeSecondary:
		return []AccountType{AccountSecondary}
	case ScopeBoth:
		return []AccountType{AccountPrimary, AccountSecondary}
	}
	return nil
}

// Valid reports whether the scope is one of the supported values.
func (s AccountScope) Valid() bool {
	return len(s.Accounts()) > 0
}

// SyncStatus is the lifecycle state of a sync log.
// State machine: running -> {completed, failed, partial}. Terminal states
// never transition again.
type SyncStatus string

// Sync log states.
const (
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
	SyncStatusPartial   SyncStatus = "partial"
)

// Terminal reports whether the status is a terminal state.
func (s SyncStatus) Terminal() bool {
	return s == SyncStatusCompleted || s == SyncStatusFailed || s == SyncStatusPartial
}

// ConflictStrategy decides whether an incoming remote record overwrites an
// existing local one during upsert.
type ConflictStrategy string

// Conflict resolution strategies.
//
//   - remote_priority: always overwrite local fields with incoming data,
//     except user-only fields such as manual notes.
//   - local_priority: only fill fields that are currently empty locally.
//   - newest_wins: overwrite only if the incoming modification timestamp is
//     newer than the local last_synced_at. Records without an incoming
//     timestamp fall back to remote_priority.
const (
	StrategyRemotePriority ConflictStrategy = "remote_priority"
	StrategyLocalPriority  ConflictStrategy = "local_priority"
	StrategyNewestWins     ConflictStrategy = "newest_wins"
)

// Valid reports whether the strategy is one of the supported values.
func (s ConflictStrategy) Valid() bool {
	switch s {
	case StrategyRemotePriority, StrategyLocalPriority, StrategyNewestWins:
		return true
	}
	return false
}

// SyncErrorKind classifies an error entry on a sync log.
type SyncErrorKind string

// Error entry kinds, from least to most severe.
const (
	ErrorKindPageSkipped    SyncErrorKind = "page_skipped"
	ErrorKindRecordFailed   SyncErrorKind = "record_failed"
	ErrorKindCircuitBreaker SyncErrorKind = "circuit_breaker"
	ErrorKindFatal          SyncErrorKind = "fatal"
	ErrorKindTimeout        SyncErrorKind = "timeout"
)

// SyncError is one ordered error entry on a sync log. Page is zero for errors
// not tied to a specific page (setup failures, reaper entries).
type SyncError struct {
	Page    int           `json:"page,omitempty"`
	Account AccountType   `json:"account,omitempty"`
	Kind    SyncErrorKind `json:"kind"`
	Message string        `json:"message"`
}

// SyncLog is the durable record of one synchronization run. One row is
// created per invocation when the run starts and finalized when it reaches a
// terminal state (or when the stuck-sync reaper terminates it).
type SyncLog struct {
	ID           string       `json:"id"`
	SyncType     SyncType     `json:"sync_type"`
	AccountScope AccountScope `json:"account_scope"`
	Status       SyncStatus   `json:"status"`

	TotalItems     int `json:"total_items"`
	ProcessedItems int `json:"processed_items"`
	CreatedItems   int `json:"created_items"`
	UpdatedItems   int `json:"updated_items"`
	UnchangedItems int `json:"unchanged_items"`
	FailedItems    int `json:"failed_items"`

	PagesProcessed  int `json:"pages_processed"`
	APIRequestsMade int `json:"api_requests_made"`
	RateLimitHits   int `json:"rate_limit_hits"`
	DedupDiscarded  int `json:"dedup_discarded"`

	StartedAt       time.Time   `json:"started_at"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	DurationSeconds float64     `json:"duration_seconds"`
	Errors          []SyncError `json:"errors,omitempty"`
	TriggeredBy     string      `json:"triggered_by"`
}

// SyncProgress is the ephemeral, frequently-updated record of an in-flight
// run. One row exists per active sync log, upserted in place, and is flagged
// inactive once the log reaches a terminal state.
type SyncProgress struct {
	SyncLogID           string     `json:"sync_log_id"`
	CurrentPage         int        `json:"current_page"`
	CurrentItemIndex    int        `json:"current_item_index"`
	PercentageComplete  float64    `json:"percentage_complete"`
	ItemsPerSecond      float64    `json:"items_per_second"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	IsActive            bool       `json:"is_active"`
	UpdatedAt           time.Time  `json:"updated_at"`
}
