// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

package database

import (
	"errors"
	"strings"
)

// ErrSyncAlreadyRunning is returned when a sync request targets a
// (sync_type, account) slot that already has a running sync log.
var ErrSyncAlreadyRunning = errors.New("sync already in progress for this sync type and account")

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// isConstraintViolation reports whether an error is a uniqueness or other
// constraint violation rather than a connection-level failure. DuckDB does
// not expose typed driver errors, so this matches on the message.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "primary key")
}

// isTransactionConflict reports whether an error is a serialization conflict
// between concurrent writers, which is safe to retry.
func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "conflict") ||
		strings.Contains(msg, "transaction")
}
