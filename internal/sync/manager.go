// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

/*
manager.go - Sync Run Orchestration

One RunSync call is one sync log row from birth to terminal state. The run
claims its (sync_type, account scope) slot with a compare-and-set insert,
fetches both accounts concurrently (each worker with its own rate limiter and
circuit-breaker client), deduplicates products across accounts with primary
precedence, writes everything through the conflict strategy, and classifies
the outcome:

	completed - end of data reached everywhere, nothing skipped or failed
	partial   - data flowed but pages were skipped, records failed, or one of
	            two accounts aborted
	failed    - nothing useful happened: every account aborted before any
	            page arrived, or the run timed out

A terminal marketplace rejection (bad credentials, malformed request) aborts
only that account's pipeline; the other account still syncs.
*/
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/marketsync/internal/config"
	"github.com/tomtom215/marketsync/internal/database"
	"github.com/tomtom215/marketsync/internal/logging"
	"github.com/tomtom215/marketsync/internal/metrics"
	"github.com/tomtom215/marketsync/internal/models"
)

// maxErrorEntries bounds the error list persisted on a sync log; beyond it a
// single summary entry replaces the tail.
const maxErrorEntries = 100

// ErrAccountNotConfigured is returned when a request names the secondary
// account but no credentials for it are configured.
var ErrAccountNotConfigured = errors.New("secondary account is not configured")

// TriggerRequest is one sync invocation as received from the API or a
// scheduler. Zero-valued fields take configured defaults.
type TriggerRequest struct {
	SyncType    models.SyncType
	Scope       models.AccountScope
	Strategy    models.ConflictStrategy
	TriggeredBy string

	// ItemsPerPage overrides the configured page size for this run; zero
	// keeps the default.
	ItemsPerPage int

	// MaxPages caps how many pages each account fetches this run; zero
	// means until end of data.
	MaxPages int
}

// Manager orchestrates sync runs against the local store. One Manager serves
// all sync types; per-run state lives on the stack of RunSync.
type Manager struct {
	cfg     *config.Config
	db      *database.DB
	clients map[models.AccountType]*CircuitBreakerClient
}

// NewManager builds the manager and one circuit-breaker client per
// configured account. Clients are long-lived so breaker state survives
// across runs.
func NewManager(cfg *config.Config, db *database.DB) *Manager {
	clients := make(map[models.AccountType]*CircuitBreakerClient)
	clients[models.AccountPrimary] = NewCircuitBreakerClient(
		NewClient(&cfg.Marketplace, models.AccountPrimary, cfg.Accounts.Primary))
	if cfg.Accounts.Secondary.Configured() {
		clients[models.AccountSecondary] = NewCircuitBreakerClient(
			NewClient(&cfg.Marketplace, models.AccountSecondary, cfg.Accounts.Secondary))
	}

	return &Manager{
		cfg:     cfg,
		db:      db,
		clients: clients,
	}
}

// Ping checks marketplace connectivity and credentials for every configured
// account. Intended for startup; a failure is worth a warning, not an abort,
// since the circuit breaker handles a marketplace that comes up later.
func (m *Manager) Ping(ctx context.Context) map[models.AccountType]error {
	results := make(map[models.AccountType]error, len(m.clients))
	for account, client := range m.clients {
		results[account] = client.Ping(ctx)
	}
	return results
}

// normalize validates the request and fills defaults.
func (m *Manager) normalize(req TriggerRequest) (TriggerRequest, error) {
	if !req.SyncType.Valid() {
		return req, fmt.Errorf("invalid sync type %q", req.SyncType)
	}
	if req.Scope == "" {
		req.Scope = models.ScopeBoth
	}
	if !req.Scope.Valid() {
		return req, fmt.Errorf("invalid account scope %q", req.Scope)
	}
	if req.Strategy == "" {
		req.Strategy = models.ConflictStrategy(m.cfg.Sync.DefaultConflictStrategy)
	}
	if !req.Strategy.Valid() {
		return req, fmt.Errorf("invalid conflict strategy %q", req.Strategy)
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "api"
	}
	if req.ItemsPerPage < 0 {
		return req, fmt.Errorf("items per page must not be negative, got %d", req.ItemsPerPage)
	}
	if req.MaxPages < 0 {
		return req, fmt.Errorf("max pages must not be negative, got %d", req.MaxPages)
	}

	for _, account := range req.Scope.Accounts() {
		if _, ok := m.clients[account]; !ok {
			return req, ErrAccountNotConfigured
		}
	}
	return req, nil
}

// accountFetch is one account worker's complete output.
type accountFetch struct {
	account       models.AccountType
	result        *FetchResult
	rateLimitHits int64
	ctxErr        error
}

// Prepare validates the request and claims the exclusivity slot by creating
// the running sync log. Returns database.ErrSyncAlreadyRunning without
// creating a log when the slot is taken, and ErrAccountNotConfigured or a
// validation error for bad requests. The returned request has defaults
// filled and must be passed to Execute unchanged.
func (m *Manager) Prepare(ctx context.Context, req TriggerRequest) (*models.SyncLog, TriggerRequest, error) {
	req, err := m.normalize(req)
	if err != nil {
		return nil, req, err
	}

	log := &models.SyncLog{
		ID:           uuid.NewString(),
		SyncType:     req.SyncType,
		AccountScope: req.Scope,
		StartedAt:    time.Now().UTC(),
		TriggeredBy:  req.TriggeredBy,
	}
	if err := m.db.CreateSyncLog(ctx, log); err != nil {
		return nil, req, err
	}
	return log, req, nil
}

// RunSync executes one synchronization run to a terminal state and returns
// its finalized sync log.
func (m *Manager) RunSync(ctx context.Context, req TriggerRequest) (*models.SyncLog, error) {
	log, req, err := m.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return m.Execute(ctx, log, req)
}

// Execute drives a prepared sync run to its terminal state. The async trigger
// path calls this on its own goroutine with a fresh context.
func (m *Manager) Execute(ctx context.Context, log *models.SyncLog, req TriggerRequest) (*models.SyncLog, error) {
	metrics.SyncRunsActive.Inc()
	defer metrics.SyncRunsActive.Dec()

	logging.Info().
		Str("sync_log_id", log.ID).
		Str("sync_type", string(req.SyncType)).
		Str("scope", string(req.Scope)).
		Str("strategy", string(req.Strategy)).
		Str("triggered_by", req.TriggeredBy).
		Msg("Sync run started")

	runCtx, cancel := context.WithTimeout(ctx, m.cfg.Sync.RunTimeout)
	defer cancel()

	tracker := NewProgressTracker(m.db, log)
	tracker.Flush(runCtx)

	fetches := m.fetchAccounts(runCtx, req, tracker)

	m.applyFetches(log, fetches)

	records, decodeErrs := m.collectRecords(req, fetches)
	log.Errors = append(log.Errors, decodeErrs...)

	if req.SyncType == models.SyncTypeProducts {
		var discarded int
		records, discarded = Deduplicate(records, req.SyncType)
		log.DedupDiscarded = discarded
	}

	log.TotalItems = len(records)
	tracker.SetTotal(len(records))

	upserter := NewUpserter(m.db, req.SyncType, req.Strategy)
	stats, upsertErr := upserter.Apply(runCtx, records, func(index int) {
		tracker.OnItem(runCtx, index)
	})

	log.ProcessedItems = stats.Processed()
	log.CreatedItems = stats.Created
	log.UpdatedItems = stats.Updated
	log.UnchangedItems = stats.Unchanged
	log.FailedItems = stats.Failed
	log.Errors = append(log.Errors, stats.Errors...)

	timedOut := upsertErr != nil || runCtx.Err() != nil
	for _, f := range fetches {
		if f.ctxErr != nil {
			timedOut = true
		}
	}

	log.Status = classify(log, fetches, stats, timedOut)
	if timedOut {
		log.Errors = append(log.Errors, models.SyncError{
			Kind:    models.ErrorKindTimeout,
			Message: "sync run exceeded its time budget",
		})
	}
	log.Errors = truncateErrors(log.Errors)

	// Finalize with a background-derived context so a canceled run still
	// reaches a terminal state instead of leaving a row for the reaper.
	finalizeCtx, finalizeCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer finalizeCancel()
	if err := m.db.FinalizeSyncLog(finalizeCtx, log); err != nil {
		logging.Error().Err(err).Str("sync_log_id", log.ID).Msg("Failed to finalize sync log")
		return log, err
	}

	duration := time.Since(log.StartedAt)
	metrics.RecordSyncRun(string(req.SyncType), string(req.Scope), string(log.Status), duration)

	logging.Info().
		Str("sync_log_id", log.ID).
		Str("status", string(log.Status)).
		Int("total", log.TotalItems).
		Int("created", log.CreatedItems).
		Int("updated", log.UpdatedItems).
		Int("unchanged", log.UnchangedItems).
		Int("failed", log.FailedItems).
		Int("pages", log.PagesProcessed).
		Int("dedup_discarded", log.DedupDiscarded).
		Dur("duration", duration).
		Msg("Sync run finished")

	return log, nil
}

// fetchAccounts runs one fetch worker per account in scope, each with its own
// rate limiter, and waits for all of them.
func (m *Manager) fetchAccounts(ctx context.Context, req TriggerRequest, tracker *ProgressTracker) []accountFetch {
	accounts := req.Scope.Accounts()
	results := make(chan accountFetch, len(accounts))

	for _, account := range accounts {
		go func(account models.AccountType) {
			limiter := NewRateLimiter(account, req.SyncType, &m.cfg.RateLimits)
			fetcher := NewFetcher(m.clients[account], limiter, req.SyncType, &m.cfg.Sync, req.ItemsPerPage, req.MaxPages)

			result, err := fetcher.FetchAll(ctx, func(page, pageItems int) {
				tracker.OnPage(ctx, page, pageItems)
			})
			results <- accountFetch{
				account:       account,
				result:        result,
				rateLimitHits: limiter.Waits(),
				ctxErr:        err,
			}
		}(account)
	}

	fetches := make([]accountFetch, 0, len(accounts))
	for range accounts {
		fetches = append(fetches, <-results)
	}
	return fetches
}

// applyFetches folds the fetch-phase outcomes into the sync log's counters
// and error list. Pages are not summed here; the progress tracker already
// counted each page as it arrived.
func (m *Manager) applyFetches(log *models.SyncLog, fetches []accountFetch) {
	for _, f := range fetches {
		log.APIRequestsMade += f.result.APIRequests
		log.RateLimitHits += int(f.rateLimitHits)

		for _, page := range f.result.SkippedPages {
			log.Errors = append(log.Errors, models.SyncError{
				Page:    page,
				Account: f.account,
				Kind:    models.ErrorKindPageSkipped,
				Message: fmt.Sprintf("page %d skipped after %d attempts", page, m.cfg.Sync.RetryAttempts),
			})
		}
		if f.result.BreakerTripped {
			log.Errors = append(log.Errors, models.SyncError{
				Account: f.account,
				Kind:    models.ErrorKindCircuitBreaker,
				Message: fmt.Sprintf("fetch ended early after %d consecutive skipped pages", m.cfg.Sync.MaxConsecutiveSkips),
			})
		}
		if f.result.FatalErr != nil {
			log.Errors = append(log.Errors, models.SyncError{
				Account: f.account,
				Kind:    models.ErrorKindFatal,
				Message: f.result.FatalErr.Error(),
			})
		}
	}
}

// collectRecords decodes every account's raw items into tagged records.
func (m *Manager) collectRecords(req TriggerRequest, fetches []accountFetch) ([]models.RemoteRecord, []models.SyncError) {
	var records []models.RemoteRecord
	var errs []models.SyncError

	for _, f := range fetches {
		decoded, decodeErrs := decodeRecords(f.account, req.SyncType, f.result.Items)
		records = append(records, decoded...)
		errs = append(errs, decodeErrs...)
	}
	return records, errs
}

// classify derives the terminal status from everything that happened.
func classify(log *models.SyncLog, fetches []accountFetch, stats *UpsertStats, timedOut bool) models.SyncStatus {
	if timedOut {
		return models.SyncStatusFailed
	}

	fatalAccounts := 0
	degraded := false
	for _, f := range fetches {
		if f.result.FatalErr != nil {
			fatalAccounts++
		}
		if len(f.result.SkippedPages) > 0 || f.result.BreakerTripped {
			degraded = true
		}
	}

	if fatalAccounts == len(fetches) && log.PagesProcessed == 0 {
		return models.SyncStatusFailed
	}
	if fatalAccounts > 0 || degraded || stats.Failed > 0 || len(log.Errors) > 0 {
		return models.SyncStatusPartial
	}
	return models.SyncStatusCompleted
}

// truncateErrors caps the persisted error list, replacing the tail with one
// summary entry.
func truncateErrors(errs []models.SyncError) []models.SyncError {
	if len(errs) <= maxErrorEntries {
		return errs
	}
	dropped := len(errs) - maxErrorEntries
	truncated := append([]models.SyncError{}, errs[:maxErrorEntries]...)
	return append(truncated, models.SyncError{
		Kind:    models.ErrorKindRecordFailed,
		Message: fmt.Sprintf("%d further error entries truncated", dropped),
	})
}
