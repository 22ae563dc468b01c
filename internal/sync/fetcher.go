// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

/*
fetcher.go - Paginated Fetch with Retry and Skip Semantics

Pages are read sequentially from page 1 until the marketplace returns an
empty results array. Each page gets a bounded retry budget with exponential
backoff; a page that exhausts its budget is SKIPPED, not fatal, and the fetch
moves on. Too many consecutive skips trip the pagination breaker and end the
account's fetch early with whatever was collected.

Only a terminal API response (a 4xx other than 429) or context cancellation
aborts the fetch outright.
*/
package sync

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/marketsync/internal/config"
	"github.com/tomtom215/marketsync/internal/logging"
	"github.com/tomtom215/marketsync/internal/metrics"
	"github.com/tomtom215/marketsync/internal/models"
)

// defaultMaxPages is a hard safety stop against a server that never returns
// an empty page.
const defaultMaxPages = 10000

// pageReader reads one page of one entity kind. Implemented by Client and
// CircuitBreakerClient.
type pageReader interface {
	Account() models.AccountType
	ReadPage(ctx context.Context, syncType models.SyncType, page, itemsPerPage int) ([]json.RawMessage, error)
}

// pageOutcomeKind tags the result of fetching one page. Failure is data, not
// control flow: a skipped page is an ordinary outcome the caller records and
// moves past.
type pageOutcomeKind int

const (
	pageItems pageOutcomeKind = iota
	pageSkipped
	pageFatal
)

type pageOutcome struct {
	kind  pageOutcomeKind
	items []json.RawMessage
	err   error
}

// FetchResult is everything one account's fetch produced, including the
// failures. SkippedPages and FatalErr feed the sync log's error list;
// APIRequests counts every attempt, not just successes.
type FetchResult struct {
	Items          []json.RawMessage
	PagesProcessed int
	APIRequests    int
	SkippedPages   []int
	BreakerTripped bool
	FatalErr       error
}

// Failed reports whether the fetch aborted before reaching end of data.
func (r *FetchResult) Failed() bool {
	return r.FatalErr != nil
}

// Fetcher drives the paginated read of one entity kind for one account.
type Fetcher struct {
	reader  pageReader
	limiter *RateLimiter

	syncType            models.SyncType
	itemsPerPage        int
	maxPages            int
	retryAttempts       int
	retryBaseDelay      time.Duration
	retryMaxDelay       time.Duration
	maxConsecutiveSkips int
}

// NewFetcher builds a fetcher for one account and entity kind. itemsPerPage
// and maxPages are per-run overrides; zero takes the configured page size and
// the safety page limit respectively.
func NewFetcher(reader pageReader, limiter *RateLimiter, syncType models.SyncType, cfg *config.SyncConfig, itemsPerPage, maxPages int) *Fetcher {
	if itemsPerPage <= 0 {
		itemsPerPage = cfg.ItemsPerPage
	}
	if maxPages <= 0 || maxPages > defaultMaxPages {
		maxPages = defaultMaxPages
	}
	return &Fetcher{
		reader:              reader,
		limiter:             limiter,
		syncType:            syncType,
		itemsPerPage:        itemsPerPage,
		maxPages:            maxPages,
		retryAttempts:       cfg.RetryAttempts,
		retryBaseDelay:      cfg.RetryBaseDelay,
		retryMaxDelay:       cfg.RetryMaxDelay,
		maxConsecutiveSkips: cfg.MaxConsecutiveSkips,
	}
}

// backoffDelay computes the exponential backoff before retry n (0-based):
// min(base * 2^n, max).
func (f *Fetcher) backoffDelay(attempt int) time.Duration {
	delay := f.retryBaseDelay << uint(attempt)
	if delay > f.retryMaxDelay || delay <= 0 {
		return f.retryMaxDelay
	}
	return delay
}

// FetchAll reads pages until end of data, a tripped pagination breaker, or a
// fatal error. onPage, when non-nil, is invoked after every successfully
// fetched page with the page number and the number of items that page
// carried, so the caller can track live progress. The returned error is
// non-nil only for context cancellation; API failures are reported inside the
// result.
func (f *Fetcher) FetchAll(ctx context.Context, onPage func(page, pageItems int)) (*FetchResult, error) {
	result := &FetchResult{}
	account := f.reader.Account()
	consecutiveSkips := 0

	for page := 1; page <= f.maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		outcome := f.fetchPage(ctx, page, &result.APIRequests)
		switch outcome.kind {
		case pageItems:
			if len(outcome.items) == 0 {
				// Empty results array is the end-of-data signal.
				return result, nil
			}
			result.Items = append(result.Items, outcome.items...)
			result.PagesProcessed++
			consecutiveSkips = 0
			metrics.PagesFetched.WithLabelValues(string(account), string(f.syncType)).Inc()
			if onPage != nil {
				onPage(page, len(outcome.items))
			}

		case pageSkipped:
			result.SkippedPages = append(result.SkippedPages, page)
			consecutiveSkips++
			metrics.PagesSkipped.WithLabelValues(string(account), string(f.syncType)).Inc()
			logging.Warn().
				Str("account", string(account)).
				Str("sync_type", string(f.syncType)).
				Int("page", page).
				Err(outcome.err).
				Msg("Page skipped after exhausting retries")

			if consecutiveSkips >= f.maxConsecutiveSkips {
				result.BreakerTripped = true
				metrics.PaginationBreakerTrips.WithLabelValues(string(account), string(f.syncType)).Inc()
				logging.Error().
					Str("account", string(account)).
					Str("sync_type", string(f.syncType)).
					Int("consecutive_skips", consecutiveSkips).
					Msg("Pagination breaker tripped, ending fetch early")
				return result, nil
			}

		case pageFatal:
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.FatalErr = outcome.err
			return result, nil
		}
	}

	if f.maxPages == defaultMaxPages {
		logging.Error().
			Str("account", string(account)).
			Str("sync_type", string(f.syncType)).
			Int("max_pages", f.maxPages).
			Msg("Fetch hit the page safety limit without an empty page")
	}
	return result, nil
}

// fetchPage attempts one page up to the retry budget. Every attempt waits for
// rate limit capacity first; backoff between attempts is exponential and
// capped.
func (f *Fetcher) fetchPage(ctx context.Context, page int, requests *int) pageOutcome {
	var lastErr error

	for attempt := 0; attempt < f.retryAttempts; attempt++ {
		if err := f.limiter.Acquire(ctx); err != nil {
			return pageOutcome{kind: pageFatal, err: err}
		}

		*requests++
		items, err := f.reader.ReadPage(ctx, f.syncType, page, f.itemsPerPage)
		if err == nil {
			return pageOutcome{kind: pageItems, items: items}
		}
		lastErr = err

		if isTerminal(err) {
			return pageOutcome{kind: pageFatal, err: err}
		}
		if !isRetryable(err) {
			// Context cancellation, surfaced as fatal by the caller.
			return pageOutcome{kind: pageFatal, err: err}
		}

		if attempt < f.retryAttempts-1 {
			delay := f.backoffDelay(attempt)
			logging.Debug().
				Str("account", string(f.reader.Account())).
				Int("page", page).
				Int("attempt", attempt+1).
				Dur("backoff", delay).
				Err(err).
				Msg("Page fetch failed, backing off")
			if err := sleepCtx(ctx, delay); err != nil {
				return pageOutcome{kind: pageFatal, err: err}
			}
		}
	}

	return pageOutcome{kind: pageSkipped, err: lastErr}
}
