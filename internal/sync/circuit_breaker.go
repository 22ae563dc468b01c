// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

package sync

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/goccy/go-json"

	"github.com/tomtom215/marketsync/internal/logging"
	"github.com/tomtom215/marketsync/internal/metrics"
	"github.com/tomtom215/marketsync/internal/models"
)

// CircuitBreakerClient wraps a marketplace Client with an API-health circuit
// breaker, so a marketplace outage stops producing doomed requests instead of
// burning the whole retry budget page after page.
//
// This breaker watches request health across the account's connection. It is
// separate from the consecutive-skip pagination breaker in the fetcher, which
// watches data-level failures within a single run.
//
// The breaker uses real time (via sony/gobreaker) for its interval and
// timeout calculations. Unit tests exercise the wrapped client directly.
type CircuitBreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[[]json.RawMessage]
	name   string
}

// NewCircuitBreakerClient wraps the client for one account.
// Breaker settings: opens after a 60% failure rate over at least 10 requests,
// allows 3 probes in half-open, waits 30 seconds before probing again. The
// recovery timeout matches the retry policy's maximum backoff so an opened
// breaker and a backing-off fetcher converge on the same pace.
func NewCircuitBreakerClient(client *Client) *CircuitBreakerClient {
	cbName := "marketplace-api-" + string(client.Account())

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[[]json.RawMessage](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6
			if shouldTrip {
				logging.Warn().
					Str("breaker", cbName).
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		// Terminal 4xx responses are the marketplace telling us the request
		// itself is wrong; they don't indicate API ill-health and must not
		// open the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || isTerminal(err)
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := breakerStateString(from)
			toStr := breakerStateString(to)
			logging.Info().
				Str("breaker", name).
				Str("from", fromStr).
				Str("to", toStr).
				Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &CircuitBreakerClient{
		client: client,
		cb:     cb,
		name:   cbName,
	}
}

// Account returns the seller account of the wrapped client.
func (cbc *CircuitBreakerClient) Account() models.AccountType {
	return cbc.client.Account()
}

// ReadPage fetches one page through the breaker. When the circuit is open the
// request is rejected immediately with gobreaker.ErrOpenState, which the
// retry policy treats as retryable.
func (cbc *CircuitBreakerClient) ReadPage(ctx context.Context, syncType models.SyncType, page, itemsPerPage int) ([]json.RawMessage, error) {
	results, err := cbc.cb.Execute(func() ([]json.RawMessage, error) {
		return cbc.client.ReadPage(ctx, syncType, page, itemsPerPage)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "rejected").Inc()
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "failure").Inc()
		}
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "success").Inc()
	return results, nil
}

// Ping checks connectivity and credentials through the wrapped client,
// bypassing the breaker so a startup probe never counts against it.
func (cbc *CircuitBreakerClient) Ping(ctx context.Context) error {
	return cbc.client.Ping(ctx)
}

// State exposes the breaker state for health reporting.
func (cbc *CircuitBreakerClient) State() gobreaker.State {
	return cbc.cb.State()
}

func breakerStateString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	}
	return "unknown"
}

func breakerStateFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return -1
}
