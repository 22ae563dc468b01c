// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

/*
client.go - Marketplace Read API Client

All entity kinds are read through the same contract: POST {base}/{entity}/read
with a JSON body of {"currentPage": N, "itemsPerPage": M} and HTTP Basic
authentication. The response carries a results array; an empty array is the
only end-of-data signal, there is no total count or next-page cursor.

Errors are classified, not thrown away: 429 and 5xx (and transport timeouts)
are retryable, any other 4xx is terminal for the account's pipeline.
*/
package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/marketsync/internal/config"
	"github.com/tomtom215/marketsync/internal/metrics"
	"github.com/tomtom215/marketsync/internal/models"
)

// maxErrorBodyBytes bounds how much of an error response is kept for logs.
const maxErrorBodyBytes = 2048

// APIError is a non-2xx marketplace response.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("marketplace API error: %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("marketplace API error: %s", e.Status)
}

// Retryable reports whether the request may be retried: rate limiting and
// server-side failures are transient, other client errors are not.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Terminal reports whether the error should abort the account's pipeline
// outright (bad credentials, malformed request).
func (e *APIError) Terminal() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// isRetryable classifies any fetch error: tagged API errors by status code,
// transport errors by whether they are timeouts. Context cancellation is
// never retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	// Connection-level failures (refused, reset) arrive as plain url.Errors.
	return true
}

// isTerminal reports whether an error should abort the account's pipeline.
func isTerminal(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Terminal()
}

// Client reads entity pages from the marketplace API on behalf of one seller
// account.
type Client struct {
	baseURL    string
	account    models.AccountType
	clientID   string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a read client for one account.
func NewClient(cfg *config.MarketplaceConfig, account models.AccountType, creds config.AccountConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		account:  account,
		clientID: creds.ClientID,
		apiKey:   creds.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Account returns the seller account this client authenticates as.
func (c *Client) Account() models.AccountType {
	return c.account
}

// entityPath maps a sync type to its read endpoint segment.
func entityPath(syncType models.SyncType) string {
	switch syncType {
	case models.SyncTypeProducts:
		return "product"
	case models.SyncTypeOffers:
		return "offer"
	case models.SyncTypeOrders:
		return "order"
	}
	return string(syncType)
}

type pageRequest struct {
	CurrentPage  int `json:"currentPage"`
	ItemsPerPage int `json:"itemsPerPage"`
}

type pageResponse struct {
	Results []json.RawMessage `json:"results"`
}

// ReadPage fetches one page of the given entity kind. An empty slice with a
// nil error means the marketplace has no more data; that is the only
// end-of-data signal the API provides.
func (c *Client) ReadPage(ctx context.Context, syncType models.SyncType, page, itemsPerPage int) ([]json.RawMessage, error) {
	class := string(classFor(syncType))

	body, err := json.Marshal(pageRequest{CurrentPage: page, ItemsPerPage: itemsPerPage})
	if err != nil {
		return nil, fmt.Errorf("failed to encode page request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/read", c.baseURL, entityPath(syncType))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.clientID, c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.APIRequestDuration.WithLabelValues(string(c.account), class).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(string(c.account), class, "retryable").Inc()
		return nil, fmt.Errorf("marketplace request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(raw)),
		}
		outcome := "terminal"
		if apiErr.Retryable() {
			outcome = "retryable"
		}
		metrics.APIRequestsTotal.WithLabelValues(string(c.account), class, outcome).Inc()
		return nil, apiErr
	}

	var decoded pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		metrics.APIRequestsTotal.WithLabelValues(string(c.account), class, "retryable").Inc()
		return nil, fmt.Errorf("failed to decode page response: %w", err)
	}

	metrics.APIRequestsTotal.WithLabelValues(string(c.account), class, "success").Inc()
	return decoded.Results, nil
}

// Ping verifies connectivity and credentials with a minimal one-item read.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ReadPage(ctx, models.SyncTypeProducts, 1, 1)
	return err
}
