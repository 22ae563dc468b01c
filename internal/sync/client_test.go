// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

package sync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/marketsync/internal/config"
	"github.com/tomtom215/marketsync/internal/models"
)

func testClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	return NewClient(
		&config.MarketplaceConfig{BaseURL: serverURL, Timeout: 5 * time.Second},
		models.AccountPrimary,
		config.AccountConfig{ClientID: "client-1", APIKey: "key-1"},
	)
}

// pageBody builds a read response with n dummy product items.
func pageBody(n int) []byte {
	items := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, map[string]interface{}{"sku": "SKU-" + string(rune('A'+i)), "name": "Item"})
	}
	body, _ := json.Marshal(map[string]interface{}{"results": items})
	return body
}

func TestReadPageRequestShape(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody pageRequest
	var gotUser, gotPass string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotUser, gotPass, _ = r.BasicAuth()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write(pageBody(2))
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	items, err := client.ReadPage(context.Background(), models.SyncTypeProducts, 3, 50)
	checkNoError(t, "ReadPage", err)

	checkIntEqual(t, "items", len(items), 2)
	checkStringEqual(t, "method", gotMethod, http.MethodPost)
	checkStringEqual(t, "path", gotPath, "/product/read")
	checkStringEqual(t, "basic auth user", gotUser, "client-1")
	checkStringEqual(t, "basic auth password", gotPass, "key-1")
	checkIntEqual(t, "currentPage", gotBody.CurrentPage, 3)
	checkIntEqual(t, "itemsPerPage", gotBody.ItemsPerPage, 50)
}

func TestReadPageEntityPaths(t *testing.T) {
	tests := []struct {
		syncType models.SyncType
		wantPath string
	}{
		{models.SyncTypeProducts, "/product/read"},
		{models.SyncTypeOffers, "/offer/read"},
		{models.SyncTypeOrders, "/order/read"},
	}

	for _, tt := range tests {
		t.Run(string(tt.syncType), func(t *testing.T) {
			var gotPath string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				_, _ = w.Write([]byte(`{"results":[]}`))
			}))
			defer server.Close()

			_, err := testClient(t, server.URL).ReadPage(context.Background(), tt.syncType, 1, 10)
			checkNoError(t, "ReadPage", err)
			checkStringEqual(t, "path", gotPath, tt.wantPath)
		})
	}
}

func TestReadPageEmptyResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	items, err := testClient(t, server.URL).ReadPage(context.Background(), models.SyncTypeProducts, 1, 10)
	checkNoError(t, "ReadPage", err)
	checkIntEqual(t, "items", len(items), 0)
}

func TestReadPageErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantRetryable bool
		wantTerminal  bool
	}{
		{"rate limited", http.StatusTooManyRequests, true, false},
		{"server error", http.StatusInternalServerError, true, false},
		{"bad gateway", http.StatusBadGateway, true, false},
		{"unauthorized", http.StatusUnauthorized, false, true},
		{"bad request", http.StatusBadRequest, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			_, err := testClient(t, server.URL).ReadPage(context.Background(), models.SyncTypeProducts, 1, 10)
			if err == nil {
				t.Fatal("Expected an error")
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Expected *APIError, got %T", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, apiErr.StatusCode)
			}
			if isRetryable(err) != tt.wantRetryable {
				t.Errorf("isRetryable: expected %v", tt.wantRetryable)
			}
			if isTerminal(err) != tt.wantTerminal {
				t.Errorf("isTerminal: expected %v", tt.wantTerminal)
			}
		})
	}
}

func TestIsRetryableContextErrors(t *testing.T) {
	if isRetryable(context.Canceled) {
		t.Error("Context cancellation must not be retryable")
	}
	if isRetryable(context.DeadlineExceeded) {
		t.Error("Deadline exceeded must not be retryable")
	}
	if isRetryable(nil) {
		t.Error("nil error must not be retryable")
	}
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req pageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ItemsPerPage != 1 {
			t.Errorf("Expected minimal one-item read, got itemsPerPage=%d", req.ItemsPerPage)
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	checkNoError(t, "Ping", testClient(t, server.URL).Ping(context.Background()))
}
