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
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/marketsync/internal/config"
	"github.com/tomtom215/marketsync/internal/database"
	"github.com/tomtom215/marketsync/internal/models"
)

// fakeMarketplace serves the paginated read contract for both test accounts,
// keyed by Basic-Auth client id.
type fakeMarketplace struct {
	// pages maps client id to its ordered pages of items.
	pages map[string][][]map[string]interface{}
	// failStatus, when set for a client id, fails every request with it.
	failStatus map[string]int
	// terminalAfterPage, when set for a client id, serves pages up to the
	// given number and rejects later ones with a 400.
	terminalAfterPage map[string]int
}

func (f *fakeMarketplace) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "missing credentials", http.StatusUnauthorized)
			return
		}
		if status, found := f.failStatus[user]; found {
			http.Error(w, "forced failure", status)
			return
		}
		if !strings.HasSuffix(r.URL.Path, "/read") {
			http.Error(w, "unknown endpoint", http.StatusNotFound)
			return
		}

		var req pageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}

		if limit, found := f.terminalAfterPage[user]; found && req.CurrentPage > limit {
			http.Error(w, "forced failure", http.StatusBadRequest)
			return
		}

		pages := f.pages[user]
		var items []map[string]interface{}
		if req.CurrentPage >= 1 && req.CurrentPage <= len(pages) {
			items = pages[req.CurrentPage-1]
		}
		if items == nil {
			items = []map[string]interface{}{}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"results": items})
	}
}

func productItem(sku string, price float64) map[string]interface{} {
	return map[string]interface{}{
		"sku":   sku,
		"name":  "Item " + sku,
		"brand": "Acme",
		"price": price,
		"stock": 10,
	}
}

func testManagerConfig(serverURL string, withSecondary bool) *config.Config {
	cfg := &config.Config{
		Marketplace: config.MarketplaceConfig{BaseURL: serverURL, Timeout: 5 * time.Second},
		Accounts: config.AccountsConfig{
			Primary: config.AccountConfig{ClientID: "client-p", APIKey: "key-p"},
		},
		RateLimits: *testRateLimits(1000, 100000),
		Sync: config.SyncConfig{
			ItemsPerPage:            100,
			RetryAttempts:           3,
			RetryBaseDelay:          time.Millisecond,
			RetryMaxDelay:           5 * time.Millisecond,
			MaxConsecutiveSkips:     3,
			RunTimeout:              30 * time.Second,
			StuckTimeout:            time.Hour,
			ReapInterval:            time.Minute,
			DefaultConflictStrategy: "remote_priority",
		},
	}
	if withSecondary {
		cfg.Accounts.Secondary = config.AccountConfig{ClientID: "client-s", APIKey: "key-s"}
	}
	return cfg
}

func setupManager(t *testing.T, market *fakeMarketplace, withSecondary bool) (*Manager, *database.DB) {
	t.Helper()

	server := httptest.NewServer(market.handler())
	t.Cleanup(server.Close)

	db, err := database.New(&config.DatabaseConfig{Path: ""})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewManager(testManagerConfig(server.URL, withSecondary), db), db
}

func TestRunSyncCompleted(t *testing.T) {
	market := &fakeMarketplace{
		pages: map[string][][]map[string]interface{}{
			"client-p": {
				{productItem("SKU-1", 10), productItem("SKU-2", 20)},
				{productItem("SKU-3", 30)},
			},
			"client-s": {
				{productItem("SKU-4", 40)},
			},
		},
	}
	manager, db := setupManager(t, market, true)
	ctx := context.Background()

	log, err := manager.RunSync(ctx, TriggerRequest{
		SyncType: models.SyncTypeProducts,
		Scope:    models.ScopeBoth,
	})
	checkNoError(t, "RunSync", err)

	checkStringEqual(t, "status", string(log.Status), string(models.SyncStatusCompleted))
	checkIntEqual(t, "total items", log.TotalItems, 4)
	checkIntEqual(t, "created items", log.CreatedItems, 4)
	checkIntEqual(t, "failed items", log.FailedItems, 0)
	checkIntEqual(t, "pages processed", log.PagesProcessed, 3)
	checkIntEqual(t, "dedup discarded", log.DedupDiscarded, 0)
	if log.APIRequestsMade < 5 {
		t.Errorf("Expected at least 5 API requests (3 pages + 2 empty probes), got %d", log.APIRequestsMade)
	}

	// The run is durably terminal and queryable.
	persisted, err := db.GetSyncLog(ctx, log.ID)
	checkNoError(t, "GetSyncLog", err)
	if !persisted.Status.Terminal() || persisted.CompletedAt == nil {
		t.Errorf("Expected persisted terminal log, got %+v", persisted)
	}

	// Rows landed under the right accounts.
	if _, err := db.GetProduct(ctx, "SKU-1", models.AccountPrimary); err != nil {
		t.Errorf("Expected primary SKU-1 stored: %v", err)
	}
	if _, err := db.GetProduct(ctx, "SKU-4", models.AccountSecondary); err != nil {
		t.Errorf("Expected secondary SKU-4 stored: %v", err)
	}
}

func TestRunSyncMaxPagesCap(t *testing.T) {
	market := &fakeMarketplace{
		pages: map[string][][]map[string]interface{}{
			"client-p": {
				{productItem("SKU-1", 10), productItem("SKU-2", 20)},
				{productItem("SKU-3", 30)},
				{productItem("SKU-4", 40)},
			},
		},
	}
	manager, _ := setupManager(t, market, false)

	log, err := manager.RunSync(context.Background(), TriggerRequest{
		SyncType: models.SyncTypeProducts,
		Scope:    models.ScopePrimary,
		MaxPages: 1,
	})
	checkNoError(t, "RunSync", err)

	checkStringEqual(t, "status", string(log.Status), string(models.SyncStatusCompleted))
	checkIntEqual(t, "pages processed", log.PagesProcessed, 1)
	checkIntEqual(t, "created items", log.CreatedItems, 2)
}

func TestRunSyncSecondRunUnchanged(t *testing.T) {
	market := &fakeMarketplace{
		pages: map[string][][]map[string]interface{}{
			"client-p": {{productItem("SKU-1", 10), productItem("SKU-2", 20)}},
		},
	}
	manager, _ := setupManager(t, market, false)
	ctx := context.Background()

	req := TriggerRequest{SyncType: models.SyncTypeProducts, Scope: models.ScopePrimary}

	first, err := manager.RunSync(ctx, req)
	checkNoError(t, "First RunSync", err)
	checkIntEqual(t, "first run created", first.CreatedItems, 2)

	second, err := manager.RunSync(ctx, req)
	checkNoError(t, "Second RunSync", err)
	checkIntEqual(t, "second run created", second.CreatedItems, 0)
	checkIntEqual(t, "second run unchanged", second.UnchangedItems, 2)
	checkStringEqual(t, "second run status", string(second.Status), string(models.SyncStatusCompleted))
}

func TestRunSyncDeduplicatesAcrossAccounts(t *testing.T) {
	market := &fakeMarketplace{
		pages: map[string][][]map[string]interface{}{
			"client-p": {{productItem("SKU-SHARED", 10)}},
			"client-s": {{productItem("SKU-SHARED", 99), productItem("SKU-OWN", 5)}},
		},
	}
	manager, db := setupManager(t, market, true)
	ctx := context.Background()

	log, err := manager.RunSync(ctx, TriggerRequest{
		SyncType: models.SyncTypeProducts,
		Scope:    models.ScopeBoth,
	})
	checkNoError(t, "RunSync", err)

	checkIntEqual(t, "dedup discarded", log.DedupDiscarded, 1)
	checkIntEqual(t, "total items", log.TotalItems, 2)

	// The primary copy won; no secondary row exists for the shared SKU.
	kept, err := db.GetProduct(ctx, "SKU-SHARED", models.AccountPrimary)
	checkNoError(t, "GetProduct", err)
	if kept.Price != 10 {
		t.Errorf("Expected primary copy to win, got price %v", kept.Price)
	}
	if _, err := db.GetProduct(ctx, "SKU-SHARED", models.AccountSecondary); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("Expected no secondary row for the shared SKU, got %v", err)
	}
}

func TestRunSyncOffersAreNotDeduplicated(t *testing.T) {
	market := &fakeMarketplace{
		pages: map[string][][]map[string]interface{}{
			"client-p": {{productItem("SKU-SHARED", 10)}},
			"client-s": {{productItem("SKU-SHARED", 99)}},
		},
	}
	manager, db := setupManager(t, market, true)
	ctx := context.Background()

	log, err := manager.RunSync(ctx, TriggerRequest{
		SyncType: models.SyncTypeOffers,
		Scope:    models.ScopeBoth,
	})
	checkNoError(t, "RunSync", err)

	checkIntEqual(t, "dedup discarded", log.DedupDiscarded, 0)
	checkIntEqual(t, "total items", log.TotalItems, 2)

	// Offers are keyed per account; both copies coexist.
	for _, account := range []models.AccountType{models.AccountPrimary, models.AccountSecondary} {
		if _, err := db.GetProduct(ctx, "SKU-SHARED", account); err != nil {
			t.Errorf("Expected offer row for %s: %v", account, err)
		}
	}
}

func TestRunSyncOrdersAreNotDeduplicated(t *testing.T) {
	orderItem := map[string]interface{}{"orderId": "ORD-1", "status": "shipped", "total": 10.0, "itemsCount": 1}
	market := &fakeMarketplace{
		pages: map[string][][]map[string]interface{}{
			"client-p": {{orderItem}},
			"client-s": {{orderItem}},
		},
	}
	manager, db := setupManager(t, market, true)
	ctx := context.Background()

	log, err := manager.RunSync(ctx, TriggerRequest{
		SyncType: models.SyncTypeOrders,
		Scope:    models.ScopeBoth,
	})
	checkNoError(t, "RunSync", err)

	checkIntEqual(t, "dedup discarded", log.DedupDiscarded, 0)
	checkIntEqual(t, "total items", log.TotalItems, 2)

	for _, account := range []models.AccountType{models.AccountPrimary, models.AccountSecondary} {
		if _, err := db.GetOrder(ctx, "ORD-1", account); err != nil {
			t.Errorf("Expected order row for %s: %v", account, err)
		}
	}
}

func TestRunSyncRejectsOverlappingRun(t *testing.T) {
	market := &fakeMarketplace{
		pages: map[string][][]map[string]interface{}{"client-p": {}},
	}
	manager, db := setupManager(t, market, false)
	ctx := context.Background()

	blocking := &models.SyncLog{
		ID:           uuid.NewString(),
		SyncType:     models.SyncTypeProducts,
		AccountScope: models.ScopeBoth,
		StartedAt:    time.Now().UTC(),
		TriggeredBy:  "test",
	}
	checkNoError(t, "CreateSyncLog", db.CreateSyncLog(ctx, blocking))

	_, err := manager.RunSync(ctx, TriggerRequest{
		SyncType: models.SyncTypeProducts,
		Scope:    models.ScopePrimary,
	})
	if !errors.Is(err, database.ErrSyncAlreadyRunning) {
		t.Fatalf("Expected ErrSyncAlreadyRunning, got %v", err)
	}
}

func TestRunSyncSecondaryNotConfigured(t *testing.T) {
	market := &fakeMarketplace{
		pages: map[string][][]map[string]interface{}{"client-p": {}},
	}
	manager, _ := setupManager(t, market, false)

	_, err := manager.RunSync(context.Background(), TriggerRequest{
		SyncType: models.SyncTypeProducts,
		Scope:    models.ScopeBoth,
	})
	if !errors.Is(err, ErrAccountNotConfigured) {
		t.Fatalf("Expected ErrAccountNotConfigured, got %v", err)
	}
}

func TestRunSyncPartialWhenOneAccountTerminal(t *testing.T) {
	market := &fakeMarketplace{
		pages: map[string][][]map[string]interface{}{
			"client-p": {{productItem("SKU-1", 10)}},
		},
		failStatus: map[string]int{"client-s": http.StatusUnauthorized},
	}
	manager, db := setupManager(t, market, true)
	ctx := context.Background()

	log, err := manager.RunSync(ctx, TriggerRequest{
		SyncType: models.SyncTypeProducts,
		Scope:    models.ScopeBoth,
	})
	checkNoError(t, "RunSync", err)

	checkStringEqual(t, "status", string(log.Status), string(models.SyncStatusPartial))

	// The healthy account's data still landed.
	if _, err := db.GetProduct(ctx, "SKU-1", models.AccountPrimary); err != nil {
		t.Errorf("Expected primary data despite secondary failure: %v", err)
	}

	foundFatal := false
	for _, e := range log.Errors {
		if e.Kind == models.ErrorKindFatal && e.Account == models.AccountSecondary {
			foundFatal = true
		}
	}
	if !foundFatal {
		t.Errorf("Expected a fatal error entry for the secondary account, got %+v", log.Errors)
	}
}

func TestRunSyncFailedWhenAllAccountsTerminal(t *testing.T) {
	market := &fakeMarketplace{
		pages: map[string][][]map[string]interface{}{},
		failStatus: map[string]int{
			"client-p": http.StatusUnauthorized,
			"client-s": http.StatusUnauthorized,
		},
	}
	manager, _ := setupManager(t, market, true)

	log, err := manager.RunSync(context.Background(), TriggerRequest{
		SyncType: models.SyncTypeProducts,
		Scope:    models.ScopeBoth,
	})
	checkNoError(t, "RunSync", err)

	checkStringEqual(t, "status", string(log.Status), string(models.SyncStatusFailed))
	if !log.Status.Terminal() {
		t.Error("Expected terminal status")
	}
}

func TestRunSyncPartialWhenTerminalAfterPages(t *testing.T) {
	market := &fakeMarketplace{
		pages: map[string][][]map[string]interface{}{
			"client-p": {
				{productItem("SKU-1", 10), productItem("SKU-2", 20)},
				{productItem("SKU-3", 30)},
			},
		},
		terminalAfterPage: map[string]int{"client-p": 1},
	}
	manager, db := setupManager(t, market, false)
	ctx := context.Background()

	log, err := manager.RunSync(ctx, TriggerRequest{
		SyncType: models.SyncTypeProducts,
		Scope:    models.ScopePrimary,
	})
	checkNoError(t, "RunSync", err)

	// The account aborted mid-stream, but page 1 already arrived and its
	// records were written, so the run is partial rather than failed.
	checkStringEqual(t, "status", string(log.Status), string(models.SyncStatusPartial))
	checkIntEqual(t, "pages processed", log.PagesProcessed, 1)
	checkIntEqual(t, "created items", log.CreatedItems, 2)

	if _, err := db.GetProduct(ctx, "SKU-1", models.AccountPrimary); err != nil {
		t.Errorf("Expected page 1 data stored despite the abort: %v", err)
	}

	foundFatal := false
	for _, e := range log.Errors {
		if e.Kind == models.ErrorKindFatal && e.Account == models.AccountPrimary {
			foundFatal = true
		}
	}
	if !foundFatal {
		t.Errorf("Expected a fatal error entry for the primary account, got %+v", log.Errors)
	}
}

func TestRunSyncInvalidRequests(t *testing.T) {
	market := &fakeMarketplace{
		pages: map[string][][]map[string]interface{}{"client-p": {}},
	}
	manager, _ := setupManager(t, market, true)
	ctx := context.Background()

	tests := []struct {
		name string
		req  TriggerRequest
	}{
		{"bad sync type", TriggerRequest{SyncType: "inventory"}},
		{"bad scope", TriggerRequest{SyncType: models.SyncTypeProducts, Scope: "tertiary"}},
		{"bad strategy", TriggerRequest{SyncType: models.SyncTypeProducts, Strategy: "merge"}},
		{"negative max pages", TriggerRequest{SyncType: models.SyncTypeProducts, MaxPages: -1}},
		{"negative page size", TriggerRequest{SyncType: models.SyncTypeProducts, ItemsPerPage: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := manager.RunSync(ctx, tt.req); err == nil {
				t.Fatal("Expected validation error")
			}
		})
	}
}

func TestRunSyncDefaultsApplied(t *testing.T) {
	market := &fakeMarketplace{
		pages: map[string][][]map[string]interface{}{
			"client-p": {{productItem("SKU-1", 10)}},
			"client-s": {},
		},
	}
	manager, _ := setupManager(t, market, true)

	// Scope and strategy are omitted; both default.
	log, err := manager.RunSync(context.Background(), TriggerRequest{SyncType: models.SyncTypeProducts})
	checkNoError(t, "RunSync", err)

	checkStringEqual(t, "scope", string(log.AccountScope), string(models.ScopeBoth))
	checkStringEqual(t, "triggered_by", log.TriggeredBy, "api")
}
