// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

// Package main is the entry point for the Marketsync server.
//
// Marketsync keeps a local DuckDB mirror of one or two seller accounts on a
// remote marketplace in sync: products, offers, and orders are paged out of
// the marketplace API under its documented rate limits, deduplicated across
// accounts, and upserted with a configurable conflict strategy. Runs are
// triggered over a small HTTP API and tracked in sync logs with live
// progress.
//
// # Startup order
//
//  1. Configuration: Koanf v2 layered load (defaults, config.yaml, env vars)
//  2. Logging: zerolog, JSON or console per config
//  3. Database: DuckDB, schema migrations applied on open
//  4. Sync manager: one circuit-breaker API client per configured account
//  5. Supervisor tree: stuck-sync reaper and HTTP server under suture
//
// # Configuration
//
// Environment variables override config.yaml which overrides defaults. The
// primary account is required:
//
//	export MARKETPLACE_BASE_URL=https://api.marketplace.example
//	export ACCOUNTS_PRIMARY_CLIENT_ID=your-client-id
//	export ACCOUNTS_PRIMARY_API_KEY=your-api-key
//	./marketsync
//
// Add a secondary account with ACCOUNTS_SECONDARY_CLIENT_ID and
// ACCOUNTS_SECONDARY_API_KEY; until both are set, requests scoped to the
// secondary account are rejected.
//
// # Signal handling
//
// SIGINT and SIGTERM trigger a graceful shutdown: the HTTP server drains
// in-flight requests, the reaper stops, and the database closes. A run in
// progress is finalized by the stuck-sync reaper on the next start.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/marketsync/internal/api"
	"github.com/tomtom215/marketsync/internal/config"
	"github.com/tomtom215/marketsync/internal/database"
	"github.com/tomtom215/marketsync/internal/logging"
	"github.com/tomtom215/marketsync/internal/supervisor"
	"github.com/tomtom215/marketsync/internal/supervisor/services"
	syncengine "github.com/tomtom215/marketsync/internal/sync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config is not available yet, so the default logger applies.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("base_url", cfg.Marketplace.BaseURL).
		Bool("secondary_account", cfg.Accounts.Secondary.Configured()).
		Str("db_path", cfg.Database.Path).
		Msg("Starting Marketsync")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized")

	manager := syncengine.NewManager(cfg, db)
	for account, err := range manager.Ping(context.Background()) {
		if err != nil {
			logging.Warn().Err(err).Str("account", string(account)).Msg("Marketplace ping failed (will retry during sync)")
		} else {
			logging.Info().Str("account", string(account)).Msg("Marketplace connection verified")
		}
	}

	reaper := syncengine.NewReaper(db, &cfg.Sync)

	handlers := api.NewHandlers(db, manager, reaper)
	router := api.NewRouter(&cfg.Server, handlers)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)
	tree.AddEngineService(services.NewRunnerService("sync-reaper", reaper))
	tree.AddAPIService(services.NewHTTPServerService(server, treeCfg.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("addr", server.Addr).
		Msg("Supervisor tree starting")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
		os.Exit(1)
	}

	logging.Info().Msg("Shutdown complete")
}
