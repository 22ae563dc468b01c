// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

// Package config provides layered configuration for Marketsync.
//
// Configuration is loaded with Koanf v2 from three layers, in increasing
// precedence: built-in defaults, an optional YAML config file, and
// environment variables. See Load for the search order.
package config

import (
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Marketplace MarketplaceConfig `koanf:"marketplace"`
	Accounts    AccountsConfig    `koanf:"accounts"`
	RateLimits  RateLimitsConfig  `koanf:"rate_limits"`
	Sync        SyncConfig        `koanf:"sync"`
	Database    DatabaseConfig    `koanf:"database"`
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// MarketplaceConfig holds the remote marketplace API settings shared by both
// accounts. Rate limits are enforced server-side and are not discoverable
// from response headers, so the documented ceilings live in RateLimitsConfig.
type MarketplaceConfig struct {
	// BaseURL is the API root, e.g. https://api.marketplace.example.
	// Entity pages are read from POST {BaseURL}/{entity}/read.
	BaseURL string `koanf:"base_url"`

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration `koanf:"timeout"`
}

// AccountConfig holds the Basic-Auth credentials for one seller account.
type AccountConfig struct {
	ClientID string `koanf:"client_id"`
	APIKey   string `koanf:"api_key"`
}

// Configured reports whether credentials are present for the account.
func (a AccountConfig) Configured() bool {
	return a.ClientID != "" && a.APIKey != ""
}

// AccountsConfig holds the two independent seller accounts. The primary
// account is required; the secondary account is optional and requests that
// name it are rejected at sync time when it is not configured.
type AccountsConfig struct {
	Primary   AccountConfig `koanf:"primary"`
	Secondary AccountConfig `koanf:"secondary"`
}

// RateLimitClassConfig is one endpoint class ceiling: a per-second burst
// budget and a per-minute sliding-window budget.
type RateLimitClassConfig struct {
	PerSecond int `koanf:"per_second"`
	PerMinute int `koanf:"per_minute"`
}

// RateLimitsConfig holds the documented out-of-band ceilings, separate
// budgets for the orders endpoint class vs everything else. Each account
// worker gets its own limiter instance since limits are per-account.
type RateLimitsConfig struct {
	Orders RateLimitClassConfig `koanf:"orders"`
	Other  RateLimitClassConfig `koanf:"other"`

	// JitterMax is the maximum random jitter added to acquired waits to
	// avoid synchronized bursts across concurrent account workers.
	JitterMax time.Duration `koanf:"jitter_max"`
}

// SyncConfig holds retry, pagination, and lifecycle settings.
type SyncConfig struct {
	// ItemsPerPage is the default page size sent to the read endpoint.
	ItemsPerPage int `koanf:"items_per_page"`

	// RetryAttempts is the number of attempts per page before the page is
	// skipped (not counting the rate-limit wait).
	RetryAttempts int `koanf:"retry_attempts"`

	// RetryBaseDelay is the base of the exponential backoff between
	// attempts: min(base * 2^attempt, RetryMaxDelay).
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`

	// RetryMaxDelay caps the backoff wait.
	RetryMaxDelay time.Duration `koanf:"retry_max_delay"`

	// MaxConsecutiveSkips trips the pagination circuit breaker: after this
	// many pages in a row are skipped the account's fetch ends early with a
	// partial outcome.
	MaxConsecutiveSkips int `koanf:"max_consecutive_skips"`

	// RunTimeout is the wall-clock budget for one whole sync run.
	RunTimeout time.Duration `koanf:"run_timeout"`

	// StuckTimeout is how long a sync log may stay running before the
	// reaper marks it failed.
	StuckTimeout time.Duration `koanf:"stuck_timeout"`

	// ReapInterval is how often the stuck-sync reaper sweeps.
	ReapInterval time.Duration `koanf:"reap_interval"`

	// DefaultConflictStrategy applies when a request doesn't name one.
	DefaultConflictStrategy string `koanf:"default_conflict_strategy"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path                   string `koanf:"path"`
	MaxMemory              string `koanf:"max_memory"`
	Threads                int    `koanf:"threads"` // 0 = runtime.NumCPU()
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"`
}

// ServerConfig holds the trigger HTTP API settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Marketplace: MarketplaceConfig{
			BaseURL: "",
			Timeout: 30 * time.Second,
		},
		Accounts: AccountsConfig{},
		RateLimits: RateLimitsConfig{
			// Documented marketplace ceilings: the orders endpoint class has
			// its own, larger budget than everything else.
			Orders:    RateLimitClassConfig{PerSecond: 12, PerMinute: 720},
			Other:     RateLimitClassConfig{PerSecond: 3, PerMinute: 180},
			JitterMax: 50 * time.Millisecond,
		},
		Sync: SyncConfig{
			ItemsPerPage:            100,
			RetryAttempts:           5,
			RetryBaseDelay:          2 * time.Second,
			RetryMaxDelay:           30 * time.Second,
			MaxConsecutiveSkips:     3,
			RunTimeout:              30 * time.Minute,
			StuckTimeout:            60 * time.Minute,
			ReapInterval:            5 * time.Minute,
			DefaultConflictStrategy: "remote_priority",
		},
		Database: DatabaseConfig{
			Path:                   "/data/marketsync.duckdb",
			MaxMemory:              "2GB",
			Threads:                0, // 0 = use runtime.NumCPU()
			PreserveInsertionOrder: true,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3858,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
