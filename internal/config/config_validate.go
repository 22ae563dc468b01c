// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validateMarketplace(); err != nil {
		return err
	}

	if err := c.validateAccounts(); err != nil {
		return err
	}

	if err := c.validateRateLimits(); err != nil {
		return err
	}

	if err := c.validateSync(); err != nil {
		return err
	}

	if err := c.validateServer(); err != nil {
		return err
	}

	return c.validateLogging()
}

func (c *Config) validateMarketplace() error {
	if c.Marketplace.BaseURL == "" {
		return fmt.Errorf("MARKETPLACE_BASE_URL is required")
	}

	u, err := url.Parse(c.Marketplace.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("MARKETPLACE_BASE_URL must be a valid URL with scheme and host, got %q", c.Marketplace.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("MARKETPLACE_BASE_URL scheme must be http or https, got %q", u.Scheme)
	}

	if c.Marketplace.Timeout <= 0 {
		return fmt.Errorf("marketplace.timeout must be positive")
	}

	return nil
}

// validateAccounts requires the primary account. The secondary account is
// optional; requests targeting it are rejected at sync time when it is not
// configured.
func (c *Config) validateAccounts() error {
	if !c.Accounts.Primary.Configured() {
		return fmt.Errorf("ACCOUNTS_PRIMARY_CLIENT_ID and ACCOUNTS_PRIMARY_API_KEY are required")
	}

	// A half-configured secondary account is a misconfiguration, not an
	// absent account.
	sec := c.Accounts.Secondary
	if (sec.ClientID == "") != (sec.APIKey == "") {
		return fmt.Errorf("secondary account must set both client_id and api_key or neither")
	}

	return nil
}

func (c *Config) validateRateLimits() error {
	for _, class := range []struct {
		name string
		cfg  RateLimitClassConfig
	}{
		{"orders", c.RateLimits.Orders},
		{"other", c.RateLimits.Other},
	} {
		if class.cfg.PerSecond <= 0 {
			return fmt.Errorf("rate_limits.%s.per_second must be positive", class.name)
		}
		if class.cfg.PerMinute <= 0 {
			return fmt.Errorf("rate_limits.%s.per_minute must be positive", class.name)
		}
		if class.cfg.PerMinute < class.cfg.PerSecond {
			return fmt.Errorf("rate_limits.%s.per_minute must be >= per_second", class.name)
		}
	}

	if c.RateLimits.JitterMax < 0 {
		return fmt.Errorf("rate_limits.jitter_max must not be negative")
	}

	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.ItemsPerPage <= 0 {
		return fmt.Errorf("sync.items_per_page must be positive")
	}
	if c.Sync.RetryAttempts <= 0 {
		return fmt.Errorf("sync.retry_attempts must be positive")
	}
	if c.Sync.RetryBaseDelay <= 0 || c.Sync.RetryMaxDelay <= 0 {
		return fmt.Errorf("sync retry delays must be positive")
	}
	if c.Sync.RetryMaxDelay < c.Sync.RetryBaseDelay {
		return fmt.Errorf("sync.retry_max_delay must be >= retry_base_delay")
	}
	if c.Sync.MaxConsecutiveSkips <= 0 {
		return fmt.Errorf("sync.max_consecutive_skips must be positive")
	}
	if c.Sync.RunTimeout <= 0 {
		return fmt.Errorf("sync.run_timeout must be positive")
	}
	if c.Sync.StuckTimeout <= 0 {
		return fmt.Errorf("sync.stuck_timeout must be positive")
	}
	if c.Sync.ReapInterval <= 0 {
		return fmt.Errorf("sync.reap_interval must be positive")
	}

	switch c.Sync.DefaultConflictStrategy {
	case "remote_priority", "local_priority", "newest_wins":
	default:
		return fmt.Errorf("sync.default_conflict_strategy must be remote_priority, local_priority, or newest_wins, got %q",
			c.Sync.DefaultConflictStrategy)
	}

	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "disabled":
	default:
		return fmt.Errorf("logging.level must be a valid level, got %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	return nil
}
