// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/marketsync/config.yaml",
	"/etc/marketsync/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if one exists)
//  3. Environment variables: override any setting
//
// Precedence: ENV > File > Defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envPrefixes maps environment variable prefixes to koanf path prefixes.
// Longest prefixes are listed first so they win the match.
var envPrefixes = []struct {
	env  string
	path string
}{
	{"ACCOUNTS_PRIMARY_", "accounts.primary."},
	{"ACCOUNTS_SECONDARY_", "accounts.secondary."},
	{"RATE_LIMITS_ORDERS_", "rate_limits.orders."},
	{"RATE_LIMITS_OTHER_", "rate_limits.other."},
	{"RATE_LIMITS_", "rate_limits."},
	{"MARKETPLACE_", "marketplace."},
	{"DATABASE_", "database."},
	{"SERVER_", "server."},
	{"LOGGING_", "logging."},
	{"SYNC_", "sync."},
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - MARKETPLACE_BASE_URL -> marketplace.base_url
//   - ACCOUNTS_PRIMARY_API_KEY -> accounts.primary.api_key
//   - RATE_LIMITS_ORDERS_PER_SECOND -> rate_limits.orders.per_second
//   - SYNC_STUCK_TIMEOUT -> sync.stuck_timeout
//
// Variables outside the known prefixes are ignored so unrelated environment
// noise can't leak into the configuration.
func envTransformFunc(key string) string {
	for _, p := range envPrefixes {
		if strings.HasPrefix(key, p.env) {
			return p.path + strings.ToLower(strings.TrimPrefix(key, p.env))
		}
	}
	return ""
}
