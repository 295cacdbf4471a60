// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in
// order. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/waypost/config.yaml",
	"/etc/waypost/config.yml",
}

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns the built-in defaults. They are loaded first
// and then overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Database: DatabaseConfig{
			Path:      "/data/waypost.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = runtime.NumCPU()
		},
		Security: SecurityConfig{
			SessionSecret:     "",
			SessionTimeout:    24 * time.Hour,
			CookieName:        "waypost_session",
			CookieSecure:      true,
			RateLimitReqs:     100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
			CORSOrigins:       []string{"*"},
			OIDC: OIDCConfig{
				Scopes:      []string{"openid", "profile", "email"},
				PKCEEnabled: true,
			},
		},
		Coarse: CoarseConfig{
			Enabled: true,
			URL:     "https://ipapi.co/json/",
			Timeout: 10 * time.Second,
		},
		GPSD: GPSDConfig{
			Address:     "localhost:2947",
			TLS:         false,
			DialTimeout: 5 * time.Second,
		},
		Uplink: UplinkConfig{
			URL:            "",
			Token:          "",
			Interval:       15 * time.Second,
			Burst:          1,
			SpoolPath:      "/data/waypost-spool",
			SpoolRetention: 72 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// and environment variables. Precedence: env > file > defaults.
// Validation is the caller's job; the server and agent each validate
// their own sections.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// WAYPOST_SERVER_PORT -> server.port, WAYPOST_GPSD_ADDRESS -> gpsd.address.
	envProvider := env.Provider("WAYPOST_", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
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

// sliceConfigPaths are the keys parsed as comma-separated slices when
// they arrive from the environment as plain strings.
var sliceConfigPaths = []string{
	"security.cors_origins",
	"security.oidc.scopes",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps WAYPOST_* variables to koanf paths. The first
// underscore separates the section; the rest is the key within it.
//
//	WAYPOST_SERVER_PORT          -> server.port
//	WAYPOST_DATABASE_PATH        -> database.path
//	WAYPOST_UPLINK_SPOOL_PATH    -> uplink.spool_path
//	WAYPOST_SECURITY_OIDC_SCOPES -> security.oidc.scopes
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "WAYPOST_"))

	// Keys that cannot be derived by the section-prefix rule.
	overrides := map[string]string{
		"security_session_secret":      "security.session_secret",
		"security_session_timeout":     "security.session_timeout",
		"security_cookie_name":         "security.cookie_name",
		"security_cookie_secure":       "security.cookie_secure",
		"security_rate_limit_reqs":     "security.rate_limit_reqs",
		"security_rate_limit_window":   "security.rate_limit_window",
		"security_rate_limit_disabled": "security.rate_limit_disabled",
		"security_cors_origins":        "security.cors_origins",
		"security_oidc_issuer_url":     "security.oidc.issuer_url",
		"security_oidc_client_id":      "security.oidc.client_id",
		"security_oidc_client_secret":  "security.oidc.client_secret",
		"security_oidc_redirect_url":   "security.oidc.redirect_url",
		"security_oidc_scopes":         "security.oidc.scopes",
		"security_oidc_pkce_enabled":   "security.oidc.pkce_enabled",
		"database_max_memory":          "database.max_memory",
		"gpsd_dial_timeout":            "gpsd.dial_timeout",
		"uplink_spool_path":            "uplink.spool_path",
		"uplink_spool_retention":       "uplink.spool_retention",
	}
	if mapped, ok := overrides[key]; ok {
		return mapped
	}

	section, rest, found := strings.Cut(key, "_")
	if !found {
		return ""
	}
	switch section {
	case "server", "database", "security", "coarse", "gpsd", "uplink", "logging":
		return section + "." + rest
	}
	// Unknown prefixes are skipped so unrelated variables cannot
	// pollute the configuration.
	return ""
}
