// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

// Package config loads and validates Waypost configuration from layered
// sources: built-in defaults, an optional YAML file, and environment
// variables, in that order of precedence (env wins).
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration shared by the server and the agent.
// Each binary validates only the sections it uses.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Security SecurityConfig `koanf:"security"`
	Coarse   CoarseConfig   `koanf:"coarse"`
	GPSD     GPSDConfig     `koanf:"gpsd"`
	Uplink   UplinkConfig   `koanf:"uplink"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsProduction reports whether the server runs with production checks.
func (s ServerConfig) IsProduction() bool {
	return strings.EqualFold(s.Environment, "production")
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// SecurityConfig holds session, token, and HTTP hardening settings.
type SecurityConfig struct {
	SessionSecret     string        `koanf:"session_secret"`
	SessionTimeout    time.Duration `koanf:"session_timeout"`
	CookieName        string        `koanf:"cookie_name"`
	CookieSecure      bool          `koanf:"cookie_secure"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`

	OIDC OIDCConfig `koanf:"oidc"`
}

// OIDCConfig holds the relying-party settings for browser sign-in.
// Sign-in is disabled when IssuerURL is empty; personal access tokens
// still work for agents.
type OIDCConfig struct {
	IssuerURL    string   `koanf:"issuer_url"`
	ClientID     string   `koanf:"client_id"`
	ClientSecret string   `koanf:"client_secret"`
	RedirectURL  string   `koanf:"redirect_url"`
	Scopes       []string `koanf:"scopes"`
	PKCEEnabled  bool     `koanf:"pkce_enabled"`
}

// Enabled reports whether OIDC sign-in is configured.
func (o OIDCConfig) Enabled() bool { return o.IssuerURL != "" }

// CoarseConfig holds the IP-geolocation fallback settings.
type CoarseConfig struct {
	Enabled bool          `koanf:"enabled"`
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

// GPSDConfig holds the gpsd sensor connection settings for the agent.
type GPSDConfig struct {
	Address     string        `koanf:"address"`
	TLS         bool          `koanf:"tls"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
}

// UplinkConfig holds the agent-to-server push settings.
type UplinkConfig struct {
	URL            string        `koanf:"url"`
	Token          string        `koanf:"token"`
	Interval       time.Duration `koanf:"interval"`
	Burst          int           `koanf:"burst"`
	SpoolPath      string        `koanf:"spool_path"`
	SpoolRetention time.Duration `koanf:"spool_retention"`
}

// LoggingConfig holds zerolog settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// ValidateServer checks the sections the server binary depends on.
func (c *Config) ValidateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Security.SessionSecret == "" && c.Server.IsProduction() {
		return fmt.Errorf("security.session_secret is required in production")
	}
	if c.Security.SessionSecret != "" && len(c.Security.SessionSecret) < 32 {
		return fmt.Errorf("security.session_secret must be at least 32 bytes, got %d", len(c.Security.SessionSecret))
	}
	if c.Security.SessionTimeout <= 0 {
		return fmt.Errorf("security.session_timeout must be positive, got %s", c.Security.SessionTimeout)
	}
	if !c.Security.RateLimitDisabled {
		if c.Security.RateLimitReqs <= 0 {
			return fmt.Errorf("security.rate_limit_reqs must be positive, got %d", c.Security.RateLimitReqs)
		}
		if c.Security.RateLimitWindow <= 0 {
			return fmt.Errorf("security.rate_limit_window must be positive, got %s", c.Security.RateLimitWindow)
		}
	}
	if o := c.Security.OIDC; o.Enabled() {
		if o.ClientID == "" {
			return fmt.Errorf("security.oidc.client_id is required when issuer_url is set")
		}
		if o.RedirectURL == "" {
			return fmt.Errorf("security.oidc.redirect_url is required when issuer_url is set")
		}
	}
	return nil
}

// ValidateAgent checks the sections the agent binary depends on.
func (c *Config) ValidateAgent() error {
	if c.Uplink.URL == "" {
		return fmt.Errorf("uplink.url must not be empty")
	}
	if !strings.HasPrefix(c.Uplink.URL, "http://") && !strings.HasPrefix(c.Uplink.URL, "https://") {
		return fmt.Errorf("uplink.url must be an http(s) URL, got %q", c.Uplink.URL)
	}
	if c.Uplink.Token == "" {
		return fmt.Errorf("uplink.token must not be empty")
	}
	if c.Uplink.Interval <= 0 {
		return fmt.Errorf("uplink.interval must be positive, got %s", c.Uplink.Interval)
	}
	if c.Uplink.Burst < 1 {
		return fmt.Errorf("uplink.burst must be at least 1, got %d", c.Uplink.Burst)
	}
	if c.GPSD.Address == "" {
		return fmt.Errorf("gpsd.address must not be empty")
	}
	if c.GPSD.DialTimeout <= 0 {
		return fmt.Errorf("gpsd.dial_timeout must be positive, got %s", c.GPSD.DialTimeout)
	}
	if c.Coarse.Enabled {
		if c.Coarse.URL == "" {
			return fmt.Errorf("coarse.url must not be empty when coarse lookup is enabled")
		}
		if c.Coarse.Timeout <= 0 {
			return fmt.Errorf("coarse.timeout must be positive, got %s", c.Coarse.Timeout)
		}
	}
	return nil
}
