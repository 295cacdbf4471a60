// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Path != "/data/waypost.duckdb" {
		t.Errorf("database.path = %q", cfg.Database.Path)
	}
	if cfg.Coarse.URL != "https://ipapi.co/json/" {
		t.Errorf("coarse.url = %q", cfg.Coarse.URL)
	}
	if cfg.GPSD.Address != "localhost:2947" {
		t.Errorf("gpsd.address = %q", cfg.GPSD.Address)
	}
	if cfg.Security.CookieName != "waypost_session" {
		t.Errorf("security.cookie_name = %q", cfg.Security.CookieName)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := `
server:
  port: 9090
  environment: production
database:
  path: /tmp/test.duckdb
gpsd:
  address: gps.local:2947
  tls: true
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("server.port = %d, want 9090 from file", cfg.Server.Port)
	}
	if !cfg.Server.IsProduction() {
		t.Error("expected production environment from file")
	}
	if cfg.Database.Path != "/tmp/test.duckdb" {
		t.Errorf("database.path = %q", cfg.Database.Path)
	}
	if !cfg.GPSD.TLS {
		t.Error("expected gpsd.tls=true from file")
	}
	// Untouched keys keep their defaults.
	if cfg.Coarse.Timeout != 10*time.Second {
		t.Errorf("coarse.timeout = %s, want default 10s", cfg.Coarse.Timeout)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("WAYPOST_SERVER_PORT", "7070")
	t.Setenv("WAYPOST_UPLINK_TOKEN", "wp_pat_abc_secret")
	t.Setenv("WAYPOST_SECURITY_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("server.port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Uplink.Token != "wp_pat_abc_secret" {
		t.Errorf("uplink.token = %q", cfg.Uplink.Token)
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.Security.CORSOrigins) != 2 || cfg.Security.CORSOrigins[0] != want[0] || cfg.Security.CORSOrigins[1] != want[1] {
		t.Errorf("cors_origins = %v, want %v", cfg.Security.CORSOrigins, want)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"WAYPOST_SERVER_PORT", "server.port"},
		{"WAYPOST_SERVER_HOST", "server.host"},
		{"WAYPOST_DATABASE_PATH", "database.path"},
		{"WAYPOST_DATABASE_MAX_MEMORY", "database.max_memory"},
		{"WAYPOST_COARSE_URL", "coarse.url"},
		{"WAYPOST_GPSD_ADDRESS", "gpsd.address"},
		{"WAYPOST_GPSD_DIAL_TIMEOUT", "gpsd.dial_timeout"},
		{"WAYPOST_UPLINK_TOKEN", "uplink.token"},
		{"WAYPOST_UPLINK_SPOOL_PATH", "uplink.spool_path"},
		{"WAYPOST_LOGGING_LEVEL", "logging.level"},
		{"WAYPOST_SECURITY_SESSION_SECRET", "security.session_secret"},
		{"WAYPOST_SECURITY_OIDC_ISSUER_URL", "security.oidc.issuer_url"},
		{"WAYPOST_UNRELATED", ""},
		{"RANDOM_VAR", ""},
	}

	for _, tt := range tests {
		if got := envTransformFunc(tt.env); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestValidateServer(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Security.SessionSecret = strings.Repeat("s", 32)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults with secret", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"empty db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"short secret", func(c *Config) { c.Security.SessionSecret = "short" }, "session_secret"},
		{"production requires secret", func(c *Config) {
			c.Server.Environment = "production"
			c.Security.SessionSecret = ""
		}, "required in production"},
		{"development allows empty secret", func(c *Config) {
			c.Security.SessionSecret = ""
		}, ""},
		{"zero rate limit", func(c *Config) { c.Security.RateLimitReqs = 0 }, "rate_limit_reqs"},
		{"rate limit disabled skips check", func(c *Config) {
			c.Security.RateLimitReqs = 0
			c.Security.RateLimitDisabled = true
		}, ""},
		{"oidc missing client id", func(c *Config) {
			c.Security.OIDC.IssuerURL = "https://idp.example"
			c.Security.OIDC.RedirectURL = "https://app.example/callback"
		}, "client_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.ValidateServer()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAgent(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Uplink.URL = "https://waypost.example"
		cfg.Uplink.Token = "wp_pat_id_secret"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing url", func(c *Config) { c.Uplink.URL = "" }, "uplink.url"},
		{"non-http url", func(c *Config) { c.Uplink.URL = "gopher://x" }, "http(s)"},
		{"missing token", func(c *Config) { c.Uplink.Token = "" }, "uplink.token"},
		{"zero interval", func(c *Config) { c.Uplink.Interval = 0 }, "uplink.interval"},
		{"missing gpsd address", func(c *Config) { c.GPSD.Address = "" }, "gpsd.address"},
		{"coarse enabled without url", func(c *Config) { c.Coarse.URL = "" }, "coarse.url"},
		{"coarse disabled skips check", func(c *Config) {
			c.Coarse.Enabled = false
			c.Coarse.URL = ""
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.ValidateAgent()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
