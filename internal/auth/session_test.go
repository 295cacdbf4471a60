// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package auth

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/waypost/waypost/internal/config"
)

func testSessionConfig() *config.SecurityConfig {
	return &config.SecurityConfig{
		SessionSecret:  strings.Repeat("s", 32),
		SessionTimeout: time.Hour,
		CookieName:     "waypost_session",
		CookieSecure:   true,
	}
}

func TestSessionRoundTrip(t *testing.T) {
	mgr, err := NewSessionManager(testSessionConfig())
	if err != nil {
		t.Fatalf("NewSessionManager failed: %v", err)
	}

	userID := uuid.New()
	token, err := mgr.Issue(userID, "a@example.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	gotID, gotEmail, err := mgr.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if gotID != userID {
		t.Errorf("user id = %s, want %s", gotID, userID)
	}
	if gotEmail != "a@example.com" {
		t.Errorf("email = %q", gotEmail)
	}
}

func TestSessionRejectsShortSecret(t *testing.T) {
	cfg := testSessionConfig()
	cfg.SessionSecret = "short"
	if _, err := NewSessionManager(cfg); err == nil {
		t.Error("expected error for short secret")
	}
}

func TestSessionRejectsWrongSecret(t *testing.T) {
	mgr1, _ := NewSessionManager(testSessionConfig())

	cfg2 := testSessionConfig()
	cfg2.SessionSecret = strings.Repeat("x", 32)
	mgr2, _ := NewSessionManager(cfg2)

	token, err := mgr1.Issue(uuid.New(), "a@example.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, _, err := mgr2.Verify(token); err == nil {
		t.Error("token verified with the wrong secret")
	}
}

func TestSessionRejectsExpired(t *testing.T) {
	cfg := testSessionConfig()
	cfg.SessionTimeout = -time.Minute
	mgr, _ := NewSessionManager(cfg)

	token, err := mgr.Issue(uuid.New(), "a@example.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, _, err := mgr.Verify(token); err == nil {
		t.Error("expired token verified")
	}
}

func TestSessionRejectsGarbage(t *testing.T) {
	mgr, _ := NewSessionManager(testSessionConfig())
	for _, token := range []string{"", "not.a.jwt", "a.b"} {
		if _, _, err := mgr.Verify(token); err == nil {
			t.Errorf("garbage token %q verified", token)
		}
	}
}

func TestSessionCookieFlags(t *testing.T) {
	mgr, _ := NewSessionManager(testSessionConfig())

	rec := httptest.NewRecorder()
	mgr.SetCookie(rec, "tok")

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("got %d cookies, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Name != "waypost_session" || c.Value != "tok" {
		t.Errorf("cookie = %s=%s", c.Name, c.Value)
	}
	if !c.HttpOnly || !c.Secure {
		t.Error("session cookie must be HttpOnly and Secure")
	}

	rec = httptest.NewRecorder()
	mgr.ClearCookie(rec)
	if got := rec.Result().Cookies()[0].MaxAge; got != -1 {
		t.Errorf("clear cookie MaxAge = %d, want -1", got)
	}
}
