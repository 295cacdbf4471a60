// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/waypost/waypost/internal/config"
)

// SessionClaims are the JWT claims carried by a browser session cookie.
// Subject holds the user ID.
type SessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// SessionManager issues and verifies session JWTs. HMAC-SHA256 only;
// tokens signed with any other algorithm are rejected.
type SessionManager struct {
	secret       []byte
	timeout      time.Duration
	cookieName   string
	cookieSecure bool
}

// NewSessionManager creates a session manager from the security config.
// The secret must be at least 32 bytes.
func NewSessionManager(cfg *config.SecurityConfig) (*SessionManager, error) {
	if len(cfg.SessionSecret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 bytes, got %d", len(cfg.SessionSecret))
	}
	return &SessionManager{
		secret:       []byte(cfg.SessionSecret),
		timeout:      cfg.SessionTimeout,
		cookieName:   cfg.CookieName,
		cookieSecure: cfg.CookieSecure,
	}, nil
}

// Issue creates a signed session token for a user.
func (m *SessionManager) Issue(userID uuid.UUID, email string) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.timeout)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session token, returning the user ID
// and email.
func (m *SessionManager) Verify(tokenStr string) (uuid.UUID, string, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid session token: %w", err)
	}
	if !token.Valid {
		return uuid.Nil, "", fmt.Errorf("invalid session token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid session subject: %w", err)
	}
	return userID, claims.Email, nil
}

// SetCookie writes the session cookie on a response.
func (m *SessionManager) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.timeout.Seconds()),
		HttpOnly: true,
		Secure:   m.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (m *SessionManager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// CookieName returns the configured session cookie name.
func (m *SessionManager) CookieName() string { return m.cookieName }
