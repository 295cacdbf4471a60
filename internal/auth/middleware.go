// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/waypost/waypost/internal/database"
	"github.com/waypost/waypost/internal/logging"
)

type contextKey string

const userContextKey contextKey = "waypost_user"

// UserLookup resolves user IDs to accounts for the middleware.
type UserLookup interface {
	UserByID(ctx context.Context, id uuid.UUID) (*database.User, error)
}

// Authenticator accepts either a session cookie or a personal access
// token and attaches the resolved user to the request context.
type Authenticator struct {
	sessions *SessionManager
	tokens   *TokenManager
	users    UserLookup
}

// NewAuthenticator creates the combined authenticator.
func NewAuthenticator(sessions *SessionManager, tokens *TokenManager, users UserLookup) *Authenticator {
	return &Authenticator{sessions: sessions, tokens: tokens, users: users}
}

// Middleware rejects unauthenticated requests with 401. Authentication
// order: bearer token first, session cookie second.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.authenticate(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="waypost"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func (a *Authenticator) authenticate(r *http.Request) (*database.User, error) {
	if bearer := bearerCredential(r); bearer != "" {
		if !IsAccessToken(bearer) {
			return nil, ErrInvalidToken
		}
		token, err := a.tokens.Validate(r.Context(), bearer)
		if err != nil {
			return nil, err
		}
		return a.users.UserByID(r.Context(), token.UserID)
	}

	if a.sessions != nil {
		if cookie, err := r.Cookie(a.sessions.CookieName()); err == nil && cookie.Value != "" {
			userID, _, err := a.sessions.Verify(cookie.Value)
			if err != nil {
				logging.Debug().Err(err).Msg("session cookie rejected")
				return nil, err
			}
			return a.users.UserByID(r.Context(), userID)
		}
	}

	return nil, errors.New("no credentials presented")
}

func bearerCredential(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// WithUser attaches a user to a context.
func WithUser(ctx context.Context, user *database.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFrom returns the authenticated user, or nil outside the
// middleware.
func UserFrom(ctx context.Context) *database.User {
	user, _ := ctx.Value(userContextKey).(*database.User)
	return user
}
