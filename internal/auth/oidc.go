// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/oidc"

	"github.com/waypost/waypost/internal/config"
	"github.com/waypost/waypost/internal/database"
	"github.com/waypost/waypost/internal/logging"
)

// oidcStateTTL bounds how long a sign-in attempt may stay pending.
const oidcStateTTL = 10 * time.Minute

// UserStore is the persistence surface the OIDC flow needs.
type UserStore interface {
	UpsertUser(ctx context.Context, email string, name, image *string) (*database.User, error)
}

// OIDCProvider runs the browser sign-in flow against a certified
// relying-party implementation. Discovery happens at construction.
type OIDCProvider struct {
	party    rp.RelyingParty
	users    UserStore
	sessions *SessionManager
	pkce     bool

	mu     sync.Mutex
	states map[string]loginState
}

// loginState tracks one pending sign-in attempt. The PKCE verifier is
// empty when PKCE is disabled.
type loginState struct {
	expiry   time.Time
	verifier string
}

// NewOIDCProvider builds the relying party from config. It performs
// OIDC discovery against the issuer, so it needs network access.
func NewOIDCProvider(ctx context.Context, cfg *config.OIDCConfig, users UserStore, sessions *SessionManager) (*OIDCProvider, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("oidc issuer_url is not configured")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email"}
	}

	party, err := rp.NewRelyingPartyOIDC(ctx,
		cfg.IssuerURL, cfg.ClientID, cfg.ClientSecret, cfg.RedirectURL,
		scopes)
	if err != nil {
		return nil, fmt.Errorf("failed to create relying party: %w", err)
	}

	return &OIDCProvider{
		party:    party,
		users:    users,
		sessions: sessions,
		pkce:     cfg.PKCEEnabled,
		states:   make(map[string]loginState),
	}, nil
}

// LoginHandler starts the authorization code flow. With PKCE enabled
// it mints a verifier per attempt and sends the S256 challenge with
// the authorization request.
func (p *OIDCProvider) LoginHandler(w http.ResponseWriter, r *http.Request) {
	state, err := randomToken()
	if err != nil {
		logging.Error().Err(err).Msg("failed to generate oidc state")
		http.Error(w, "sign-in unavailable", http.StatusInternalServerError)
		return
	}

	var verifier string
	var opts []rp.AuthURLOpt
	if p.pkce {
		// 32 random bytes encode to 43 characters, the RFC 7636 minimum.
		verifier, err = randomToken()
		if err != nil {
			logging.Error().Err(err).Msg("failed to generate pkce verifier")
			http.Error(w, "sign-in unavailable", http.StatusInternalServerError)
			return
		}
		opts = append(opts, rp.WithCodeChallenge(oidc.NewSHACodeChallenge(verifier)))
	}
	p.storeState(state, verifier)

	http.Redirect(w, r, rp.AuthURL(state, p.party, opts...), http.StatusFound)
}

// CallbackHandler finishes the flow: it validates state, exchanges the
// code, upserts the user by email, and sets the session cookie.
func (p *OIDCProvider) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		logging.Warn().Str("error", errParam).Msg("oidc callback returned an error")
		http.Error(w, "sign-in refused", http.StatusUnauthorized)
		return
	}

	verifier, ok := p.consumeState(r.URL.Query().Get("state"))
	if !ok {
		http.Error(w, "invalid sign-in state", http.StatusUnauthorized)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	var opts []rp.CodeExchangeOpt
	if verifier != "" {
		opts = append(opts, rp.WithCodeVerifier(verifier))
	}
	tokens, err := rp.CodeExchange[*oidc.IDTokenClaims](r.Context(), code, p.party, opts...)
	if err != nil {
		logging.Error().Err(err).Msg("oidc code exchange failed")
		http.Error(w, "sign-in failed", http.StatusUnauthorized)
		return
	}

	claims := tokens.IDTokenClaims
	if claims.Email == "" {
		http.Error(w, "identity provider returned no email", http.StatusUnauthorized)
		return
	}

	var name, image *string
	if claims.Name != "" {
		name = &claims.Name
	}
	if claims.Picture != "" {
		image = &claims.Picture
	}

	user, err := p.users.UpsertUser(r.Context(), claims.Email, name, image)
	if err != nil {
		logging.Error().Err(err).Msg("failed to upsert signed-in user")
		http.Error(w, "sign-in failed", http.StatusInternalServerError)
		return
	}

	session, err := p.sessions.Issue(user.ID, user.Email)
	if err != nil {
		logging.Error().Err(err).Msg("failed to issue session token")
		http.Error(w, "sign-in failed", http.StatusInternalServerError)
		return
	}
	p.sessions.SetCookie(w, session)

	logging.Info().Str("email", user.Email).Msg("user signed in")
	http.Redirect(w, r, "/", http.StatusFound)
}

// LogoutHandler clears the session cookie.
func (p *OIDCProvider) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	p.sessions.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// randomToken mints an unguessable URL-safe value, used for both the
// state parameter and the PKCE verifier.
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// storeState records a pending sign-in attempt and prunes expired ones.
func (p *OIDCProvider) storeState(state, verifier string) {
	now := time.Now()
	p.mu.Lock()
	for s, ls := range p.states {
		if now.After(ls.expiry) {
			delete(p.states, s)
		}
	}
	p.states[state] = loginState{expiry: now.Add(oidcStateTTL), verifier: verifier}
	p.mu.Unlock()
}

// consumeState validates and removes a state value, returning the PKCE
// verifier minted with it.
func (p *OIDCProvider) consumeState(state string) (string, bool) {
	if state == "" {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	ls, ok := p.states[state]
	if !ok {
		return "", false
	}
	delete(p.states, state)
	if time.Now().After(ls.expiry) {
		return "", false
	}
	return ls.verifier, true
}
