// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/waypost/waypost/internal/cache"
	"github.com/waypost/waypost/internal/database"
	"github.com/waypost/waypost/internal/logging"
)

const (
	// patPrefix marks all Waypost personal access tokens.
	patPrefix = "wp_pat_"

	// patIDLength is the random ID half in bytes (hex-encoded in the
	// token, so twice this many characters).
	patIDLength = 8

	// patSecretLength is the random secret half in bytes.
	patSecretLength = 24

	// bcryptCost is the hashing cost for the secret half.
	bcryptCost = 12

	// validationCacheTTL bounds how long a verified token skips the
	// bcrypt check. Agents push every few seconds; re-hashing on each
	// request would dominate ingestion latency.
	validationCacheTTL = 5 * time.Minute
)

// ErrInvalidToken is returned for malformed, unknown, or mismatched
// personal access tokens. The cause is deliberately not distinguished.
var ErrInvalidToken = errors.New("invalid access token")

// TokenStore is the persistence surface the token manager needs.
type TokenStore interface {
	CreateToken(ctx context.Context, token *database.AccessToken) error
	TokenByID(ctx context.Context, id string) (*database.AccessToken, error)
	TouchToken(ctx context.Context, id string, usedAt time.Time) error
}

// TokenManager creates and validates personal access tokens.
type TokenManager struct {
	store TokenStore

	// verified maps token ID to the SHA-256 of the last secret that
	// passed the bcrypt check. Never stores the secret itself.
	verified *cache.Cache[[32]byte]
}

// NewTokenManager creates a token manager.
func NewTokenManager(store TokenStore) *TokenManager {
	return &TokenManager{
		store:    store,
		verified: cache.New[[32]byte](validationCacheTTL),
	}
}

// Create mints a token for a user and returns the stored record plus
// the plaintext token. The plaintext is shown exactly once; only the
// bcrypt hash of its secret half is persisted.
func (m *TokenManager) Create(ctx context.Context, userID uuid.UUID, name string) (*database.AccessToken, string, error) {
	if name == "" {
		return nil, "", fmt.Errorf("token name must not be empty")
	}

	idBytes := make([]byte, patIDLength)
	if _, err := rand.Read(idBytes); err != nil {
		return nil, "", fmt.Errorf("failed to generate token id: %w", err)
	}
	secretBytes := make([]byte, patSecretLength)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, "", fmt.Errorf("failed to generate token secret: %w", err)
	}

	id := hex.EncodeToString(idBytes)
	secret := hex.EncodeToString(secretBytes)
	plaintext := fmt.Sprintf("%s%s_%s", patPrefix, id, secret)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash token secret: %w", err)
	}

	token := &database.AccessToken{
		ID:         id,
		UserID:     userID,
		Name:       name,
		SecretHash: string(hash),
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.store.CreateToken(ctx, token); err != nil {
		return nil, "", err
	}

	logging.Info().Str("token_id", id).Str("name", name).Msg("access token created")
	return token, plaintext, nil
}

// Validate checks a plaintext token and returns the matching record.
// All failure modes collapse to ErrInvalidToken.
func (m *TokenManager) Validate(ctx context.Context, plaintext string) (*database.AccessToken, error) {
	id, secret, err := splitToken(plaintext)
	if err != nil {
		return nil, err
	}

	token, err := m.store.TokenByID(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256([]byte(secret))
	if known, ok := m.verified.Get(id); ok && subtle.ConstantTimeCompare(known[:], digest[:]) == 1 {
		// Recently verified against this exact secret.
	} else {
		if bcrypt.CompareHashAndPassword([]byte(token.SecretHash), []byte(secret)) != nil {
			return nil, ErrInvalidToken
		}
		m.verified.Set(id, digest)
	}

	if err := m.store.TouchToken(ctx, id, time.Now().UTC()); err != nil {
		logging.Warn().Err(err).Str("token_id", id).Msg("failed to record token use")
	}
	return token, nil
}

// Invalidate drops a token from the verification cache. Deleted tokens
// already fail the store lookup; this just frees the entry early.
func (m *TokenManager) Invalidate(id string) {
	m.verified.Delete(id)
}

// IsAccessToken reports whether a bearer credential looks like a
// Waypost personal access token.
func IsAccessToken(credential string) bool {
	return strings.HasPrefix(credential, patPrefix)
}

// splitToken parses wp_pat_<id>_<secret>. Both halves are hex, so the
// underscore separator is unambiguous.
func splitToken(plaintext string) (id, secret string, err error) {
	rest, ok := strings.CutPrefix(plaintext, patPrefix)
	if !ok {
		return "", "", ErrInvalidToken
	}
	id, secret, ok = strings.Cut(rest, "_")
	if !ok || len(id) != patIDLength*2 || secret == "" {
		return "", "", ErrInvalidToken
	}
	return id, secret, nil
}
