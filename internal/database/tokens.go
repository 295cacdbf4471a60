// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AccessToken is a stored personal access token. Only the bcrypt hash
// of the secret half is persisted, never the secret itself.
type AccessToken struct {
	ID         string     `json:"id"`
	UserID     uuid.UUID  `json:"-"`
	Name       string     `json:"name"`
	SecretHash string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// CreateToken stores a token row.
func (db *DB) CreateToken(ctx context.Context, token *AccessToken) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO access_tokens (id, user_id, name, secret_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		token.ID, token.UserID, token.Name, token.SecretHash, token.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert access token: %w", err)
	}
	return nil
}

// TokenByID fetches a token by its public identifier.
func (db *DB) TokenByID(ctx context.Context, id string) (*AccessToken, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, user_id, name, secret_hash, created_at, last_used_at
		FROM access_tokens WHERE id = ?`, id)

	var tok AccessToken
	err := row.Scan(&tok.ID, &tok.UserID, &tok.Name, &tok.SecretHash, &tok.CreatedAt, &tok.LastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch access token %s: %w", id, err)
	}
	return &tok, nil
}

// TokensByUser lists a user's tokens, newest first.
func (db *DB) TokensByUser(ctx context.Context, userID uuid.UUID) ([]AccessToken, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, user_id, name, secret_hash, created_at, last_used_at
		FROM access_tokens
		WHERE user_id = ?
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query access tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tokens []AccessToken
	for rows.Next() {
		var tok AccessToken
		if err := rows.Scan(&tok.ID, &tok.UserID, &tok.Name, &tok.SecretHash, &tok.CreatedAt, &tok.LastUsedAt); err != nil {
			return nil, fmt.Errorf("failed to scan access token: %w", err)
		}
		tokens = append(tokens, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate access tokens: %w", err)
	}
	return tokens, nil
}

// TouchToken records a successful use. Best effort; callers may ignore
// the error.
func (db *DB) TouchToken(ctx context.Context, id string, usedAt time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE access_tokens SET last_used_at = ? WHERE id = ?`, usedAt, id)
	if err != nil {
		return fmt.Errorf("failed to touch access token %s: %w", id, err)
	}
	return nil
}

// DeleteToken revokes a token. Scoping by user prevents revoking
// another user's token through a guessed ID.
func (db *DB) DeleteToken(ctx context.Context, userID uuid.UUID, id string) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM access_tokens WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete access token %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
