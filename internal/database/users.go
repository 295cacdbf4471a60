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

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// User is an account row. Name and Image are optional profile fields
// carried over from the identity provider.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      *string   `json:"name,omitempty"`
	Image     *string   `json:"image,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UpsertUser inserts a user keyed by email or refreshes the profile
// fields of an existing one. A NULL incoming name or image never
// clobbers a previously stored value.
func (db *DB) UpsertUser(ctx context.Context, email string, name, image *string) (*User, error) {
	if email == "" {
		return nil, fmt.Errorf("email must not be empty")
	}

	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO users (id, email, name, image)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (email) DO UPDATE SET
			name = COALESCE(excluded.name, users.name),
			image = COALESCE(excluded.image, users.image)
		RETURNING id, email, name, image, created_at`,
		uuid.New(), email, name, image)

	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user %s: %w", email, err)
	}
	return user, nil
}

// UserByID fetches a user by primary key.
func (db *DB) UserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, email, name, image, created_at
		FROM users WHERE id = ?`, id)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user %s: %w", id, err)
	}
	return user, nil
}

// UserByEmail fetches a user by email.
func (db *DB) UserByEmail(ctx context.Context, email string) (*User, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, email, name, image, created_at
		FROM users WHERE email = ?`, email)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user %s: %w", email, err)
	}
	return user, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Image, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
