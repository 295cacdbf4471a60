// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/waypost/waypost/internal/database/query"
	"github.com/waypost/waypost/internal/geo"
)

// DefaultHistoryLimit caps history queries when the caller passes no
// explicit limit.
const DefaultHistoryLimit = 20

// TrackingEvent is a stored location sample.
type TrackingEvent struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	Latitude  float64    `json:"lat"`
	Longitude float64    `json:"lng"`
	Source    geo.Source `json:"source"`
	Accuracy  *float64   `json:"accuracy"`
}

// InsertEvent stores one sample for a user and returns the stored row.
// The sample must already be validated.
func (db *DB) InsertEvent(ctx context.Context, userID uuid.UUID, sample geo.Sample) (*TrackingEvent, error) {
	ev := &TrackingEvent{
		ID:        uuid.New(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		Latitude:  sample.Latitude,
		Longitude: sample.Longitude,
		Source:    sample.Source,
		Accuracy:  sample.Accuracy,
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO tracking_events (id, user_id, created_at, lat, lng, source, accuracy)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UserID, ev.CreatedAt, ev.Latitude, ev.Longitude, string(ev.Source), ev.Accuracy)
	if err != nil {
		return nil, fmt.Errorf("failed to insert tracking event: %w", err)
	}
	return ev, nil
}

// EventFilter narrows history queries. Zero-value fields are skipped.
type EventFilter struct {
	Since  *time.Time
	Until  *time.Time
	Source geo.Source
}

// RecentEvents returns a user's most recent events, newest first.
// A limit of 0 or less applies DefaultHistoryLimit.
func (db *DB) RecentEvents(ctx context.Context, userID uuid.UUID, limit int) ([]TrackingEvent, error) {
	return db.FilteredEvents(ctx, userID, EventFilter{}, limit)
}

// FilteredEvents returns a user's events matching filter, newest first.
func (db *DB) FilteredEvents(ctx context.Context, userID uuid.UUID, filter EventFilter, limit int) ([]TrackingEvent, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	where, args := query.NewWhereBuilder().
		AddClause("user_id = ?", userID).
		AddTimeRange("created_at", filter.Since, filter.Until).
		AddEquals("source", string(filter.Source)).
		Build()
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, created_at, lat, lng, source, accuracy
		FROM tracking_events
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracking events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := make([]TrackingEvent, 0, limit)
	for rows.Next() {
		var ev TrackingEvent
		var source string
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.CreatedAt, &ev.Latitude, &ev.Longitude, &source, &ev.Accuracy); err != nil {
			return nil, fmt.Errorf("failed to scan tracking event: %w", err)
		}
		ev.Source = geo.Source(source)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tracking events: %w", err)
	}
	return events, nil
}

// EventCount returns the number of stored events for a user.
func (db *DB) EventCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tracking_events WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tracking events: %w", err)
	}
	return count, nil
}
