// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package query

import (
	"testing"
	"time"
)

func TestEmptyBuilder(t *testing.T) {
	wb := NewWhereBuilder()
	clause, args := wb.Build()
	if clause != "1=1" || len(args) != 0 {
		t.Errorf("Build = (%q, %v), want (1=1, none)", clause, args)
	}
	if !wb.IsEmpty() {
		t.Error("IsEmpty = false for empty builder")
	}
}

func TestTimeRangeBounds(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		since      *time.Time
		until      *time.Time
		wantClause string
		wantArgs   int
	}{
		{"both", &since, &until, "created_at >= ? AND created_at <= ?", 2},
		{"since only", &since, nil, "created_at >= ?", 1},
		{"until only", nil, &until, "created_at <= ?", 1},
		{"neither", nil, nil, "1=1", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clause, args := NewWhereBuilder().AddTimeRange("created_at", tt.since, tt.until).Build()
			if clause != tt.wantClause {
				t.Errorf("clause = %q, want %q", clause, tt.wantClause)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("args = %d, want %d", len(args), tt.wantArgs)
			}
		})
	}
}

func TestEqualsSkipsEmpty(t *testing.T) {
	clause, args := NewWhereBuilder().AddEquals("source", "").Build()
	if clause != "1=1" || len(args) != 0 {
		t.Errorf("empty value produced (%q, %v)", clause, args)
	}

	clause, args = NewWhereBuilder().AddEquals("source", "precise").Build()
	if clause != "source = ?" || len(args) != 1 || args[0] != "precise" {
		t.Errorf("Build = (%q, %v)", clause, args)
	}
}

func TestCombinedClauses(t *testing.T) {
	since := time.Now()
	clause, args := NewWhereBuilder().
		AddClause("user_id = ?", "u1").
		AddTimeRange("created_at", &since, nil).
		AddEquals("source", "coarse").
		Build()

	want := "user_id = ? AND created_at >= ? AND source = ?"
	if clause != want {
		t.Errorf("clause = %q, want %q", clause, want)
	}
	if len(args) != 3 {
		t.Errorf("args = %d, want 3", len(args))
	}
}
