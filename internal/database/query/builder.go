// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

// Package query builds parameterized SQL WHERE clauses for the
// database package's filtered queries.
package query

import (
	"strings"
	"time"
)

// WhereBuilder accumulates AND-joined, parameterized conditions.
// Values only ever travel through placeholders.
type WhereBuilder struct {
	clauses []string
	args    []any
}

// NewWhereBuilder creates an empty builder.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{}
}

// AddClause appends a raw condition fragment with its arguments.
func (wb *WhereBuilder) AddClause(clause string, args ...any) *WhereBuilder {
	wb.clauses = append(wb.clauses, clause)
	wb.args = append(wb.args, args...)
	return wb
}

// AddTimeRange appends inclusive bounds on column. Nil bounds are
// skipped, so open-ended ranges need no special casing at call sites.
func (wb *WhereBuilder) AddTimeRange(column string, since, until *time.Time) *WhereBuilder {
	if since != nil {
		wb.clauses = append(wb.clauses, column+" >= ?")
		wb.args = append(wb.args, *since)
	}
	if until != nil {
		wb.clauses = append(wb.clauses, column+" <= ?")
		wb.args = append(wb.args, *until)
	}
	return wb
}

// AddEquals appends an equality condition unless value is empty.
func (wb *WhereBuilder) AddEquals(column, value string) *WhereBuilder {
	if value != "" {
		wb.clauses = append(wb.clauses, column+" = ?")
		wb.args = append(wb.args, value)
	}
	return wb
}

// Build returns the WHERE body and its arguments. With no clauses it
// returns "1=1" so callers can interpolate unconditionally.
func (wb *WhereBuilder) Build() (string, []any) {
	if len(wb.clauses) == 0 {
		return "1=1", nil
	}
	return strings.Join(wb.clauses, " AND "), wb.args
}

// IsEmpty reports whether any condition was added.
func (wb *WhereBuilder) IsEmpty() bool {
	return len(wb.clauses) == 0
}
