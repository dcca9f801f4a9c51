// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

// Package usage records per-call API metering rows. Records are
// append-only: never mutated, never deleted.
package usage

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Record is one audit/metering row for a tracked API call.
type Record struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	Endpoint  string
	CreatedAt time.Time
}

// NewRecord creates a Record for the given user and endpoint label.
func NewRecord(userID ulid.ULID, endpoint string) *Record {
	return &Record{
		ID:        ulid.Make(),
		UserID:    userID,
		Endpoint:  endpoint,
		CreatedAt: time.Now(),
	}
}

// Summary aggregates a user's recent activity for the dashboard.
type Summary struct {
	Total  int64     `json:"total"`
	Recent []*Record `json:"recent"`
}

// Repository manages usage persistence.
type Repository interface {
	// Insert appends one record.
	Insert(ctx context.Context, record *Record) error

	// Summarize returns the count of records since the given time plus
	// the ten most recent records for the user.
	Summarize(ctx context.Context, userID ulid.ULID, since time.Time) (*Summary, error)
}
