// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package usage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// recentLimit caps the dashboard's recent-activity list.
const recentLimit = 10

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db querier
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db querier) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert appends one usage record.
func (r *PostgresRepository) Insert(ctx context.Context, record *Record) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO usage (id, user_id, endpoint, created_at)
		VALUES ($1, $2, $3, $4)
	`, record.ID.String(), record.UserID.String(), record.Endpoint, record.CreatedAt)
	if err != nil {
		return oops.Code("USAGE_INSERT_FAILED").
			With("operation", "insert usage record").
			With("endpoint", record.Endpoint).
			Wrap(err)
	}
	return nil
}

// Summarize returns the record count since the given time plus the ten
// most recent records for the user.
func (r *PostgresRepository) Summarize(ctx context.Context, userID ulid.ULID, since time.Time) (*Summary, error) {
	var total int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM usage WHERE user_id = $1 AND created_at > $2
	`, userID.String(), since).Scan(&total)
	if err != nil {
		return nil, oops.Code("USAGE_SUMMARY_FAILED").
			With("operation", "count usage records").
			Wrap(err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, endpoint, created_at
		FROM usage
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID.String(), recentLimit)
	if err != nil {
		return nil, oops.Code("USAGE_SUMMARY_FAILED").
			With("operation", "list recent usage").
			Wrap(err)
	}
	defer rows.Close()

	recent := make([]*Record, 0, recentLimit)
	for rows.Next() {
		var (
			idStr     string
			userIDStr string
			endpoint  string
			createdAt time.Time
		)
		if err := rows.Scan(&idStr, &userIDStr, &endpoint, &createdAt); err != nil {
			return nil, oops.Code("USAGE_SCAN_FAILED").Wrap(err)
		}
		id, err := ulid.Parse(idStr)
		if err != nil {
			return nil, oops.Code("USAGE_INVALID_ID").With("id", idStr).Wrap(err)
		}
		uid, err := ulid.Parse(userIDStr)
		if err != nil {
			return nil, oops.Code("USAGE_INVALID_USER_ID").With("user_id", userIDStr).Wrap(err)
		}
		recent = append(recent, &Record{ID: id, UserID: uid, Endpoint: endpoint, CreatedAt: createdAt})
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("USAGE_SUMMARY_FAILED").
			With("operation", "iterate recent usage").
			Wrap(err)
	}

	return &Summary{Total: total, Recent: recent}, nil
}
