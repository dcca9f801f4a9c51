// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

// Package postgres provides PostgreSQL implementations of the auth
// repositories.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/tollgate/tollgate/internal/auth"
)

// Unique constraint names from the schema. Used to tell a duplicate email
// apart from an API key collision when mapping unique violations.
const (
	constraintUsersEmail  = "users_email_key"
	constraintUsersAPIKey = "users_api_key_key"
)

// querier is the subset of pgxpool.Pool the repositories need. It lets
// tests substitute pgxmock without a live database.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	db querier
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db querier) *UserRepository {
	return &UserRepository{db: db}
}

// Create stores a new user. Unique violations on the email and api_key
// columns are mapped to auth.ErrDuplicateEmail and auth.ErrDuplicateAPIKey
// respectively so callers can treat them as conflicts, not server errors.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	var apiKey *string
	if user.APIKey != "" {
		apiKey = &user.APIKey
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO users (
			id, email, password_hash, name, api_key, plan,
			stripe_customer_id, reset_token, reset_token_expires,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		user.ID.String(),
		user.Email,
		user.PasswordHash,
		user.Name,
		apiKey,
		user.Plan,
		nullIfEmpty(user.StripeCustomerID),
		user.ResetTokenHash,
		user.ResetTokenExpiresAt,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			switch pgErr.ConstraintName {
			case constraintUsersAPIKey:
				return oops.Code("USER_DUPLICATE_API_KEY").Wrap(auth.ErrDuplicateAPIKey)
			default:
				// Email is the uniqueness boundary; any other unique
				// violation on this table is the primary key, which a
				// fresh ULID cannot hit.
				return oops.Code("USER_DUPLICATE_EMAIL").
					With("constraint", pgErr.ConstraintName).
					Wrap(auth.ErrDuplicateEmail)
			}
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.db.QueryRow(ctx, selectUser+`WHERE id = $1`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by exact email match.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.db.QueryRow(ctx, selectUser+`WHERE email = $1`, email)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user, nil
}

// GetByAPIKey retrieves a user by exact API key match.
func (r *UserRepository) GetByAPIKey(ctx context.Context, key string) (*auth.User, error) {
	row := r.db.QueryRow(ctx, selectUser+`WHERE api_key = $1`, key)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_API_KEY_FAILED").
			With("operation", "get user by api key").
			Wrap(err)
	}
	return user, nil
}

// SetResetToken installs the reset token slot, overwriting any previous one.
func (r *UserRepository) SetResetToken(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE users SET reset_token = $2, reset_token_expires = $3, updated_at = $4
		WHERE id = $1
	`, id.String(), tokenHash, expiresAt, time.Now())
	if err != nil {
		return oops.Code("USER_SET_RESET_TOKEN_FAILED").
			With("operation", "set reset token").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// GetByValidResetToken retrieves the user holding an unexpired reset token.
func (r *UserRepository) GetByValidResetToken(ctx context.Context, tokenHash string, now time.Time) (*auth.User, error) {
	row := r.db.QueryRow(ctx, selectUser+`WHERE reset_token = $1 AND reset_token_expires > $2`, tokenHash, now)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_RESET_TOKEN_FAILED").
			With("operation", "get user by reset token").
			Wrap(err)
	}
	return user, nil
}

// ConsumeResetToken atomically replaces the password hash and clears the
// reset token slot in one statement. The WHERE clause re-checks the token
// hash and expiry so that at most one of two racing consumers succeeds;
// the loser gets auth.ErrNotFound.
func (r *UserRepository) ConsumeResetToken(ctx context.Context, id ulid.ULID, tokenHash, newPasswordHash string, now time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE users SET
			password_hash = $3,
			reset_token = NULL,
			reset_token_expires = NULL,
			updated_at = $4
		WHERE id = $1 AND reset_token = $2 AND reset_token_expires > $4
	`, id.String(), tokenHash, newPasswordHash, now)
	if err != nil {
		return oops.Code("USER_CONSUME_RESET_TOKEN_FAILED").
			With("operation", "consume reset token").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdateStripeCustomerID attaches a billing customer to a user.
func (r *UserRepository) UpdateStripeCustomerID(ctx context.Context, id ulid.ULID, customerID string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE users SET stripe_customer_id = $2, updated_at = $3
		WHERE id = $1
	`, id.String(), customerID, time.Now())
	if err != nil {
		return oops.Code("USER_UPDATE_CUSTOMER_FAILED").
			With("operation", "update stripe customer id").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdatePlanByCustomer sets the plan for the user owning the billing
// customer id. Unknown customers are not an error: webhook retries may
// arrive after an account is deleted.
func (r *UserRepository) UpdatePlanByCustomer(ctx context.Context, customerID, plan string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users SET plan = $2, updated_at = $3
		WHERE stripe_customer_id = $1
	`, customerID, plan, time.Now())
	if err != nil {
		return oops.Code("USER_UPDATE_PLAN_FAILED").
			With("operation", "update plan by customer").
			Wrap(err)
	}
	return nil
}

const selectUser = `
	SELECT id, email, password_hash, name, api_key, plan,
	       stripe_customer_id, reset_token, reset_token_expires,
	       created_at, updated_at
	FROM users
`

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr             string
		email             string
		passwordHash      string
		name              *string
		apiKey            *string
		plan              string
		stripeCustomerID  *string
		resetTokenHash    *string
		resetTokenExpires *time.Time
		createdAt         time.Time
		updatedAt         time.Time
	)

	err := row.Scan(
		&idStr,
		&email,
		&passwordHash,
		&name,
		&apiKey,
		&plan,
		&stripeCustomerID,
		&resetTokenHash,
		&resetTokenExpires,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", idStr).
			Wrap(err)
	}

	return &auth.User{
		ID:                  id,
		Email:               email,
		PasswordHash:        passwordHash,
		Name:                deref(name),
		APIKey:              deref(apiKey),
		Plan:                plan,
		StripeCustomerID:    deref(stripeCustomerID),
		ResetTokenHash:      resetTokenHash,
		ResetTokenExpiresAt: resetTokenExpires,
		CreatedAt:           createdAt,
		UpdatedAt:           updatedAt,
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
