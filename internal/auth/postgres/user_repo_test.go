// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate/tollgate/internal/auth"
)

const testAPIKey = "sk_0123456789abcdef0123456789abcdef0123456789abcdef"

func userColumns() []string {
	return []string{
		"id", "email", "password_hash", "name", "api_key", "plan",
		"stripe_customer_id", "reset_token", "reset_token_expires",
		"created_at", "updated_at",
	}
}

func userRow(u *auth.User) *pgxmock.Rows {
	var name, apiKey, customer *string
	if u.Name != "" {
		name = &u.Name
	}
	if u.APIKey != "" {
		apiKey = &u.APIKey
	}
	if u.StripeCustomerID != "" {
		customer = &u.StripeCustomerID
	}
	return pgxmock.NewRows(userColumns()).AddRow(
		u.ID.String(), u.Email, u.PasswordHash, name, apiKey, u.Plan,
		customer, u.ResetTokenHash, u.ResetTokenExpiresAt,
		u.CreatedAt, u.UpdatedAt,
	)
}

func testUser(t *testing.T) *auth.User {
	t.Helper()
	user, err := auth.NewUser("alice@example.com", "hashed", "Alice", testAPIKey)
	require.NoError(t, err)
	return user
}

func TestUserRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts the user", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		user := testUser(t)
		mock.ExpectExec(`INSERT INTO users`).
			WithArgs(user.ID.String(), user.Email, user.PasswordHash, user.Name,
				&user.APIKey, user.Plan, pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), user.CreatedAt, user.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		repo := NewUserRepository(mock)
		require.NoError(t, repo.Create(ctx, user))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate email maps to ErrDuplicateEmail", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO users`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				ConstraintName: constraintUsersEmail,
			})

		repo := NewUserRepository(mock)
		err = repo.Create(ctx, testUser(t))
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrDuplicateEmail)
	})

	t.Run("duplicate api key maps to ErrDuplicateAPIKey", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO users`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				ConstraintName: constraintUsersAPIKey,
			})

		repo := NewUserRepository(mock)
		err = repo.Create(ctx, testUser(t))
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrDuplicateAPIKey)
	})

	t.Run("other errors are not conflicts", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO users`).
			WillReturnError(errors.New("connection refused"))

		repo := NewUserRepository(mock)
		err = repo.Create(ctx, testUser(t))
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrDuplicateEmail)
		assert.NotErrorIs(t, err, auth.ErrDuplicateAPIKey)
	})
}

func TestUserRepository_Lookups(t *testing.T) {
	ctx := context.Background()

	t.Run("GetByEmail returns the user", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		user := testUser(t)
		mock.ExpectQuery(`SELECT .+ FROM users\s+WHERE email = \$1`).
			WithArgs(user.Email).
			WillReturnRows(userRow(user))

		repo := NewUserRepository(mock)
		got, err := repo.GetByEmail(ctx, user.Email)
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
		assert.Equal(t, user.APIKey, got.APIKey)
	})

	t.Run("GetByAPIKey is exact match", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		user := testUser(t)
		mock.ExpectQuery(`SELECT .+ FROM users\s+WHERE api_key = \$1`).
			WithArgs(user.APIKey).
			WillReturnRows(userRow(user))

		repo := NewUserRepository(mock)
		got, err := repo.GetByAPIKey(ctx, user.APIKey)
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("missing rows map to ErrNotFound", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT .+ FROM users\s+WHERE email = \$1`).
			WithArgs("ghost@example.com").
			WillReturnRows(pgxmock.NewRows(userColumns()))

		repo := NewUserRepository(mock)
		_, err = repo.GetByEmail(ctx, "ghost@example.com")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("GetByID parses the stored ulid", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		user := testUser(t)
		mock.ExpectQuery(`SELECT .+ FROM users\s+WHERE id = \$1`).
			WithArgs(user.ID.String()).
			WillReturnRows(userRow(user))

		repo := NewUserRepository(mock)
		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
	})
}

func TestUserRepository_ResetTokenLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("SetResetToken updates the slot", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := ulid.Make()
		expires := time.Now().Add(time.Hour)
		mock.ExpectExec(`UPDATE users SET reset_token = \$2, reset_token_expires = \$3`).
			WithArgs(id.String(), "tokenhash", expires, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		repo := NewUserRepository(mock)
		require.NoError(t, repo.SetResetToken(ctx, id, "tokenhash", expires))
	})

	t.Run("SetResetToken for unknown user is ErrNotFound", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := ulid.Make()
		mock.ExpectExec(`UPDATE users SET reset_token = \$2`).
			WithArgs(id.String(), "tokenhash", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		repo := NewUserRepository(mock)
		err = repo.SetResetToken(ctx, id, "tokenhash", time.Now().Add(time.Hour))
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("GetByValidResetToken filters on expiry", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		user := testUser(t)
		now := time.Now()
		mock.ExpectQuery(`WHERE reset_token = \$1 AND reset_token_expires > \$2`).
			WithArgs("tokenhash", now).
			WillReturnRows(userRow(user))

		repo := NewUserRepository(mock)
		got, err := repo.GetByValidResetToken(ctx, "tokenhash", now)
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("ConsumeResetToken wins when the guard matches", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := ulid.Make()
		now := time.Now()
		mock.ExpectExec(`UPDATE users SET\s+password_hash = \$3`).
			WithArgs(id.String(), "tokenhash", "newhash", now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		repo := NewUserRepository(mock)
		require.NoError(t, repo.ConsumeResetToken(ctx, id, "tokenhash", "newhash", now))
	})

	t.Run("ConsumeResetToken loses the race as ErrNotFound", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := ulid.Make()
		now := time.Now()
		mock.ExpectExec(`UPDATE users SET\s+password_hash = \$3`).
			WithArgs(id.String(), "tokenhash", "newhash", now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		repo := NewUserRepository(mock)
		err = repo.ConsumeResetToken(ctx, id, "tokenhash", "newhash", now)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestUserRepository_BillingUpdates(t *testing.T) {
	ctx := context.Background()

	t.Run("UpdateStripeCustomerID requires an existing user", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := ulid.Make()
		mock.ExpectExec(`UPDATE users SET stripe_customer_id = \$2`).
			WithArgs(id.String(), "cus_123", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		repo := NewUserRepository(mock)
		require.NoError(t, repo.UpdateStripeCustomerID(ctx, id, "cus_123"))
	})

	t.Run("UpdatePlanByCustomer tolerates unknown customers", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		// Webhook retries can outlive the account; zero rows is fine.
		mock.ExpectExec(`UPDATE users SET plan = \$2`).
			WithArgs("cus_gone", "pro", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		repo := NewUserRepository(mock)
		require.NoError(t, repo.UpdatePlanByCustomer(ctx, "cus_gone", "pro"))
	})
}
