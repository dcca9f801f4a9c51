// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Subscription plan tags. Plans other than these may arrive from the
// billing provider (price nicknames) and are stored as-is.
const (
	PlanFree = "free"
	PlanPro  = "pro"
)

// MinPasswordLength is the minimum accepted password length.
const MinPasswordLength = 8

// User represents a tenant account.
//
// PasswordHash is the argon2id output and is never logged or returned to
// any caller. ResetTokenHash/ResetTokenExpiresAt form the single active
// reset token slot; both are nil when no reset is pending. Expired tokens
// are not actively purged, they simply stop matching.
type User struct {
	ID                  ulid.ULID
	Email               string
	PasswordHash        string
	Name                string
	APIKey              string
	Plan                string
	StripeCustomerID    string
	ResetTokenHash      *string
	ResetTokenExpiresAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewUser creates a validated User instance on the free plan.
// Name is optional and may be empty.
func NewUser(email, passwordHash, name, apiKey string) (*User, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	if apiKey != "" && !ValidAPIKeyFormat(apiKey) {
		return nil, oops.Code("USER_INVALID_API_KEY").Errorf("malformed api key")
	}

	now := time.Now()
	return &User{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: passwordHash,
		Name:         name,
		APIKey:       apiKey,
		Plan:         PlanFree,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// HasPendingReset returns true if a reset token is set and unexpired at t.
func (u *User) HasPendingReset(t time.Time) bool {
	return u.ResetTokenHash != nil && u.ResetTokenExpiresAt != nil && u.ResetTokenExpiresAt.After(t)
}

// ValidateEmail checks presence and minimal @-shape. Emails are stored and
// matched case-sensitively; no normalization happens here.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email must contain a local part and a domain")
	}
	return nil
}

// ValidatePassword checks the minimum length rule.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return oops.Code("AUTH_PASSWORD_TOO_SHORT").
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

// UserRepository manages user persistence.
//
// Lookups by email, API key, and reset token hash are exact-match. Email
// uniqueness is enforced by the store at creation: of two concurrent
// creates with the same email exactly one succeeds, the other receives
// ErrDuplicateEmail.
type UserRepository interface {
	// Create stores a new user. Returns ErrDuplicateEmail or
	// ErrDuplicateAPIKey when the respective uniqueness constraint fires.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by exact email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByAPIKey retrieves a user by exact API key.
	GetByAPIKey(ctx context.Context, key string) (*User, error)

	// SetResetToken installs the single active reset token slot.
	// Any previous token is overwritten.
	SetResetToken(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error

	// GetByValidResetToken retrieves the user whose stored reset token
	// hash matches and whose expiry is strictly after now.
	GetByValidResetToken(ctx context.Context, tokenHash string, now time.Time) (*User, error)

	// ConsumeResetToken atomically replaces the password hash and clears
	// the reset token slot, guarded by the token hash still matching and
	// being unexpired at now. Returns ErrNotFound if the guard fails,
	// so at most one of two racing consumers wins.
	ConsumeResetToken(ctx context.Context, id ulid.ULID, tokenHash, newPasswordHash string, now time.Time) error

	// UpdateStripeCustomerID attaches a billing customer to a user.
	UpdateStripeCustomerID(ctx context.Context, id ulid.ULID, customerID string) error

	// UpdatePlanByCustomer sets the plan for the user owning the given
	// billing customer id.
	UpdatePlanByCustomer(ctx context.Context, customerID, plan string) error
}
