// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
)

// ResetTokenExpiry is the reset token lifetime.
const ResetTokenExpiry = time.Hour

// PasswordResetService drives the reset token lifecycle:
// NoActiveReset -> PendingReset(token, expiresAt) -> Consumed | Expired.
type PasswordResetService struct {
	users  UserRepository
	hasher PasswordHasher
	logger *slog.Logger
}

// NewPasswordResetService creates a new PasswordResetService with a no-op
// logger. Returns an error if any required dependency is nil.
func NewPasswordResetService(users UserRepository, hasher PasswordHasher) (*PasswordResetService, error) {
	return NewPasswordResetServiceWithLogger(users, hasher, slog.New(slog.DiscardHandler))
}

// NewPasswordResetServiceWithLogger creates a new PasswordResetService with
// the provided logger. Returns an error if any required dependency is nil.
func NewPasswordResetServiceWithLogger(users UserRepository, hasher PasswordHasher, logger *slog.Logger) (*PasswordResetService, error) {
	if users == nil {
		return nil, oops.Errorf("users repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &PasswordResetService{users: users, hasher: hasher, logger: logger}, nil
}

// RequestReset requests a password reset for a user by email.
// If the user exists, a token is generated, its hash stored with a
// one-hour expiry, and the plaintext token returned for the mailer
// (sending email is NOT this service's job). If the user doesn't exist
// the call still succeeds with an empty token: callers must respond
// identically in both cases to prevent email enumeration.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) (string, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", oops.Code("RESET_REQUEST_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		return "", oops.Code("RESET_REQUEST_FAILED").
			With("operation", "generate reset token").
			Wrap(err)
	}

	// Overwrites any previous token: at most one reset is active per user.
	if err := s.users.SetResetToken(ctx, user.ID, hash, time.Now().Add(ResetTokenExpiry)); err != nil {
		return "", oops.Code("RESET_REQUEST_FAILED").
			With("operation", "set reset token").
			Wrap(err)
	}

	return token, nil
}

// ResetPassword consumes a reset token and installs a new password.
// A wrong token, an expired token, and an already-consumed token all
// collapse into the same RESET_TOKEN_INVALID outcome. Consumption is a
// single guarded update: of two racing attempts with the same token at
// most one wins, the loser sees RESET_TOKEN_INVALID.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return oops.Code("RESET_TOKEN_INVALID").Errorf("reset token cannot be empty")
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	now := time.Now()
	hash := HashToken(token)

	user, err := s.users.GetByValidResetToken(ctx, hash, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("RESET_TOKEN_INVALID").Errorf("invalid or expired reset token")
		}
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "get user by reset token").
			Wrap(err)
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "hash new password").
			Wrap(err)
	}

	if err := s.users.ConsumeResetToken(ctx, user.ID, hash, newHash, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Lost the race: the token was consumed between lookup and update.
			return oops.Code("RESET_TOKEN_INVALID").Errorf("invalid or expired reset token")
		}
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "consume reset token").
			Wrap(err)
	}

	s.logger.Info("password reset completed", "user_id", user.ID.String())
	return nil
}
