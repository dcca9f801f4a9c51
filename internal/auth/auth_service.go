// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// apiKeyAttempts bounds signup retries when a generated API key collides
// with an existing row. The collision space is 2^192 so more than one
// retry in practice means the random source is broken.
const apiKeyAttempts = 3

// Service provides signup, login, logout, and session validation.
type Service struct {
	users    UserRepository
	sessions SessionRepository
	hasher   PasswordHasher
	logger   *slog.Logger
}

// NewService creates a new Service with a no-op logger.
// Returns an error if any required dependency is nil.
func NewService(users UserRepository, sessions SessionRepository, hasher PasswordHasher) (*Service, error) {
	return NewServiceWithLogger(users, sessions, hasher, slog.New(slog.DiscardHandler))
}

// NewServiceWithLogger creates a new Service with the provided logger.
// Returns an error if any required dependency is nil.
func NewServiceWithLogger(users UserRepository, sessions SessionRepository, hasher PasswordHasher, logger *slog.Logger) (*Service, error) {
	if users == nil {
		return nil, oops.Errorf("users repository is required")
	}
	if sessions == nil {
		return nil, oops.Errorf("sessions repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &Service{users: users, sessions: sessions, hasher: hasher, logger: logger}, nil
}

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// SignupResult carries everything the signup boundary needs: the plaintext
// API key appears here exactly once and is never retrievable again.
type SignupResult struct {
	User         *User
	APIKey       string
	Session      *Session
	SessionToken string
}

// Signup validates input, creates the user with a fresh API key, and
// establishes a session bound to the new user.
//
// A duplicate email surfaces as ErrDuplicateEmail (a conflict, not an
// internal failure). An API key collision is retried with a fresh key up
// to apiKeyAttempts times before giving up.
func (s *Service) Signup(ctx context.Context, email, password, name, userAgent, ipAddress string) (*SignupResult, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	var user *User
	var apiKey string
	backoff := retry.WithMaxRetries(apiKeyAttempts-1, retry.NewConstant(time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		key, keyErr := GenerateAPIKey()
		if keyErr != nil {
			return keyErr
		}
		candidate, newErr := NewUser(email, passwordHash, name, key)
		if newErr != nil {
			return newErr
		}
		if createErr := s.users.Create(ctx, candidate); createErr != nil {
			if errors.Is(createErr, ErrDuplicateAPIKey) {
				return retry.RetryableError(createErr)
			}
			return createErr
		}
		user = candidate
		apiKey = key
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, oops.Code("AUTH_DUPLICATE_EMAIL").Wrap(err)
		}
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	session, token, err := s.StartSession(ctx, &user.ID, userAgent, ipAddress)
	if err != nil {
		return nil, err
	}

	return &SignupResult{User: user, APIKey: apiKey, Session: session, SessionToken: token}, nil
}

// Login authenticates a user and creates a session bound to them.
// Returns the user, session, plaintext session token, and any error.
// A missing account and a wrong password produce the same error so the
// response never reveals whether the email exists.
func (s *Service) Login(ctx context.Context, email, password, userAgent, ipAddress string) (*User, *Session, string, error) {
	user, lookupErr := s.users.GetByEmail(ctx, email)

	// Always verify against some hash so response time does not depend
	// on whether the account exists.
	targetHash := dummyPasswordHash
	userExists := false

	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, nil, "", oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by email").
				Wrap(lookupErr)
		}
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil && userExists {
		// Malformed stored hash: treat as a mismatch, never a 500 that
		// would distinguish this account from others.
		s.logger.Warn("stored password hash failed verification", "user_id", user.ID.String())
	}
	if !userExists || !valid {
		return nil, nil, "", oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid email or password")
	}

	session, token, err := s.StartSession(ctx, &user.ID, userAgent, ipAddress)
	if err != nil {
		return nil, nil, "", err
	}

	return user, session, token, nil
}

// Logout invalidates a session. The identifier is gone afterwards; any
// later session-establishing action issues a new one.
func (s *Service) Logout(ctx context.Context, sessionID ulid.ULID) error {
	err := s.sessions.Delete(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("SESSION_NOT_FOUND").
				With("session_id", sessionID.String()).
				Wrap(err)
		}
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "delete session").
			With("session_id", sessionID.String()).
			Wrap(err)
	}
	return nil
}

// ValidateSession validates a session token and returns the session if
// valid. Also updates the LastSeenAt timestamp. This is a pure read plus
// identity attachment; it never mutates the credential store.
func (s *Service) ValidateSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, oops.Code("SESSION_TOKEN_EMPTY").Errorf("session token cannot be empty")
	}

	tokenHash := HashToken(token)

	session, err := s.sessions.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_INVALID").Errorf("invalid session token")
		}
		return nil, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}

	if session.IsExpired() {
		return nil, oops.Code("SESSION_EXPIRED").Errorf("session has expired")
	}

	// Update last seen timestamp (non-blocking, ignore errors)
	_ = s.sessions.UpdateLastSeen(ctx, session.ID, time.Now()) //nolint:errcheck // Best effort, validation succeeds regardless

	return session, nil
}

// StartSession creates and persists a session, anonymous when userID is
// nil. Returns the session and its plaintext token.
func (s *Service) StartSession(ctx context.Context, userID *ulid.ULID, userAgent, ipAddress string) (*Session, string, error) {
	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return nil, "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "generate session token").
			Wrap(err)
	}

	session, err := NewSession(userID, tokenHash, userAgent, ipAddress, time.Now().Add(SessionTokenExpiry))
	if err != nil {
		return nil, "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "build session").
			Wrap(err)
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "persist session").
			Wrap(err)
	}

	return session, token, nil
}

// DropSession removes a session without treating absence as an error.
// Used when rotating an anonymous session into an authenticated one.
func (s *Service) DropSession(ctx context.Context, sessionID ulid.ULID) {
	if err := s.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Warn("failed to drop session", "session_id", sessionID.String(), "error", err)
	}
}
