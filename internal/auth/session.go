// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token configuration.
const (
	// SessionTokenExpiry is the absolute session lifetime.
	SessionTokenExpiry = 7 * 24 * time.Hour
)

// Session represents server-side state for one cookie-bearing client.
//
// UserID is nil for anonymous sessions, which exist so the CSRF guard can
// issue a token before the client has logged in. The CSRF token is minted
// together with the session; /csrf-token returns the same value for the
// session's whole lifetime.
type Session struct {
	ID         ulid.ULID
	UserID     *ulid.ULID
	TokenHash  string
	CSRFToken  string
	UserAgent  string
	IPAddress  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// NewSession creates a validated Session instance with a fresh CSRF token.
// UserID may be nil for an anonymous session. UserAgent and IPAddress are
// optional and may be empty.
func NewSession(userID *ulid.ULID, tokenHash, userAgent, ipAddress string, expiresAt time.Time) (*Session, error) {
	if userID != nil && userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero when provided")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	csrfToken, err := GenerateCSRFToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &Session{
		ID:         ulid.Make(),
		UserID:     userID,
		TokenHash:  tokenHash,
		CSRFToken:  csrfToken,
		UserAgent:  userAgent,
		IPAddress:  ipAddress,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		LastSeenAt: now,
	}, nil
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// IsExpiredAt returns true if the session would be expired at the given time.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return t.After(s.ExpiresAt)
}

// IsAnonymous returns true if no user is bound to the session.
func (s *Session) IsAnonymous() bool {
	return s.UserID == nil
}

// VerifyCSRF compares a caller-supplied token against the session's token
// in constant time.
func (s *Session) VerifyCSRF(token string) bool {
	if token == "" || s.CSRFToken == "" {
		return false
	}
	return ConstantTimeEquals(token, s.CSRFToken)
}

// SessionRepository manages session persistence.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetByTokenHash retrieves a session by its token hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// UpdateLastSeen updates the LastSeenAt timestamp for a session.
	UpdateLastSeen(ctx context.Context, id ulid.ULID, lastSeen time.Time) error

	// Delete removes a session by ID.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteExpired removes all expired sessions and returns the count
	// of deleted records.
	DeleteExpired(ctx context.Context) (int64, error)
}
