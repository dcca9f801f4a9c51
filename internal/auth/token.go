// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"regexp"

	"github.com/samber/oops"
)

// Token sizes. Collision probability across a 2^192+ space is treated as
// negligible; the store's uniqueness constraints are the backstop.
const (
	// APIKeyPrefix marks long-lived bearer API keys.
	APIKeyPrefix = "sk_"

	// APIKeyBytes of randomness per API key (48 hex chars after encoding).
	APIKeyBytes = 24

	// ResetTokenBytes of randomness per password reset token.
	ResetTokenBytes = 32

	// SessionTokenBytes of randomness per session token.
	SessionTokenBytes = 32

	// CSRFTokenBytes of randomness per anti-forgery token.
	CSRFTokenBytes = 32
)

// apiKeyPattern matches a well-formed API key.
var apiKeyPattern = regexp.MustCompile(`^sk_[0-9a-f]{48}$`)

// GenerateAPIKey issues a new API key: "sk_" followed by 48 hex characters.
// The key is returned to the caller exactly once at signup and stored as-is
// for exact-match lookup.
func GenerateAPIKey() (string, error) {
	raw, err := randomHex(APIKeyBytes)
	if err != nil {
		return "", err
	}
	return APIKeyPrefix + raw, nil
}

// ValidAPIKeyFormat reports whether key has the sk_<48 hex> shape.
// It says nothing about whether the key exists.
func ValidAPIKeyFormat(key string) bool {
	return apiKeyPattern.MatchString(key)
}

// GenerateSessionToken creates a secure random token and its hash.
// The plaintext token travels in the cookie; only the hash is stored.
func GenerateSessionToken() (token, hash string, err error) {
	token, err = randomHex(SessionTokenBytes)
	if err != nil {
		return "", "", err
	}
	return token, HashToken(token), nil
}

// GenerateResetToken creates a secure random reset token and its hash.
// The plaintext token is embedded in the reset URL sent to the user;
// only the hash is stored.
func GenerateResetToken() (token, hash string, err error) {
	token, err = randomHex(ResetTokenBytes)
	if err != nil {
		return "", "", err
	}
	return token, HashToken(token), nil
}

// GenerateCSRFToken creates a per-session anti-forgery token.
func GenerateCSRFToken() (string, error) {
	return randomHex(CSRFTokenBytes)
}

// HashToken computes the hex-encoded SHA-256 of a token. Session and reset
// tokens are stored hashed so a leaked database row cannot be replayed.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// ConstantTimeEquals compares two token strings in constant time.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", oops.Code("TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", n).
			Wrap(err)
	}
	return hex.EncodeToString(buf), nil
}
