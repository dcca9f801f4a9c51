// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

// Package web exposes the HTTP API: auth flows, protected API routes,
// the billing webhook, and the protective middleware in front of them.
package web

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/tollgate/tollgate/internal/auth"
)

// AuthMode tags how a request was authenticated.
type AuthMode string

// Authentication modes, checked in priority order by requireAuth.
const (
	ModeSession AuthMode = "session"
	ModeAPIKey  AuthMode = "api_key"
)

// Identity is the resolved caller of an authenticated request. It is
// attached to the request context exactly once by requireAuth, so
// handlers read "current user id" through one accessor regardless of
// which mode authenticated the request.
type Identity struct {
	UserID ulid.ULID
	Mode   AuthMode
}

type ctxKey int

const (
	sessionCtxKey ctxKey = iota
	identityCtxKey
)

// withSession attaches the request's validated session to the context.
func withSession(ctx context.Context, s *auth.Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey, s)
}

// sessionFromContext returns the request's session, if any.
func sessionFromContext(ctx context.Context) (*auth.Session, bool) {
	s, ok := ctx.Value(sessionCtxKey).(*auth.Session)
	return s, ok
}

// withIdentity attaches the resolved identity to the context.
func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, id)
}

// IdentityFromContext returns the authenticated identity of the request.
// Only set on routes behind requireAuth.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey).(Identity)
	return id, ok
}
