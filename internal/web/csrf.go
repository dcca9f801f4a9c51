// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package web

import (
	"net/http"

	"github.com/tollgate/tollgate/internal/auth"
)

// webhookPath is exempt from CSRF checks: the caller is a billing
// provider authenticated by its signature header, not a browser.
const webhookPath = "/webhook/stripe"

// csrfExempt reports whether the request skips the CSRF check
// entirely. API-key callers carry no ambient browser credential, so
// there is nothing for a cross-site page to ride on.
func csrfExempt(r *http.Request) bool {
	if r.URL.Path == webhookPath {
		return true
	}
	return apiKeyFromRequest(r) != ""
}

// safeMethod reports whether the method is read-only under the CSRF
// model.
func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// csrfTokenFromRequest gathers the client-supplied CSRF token from
// any of the accepted channels.
func csrfTokenFromRequest(r *http.Request) string {
	if t := r.Header.Get("CSRF-Token"); t != "" {
		return t
	}
	if t := r.Header.Get("X-CSRF-Token"); t != "" {
		return t
	}
	if t := r.URL.Query().Get("_csrf"); t != "" {
		return t
	}
	// PostFormValue only reads form-encoded bodies, so JSON payloads
	// stay intact for the handler.
	return r.PostFormValue("_csrf")
}

// ensureSession returns the request's session, creating an anonymous
// one (and setting its cookie) when none exists yet. Pre-login pages
// need a session to hold the CSRF token they will submit with.
func (s *Server) ensureSession(w http.ResponseWriter, r *http.Request) (*auth.Session, *http.Request, error) {
	if session, ok := sessionFromContext(r.Context()); ok {
		return session, r, nil
	}
	session, token, err := s.auth.StartSession(r.Context(), nil, r.UserAgent(), r.RemoteAddr)
	if err != nil {
		return nil, r, err
	}
	s.setSessionCookie(w, token, session.ExpiresAt)
	return session, r.WithContext(withSession(r.Context(), session)), nil
}

// csrfGuard rejects unsafe cross-site requests. Safe methods pass
// through untouched; clients bootstrap a token via GET /csrf-token
// before posting.
func (s *Server) csrfGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if csrfExempt(r) || safeMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		session, ok := sessionFromContext(r.Context())
		if !ok {
			s.metrics.RecordAuthFailure("csrf_no_session")
			writeMessage(w, http.StatusForbidden, "Invalid CSRF token")
			return
		}
		if !session.VerifyCSRF(csrfTokenFromRequest(r)) {
			s.metrics.RecordAuthFailure("csrf_mismatch")
			writeMessage(w, http.StatusForbidden, "Invalid CSRF token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleCSRFToken hands the session's CSRF token to the client.
func (s *Server) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	session, _, err := s.ensureSession(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": session.CSRFToken})
}
