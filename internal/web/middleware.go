// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package web

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tollgate/tollgate/internal/auth"
)

// sessionCookie is the browser session cookie. HttpOnly keeps scripts
// away from the raw token; SameSite=Lax blocks the cookie on
// cross-site unsafe requests, the CSRF token covers the rest.
const sessionCookie = "tollgate_session"

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// loadSession resolves the session cookie, if present and valid, into
// the request context. Invalid or expired cookies are ignored here;
// routes that need a session decide what absence means.
func (s *Server) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err == nil && cookie.Value != "" {
			if session, err := s.auth.ValidateSession(r.Context(), cookie.Value); err == nil {
				r = r.WithContext(withSession(r.Context(), session))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// apiKeyFromRequest extracts an API key candidate from the header or
// query string. Presence alone is enough for the CSRF exemption; the
// key is only verified by requireAuth.
func apiKeyFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

// requireAuth resolves the caller identity: a logged-in session wins,
// then an API key, otherwise 401. Must run after loadSession.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if session, ok := sessionFromContext(r.Context()); ok && !session.IsAnonymous() {
			id := Identity{UserID: *session.UserID, Mode: ModeSession}
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
			return
		}

		if key := apiKeyFromRequest(r); key != "" {
			if !auth.ValidAPIKeyFormat(key) {
				s.metrics.RecordAuthFailure("malformed_api_key")
				writeMessage(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
			user, err := s.users.GetByAPIKey(r.Context(), key)
			if err != nil {
				s.metrics.RecordAuthFailure("unknown_api_key")
				writeMessage(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
			id := Identity{UserID: user.ID, Mode: ModeAPIKey}
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
			return
		}

		s.metrics.RecordAuthFailure("unauthenticated")
		writeMessage(w, http.StatusUnauthorized, "Authentication required")
	})
}

// rateLimitKey picks the bucket for a request: the logged-in user,
// else the presented API key, else the client address. Keeping the
// key verbatim (not resolved to a user) avoids a store round trip
// before the limiter can reject.
func rateLimitKey(r *http.Request) string {
	if session, ok := sessionFromContext(r.Context()); ok && !session.IsAnonymous() {
		return "user:" + session.UserID.String()
	}
	if key := apiKeyFromRequest(r); key != "" {
		return "key:" + key
	}
	return "ip:" + r.RemoteAddr
}

// rateLimit enforces the per-identity request budget. Runs before
// requireAuth so rejected bursts never reach credential lookups.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := s.limiter.Allow(rateLimitKey(r), time.Now())
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.limiter.Limit()))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			s.metrics.RecordRateLimited()
			retryAfter := int(res.RetryAfter.Seconds() + 0.5)
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":      "Rate limit exceeded",
				"retryAfter": retryAfter,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// logRequests emits one structured line per request and feeds the
// request counter.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.metrics.RecordRequest(r.Method, ww.Status())
		s.logger.LogAttrs(r.Context(), slog.LevelInfo, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote", r.RemoteAddr),
		)
	})
}
