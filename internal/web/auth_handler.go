// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package web

import (
	"fmt"
	"html"
	"net/http"
	"net/url"

	"github.com/tollgate/tollgate/internal/email"
)

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// handleSignup creates an account and logs it in. The response is the
// only time the API key is ever sent to the client.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.auth.Signup(r.Context(), req.Email, req.Password, req.Name, r.UserAgent(), r.RemoteAddr)
	if err != nil {
		writeError(w, err)
		return
	}

	// Rotate away from the anonymous session the CSRF guard created.
	if old, ok := sessionFromContext(r.Context()); ok {
		s.auth.DropSession(r.Context(), old.ID)
	}
	s.setSessionCookie(w, result.SessionToken, result.Session.ExpiresAt)

	s.mailer.Enqueue(email.Message{
		To:      result.User.Email,
		Subject: "Welcome to Tollgate",
		HTML:    welcomeHTML(result.User.Name),
	})
	s.metrics.RecordEmailQueued()

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"apiKey":  result.APIKey,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	_, session, token, err := s.auth.Login(r.Context(), req.Email, req.Password, r.UserAgent(), r.RemoteAddr)
	if err != nil {
		writeError(w, err)
		return
	}

	if old, ok := sessionFromContext(r.Context()); ok {
		s.auth.DropSession(r.Context(), old.ID)
	}
	s.setSessionCookie(w, token, session.ExpiresAt)

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if session, ok := sessionFromContext(r.Context()); ok {
		if err := s.auth.Logout(r.Context(), session.ID); err != nil {
			writeError(w, err)
			return
		}
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// handleForgotPassword responds identically whether or not the email
// belongs to an account, so the endpoint cannot be used to probe for
// registered addresses.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	token, err := s.reset.RequestReset(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	if token != "" {
		s.mailer.Enqueue(email.Message{
			To:      req.Email,
			Subject: "Reset your Tollgate password",
			HTML:    resetHTML(s.resetURL(token)),
		})
		s.metrics.RecordEmailQueued()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "If that email exists, a reset link has been sent",
	})
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := s.reset.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) resetURL(token string) string {
	return s.baseURL + "/reset-password?token=" + url.QueryEscape(token)
}

func welcomeHTML(name string) string {
	if name == "" {
		name = "there"
	}
	name = html.EscapeString(name)
	return fmt.Sprintf(
		"<p>Hi %s,</p><p>Your Tollgate account is ready. Your API key is shown once on your dashboard signup confirmation; keep it somewhere safe.</p>",
		name)
}

func resetHTML(link string) string {
	return fmt.Sprintf(
		"<p>We received a request to reset your password.</p><p><a href=%q>Reset your password</a></p><p>The link expires in one hour. If you did not ask for this, you can ignore this email.</p>",
		link)
}
