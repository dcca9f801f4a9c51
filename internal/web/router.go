// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package web

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/samber/oops"

	"github.com/tollgate/tollgate/internal/auth"
	"github.com/tollgate/tollgate/internal/billing"
	"github.com/tollgate/tollgate/internal/email"
	"github.com/tollgate/tollgate/internal/observability"
	"github.com/tollgate/tollgate/internal/ratelimit"
	"github.com/tollgate/tollgate/internal/usage"
)

// MailQueue is the slice of the mail worker the handlers need.
type MailQueue interface {
	Enqueue(email.Message)
}

// requestLimiter is the limiter surface the middleware needs: the
// check itself plus the configured ceiling for response headers.
type requestLimiter interface {
	ratelimit.Limiter
	Limit() int
}

// Options carries the collaborators for a Server. All service fields
// are required; Metrics and Logger may be nil (metrics methods are
// nil-safe, the logger falls back to slog.Default).
type Options struct {
	Auth    *auth.Service
	Reset   *auth.PasswordResetService
	Users   auth.UserRepository
	Usage   usage.Repository
	Billing billing.Provider
	Mailer  MailQueue
	Limiter requestLimiter

	// BaseURL is the externally visible origin, used to build links in
	// outbound email and to decide whether cookies are Secure.
	BaseURL string

	// AllowedOrigins configures CORS for the browser dashboard.
	AllowedOrigins []string

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Server is the HTTP surface. Construct with NewServer and mount
// Handler on an http.Server.
type Server struct {
	auth    *auth.Service
	reset   *auth.PasswordResetService
	users   auth.UserRepository
	usage   usage.Repository
	billing billing.Provider
	mailer  MailQueue
	limiter requestLimiter

	baseURL        string
	allowedOrigins []string
	secureCookies  bool

	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewServer validates the collaborators and builds a Server.
func NewServer(opts Options) (*Server, error) {
	errb := oops.Code("WEB_INVALID_SERVER")
	switch {
	case opts.Auth == nil:
		return nil, errb.Errorf("auth service is required")
	case opts.Reset == nil:
		return nil, errb.Errorf("password reset service is required")
	case opts.Users == nil:
		return nil, errb.Errorf("user repository is required")
	case opts.Usage == nil:
		return nil, errb.Errorf("usage repository is required")
	case opts.Billing == nil:
		return nil, errb.Errorf("billing provider is required")
	case opts.Mailer == nil:
		return nil, errb.Errorf("mail queue is required")
	case opts.Limiter == nil:
		return nil, errb.Errorf("rate limiter is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		auth:           opts.Auth,
		reset:          opts.Reset,
		users:          opts.Users,
		usage:          opts.Usage,
		billing:        opts.Billing,
		mailer:         opts.Mailer,
		limiter:        opts.Limiter,
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		allowedOrigins: opts.AllowedOrigins,
		secureCookies:  strings.HasPrefix(opts.BaseURL, "https://"),
		metrics:        opts.Metrics,
		logger:         logger,
	}, nil
}

// Handler assembles the route tree.
//
// Middleware order matters: sessions load before the CSRF guard needs
// them, and on /api the limiter runs before identity resolution so a
// burst is turned away without touching the credential store.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(s.logRequests)
	r.Use(chimw.Recoverer)

	if len(s.allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key", "CSRF-Token", "X-CSRF-Token"},
			ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Use(s.loadSession)
	r.Use(s.csrfGuard)

	r.Get("/health", s.handleHealth)
	r.Get("/csrf-token", s.handleCSRFToken)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", s.handleSignup)
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Post("/forgot-password", s.handleForgotPassword)
		r.Post("/reset-password", s.handleResetPassword)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Use(s.requireAuth)
		r.Get("/dashboard", s.handleDashboard)
		r.Post("/track", s.handleTrack)
		r.Post("/checkout", s.handleCheckout)
		r.Post("/billing-portal", s.handleBillingPortal)
	})

	r.Post(webhookPath, s.handleStripeWebhook)

	return r
}
