// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/tollgate/tollgate/internal/auth"
	authpg "github.com/tollgate/tollgate/internal/auth/postgres"
	"github.com/tollgate/tollgate/internal/billing"
	"github.com/tollgate/tollgate/internal/config"
	"github.com/tollgate/tollgate/internal/email"
	"github.com/tollgate/tollgate/internal/logging"
	"github.com/tollgate/tollgate/internal/observability"
	"github.com/tollgate/tollgate/internal/ratelimit"
	"github.com/tollgate/tollgate/internal/store"
	tollgatetls "github.com/tollgate/tollgate/internal/tls"
	"github.com/tollgate/tollgate/internal/usage"
	"github.com/tollgate/tollgate/internal/web"
	"github.com/tollgate/tollgate/internal/xdg"
)

const (
	shutdownTimeout = 10 * time.Second

	// sweepInterval is how often expired sessions and idle limiter keys
	// are purged.
	sweepInterval = 15 * time.Minute
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the API server: auth endpoints, the protected usage API,
billing webhooks, and a metrics/health endpoint.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}

	cmd.Flags().String("addr", ":8080", "HTTP listen address")
	cmd.Flags().String("metrics_addr", "", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("database_url", "", "PostgreSQL connection URL")
	cmd.Flags().String("base_url", "http://localhost:8080", "externally visible origin")
	cmd.Flags().String("log_format", "json", "log format (json or text)")
	cmd.Flags().String("log_level", "info", "minimum log level (debug, info, warn, error)")

	return cmd
}

func runServe(cmd *cobra.Command) error {
	cfg, err := config.Load(resolveConfigFile(), cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("tollgate", version, cfg.LogFormat, cfg.LogLevel)
	logger := slog.Default()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to database")

	users := authpg.NewUserRepository(pool)
	sessions := authpg.NewSessionRepository(pool)
	usageRepo := usage.NewPostgresRepository(pool)
	hasher := auth.NewArgon2idHasher()

	authSvc, err := auth.NewServiceWithLogger(users, sessions, hasher, logger)
	if err != nil {
		return err
	}
	resetSvc, err := auth.NewPasswordResetServiceWithLogger(users, hasher, logger)
	if err != nil {
		return err
	}

	var sender email.Sender
	if cfg.EmailEnabled() {
		sender, err = email.NewResendSender(email.ResendConfig{
			APIKey: cfg.Email.APIKey,
			From:   cfg.Email.From,
		})
		if err != nil {
			return err
		}
	} else {
		logger.Warn("email delivery disabled: no api key configured")
		sender = email.NewDisabled(logger)
	}
	mailer, err := email.NewMailer(sender, logger)
	if err != nil {
		return err
	}
	defer mailer.Close()

	var provider billing.Provider
	if cfg.BillingEnabled() {
		provider, err = billing.NewStripeProvider(billing.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			SuccessURL:    cfg.BaseURL + "/dashboard?upgraded=true",
			CancelURL:     cfg.BaseURL + "/pricing",
			ReturnURL:     cfg.BaseURL + "/dashboard",
		})
		if err != nil {
			return err
		}
	} else {
		logger.Warn("billing disabled: no stripe credentials configured")
		provider = billing.DisabledProvider{}
	}

	limiter := ratelimit.NewSlidingWindow(cfg.RateLimit.Window, cfg.RateLimit.Max)

	// Metrics/health server is optional; without it the Metrics value
	// stays nil-safe and recording becomes a no-op.
	var (
		obsServer *observability.Server
		metrics   *observability.Metrics
	)
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, func() bool {
			pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
			defer pingCancel()
			return pool.Ping(pingCtx) == nil
		})
		metrics = obsServer.Metrics()
	}

	server, err := web.NewServer(web.Options{
		Auth:           authSvc,
		Reset:          resetSvc,
		Users:          users,
		Usage:          usageRepo,
		Billing:        provider,
		Mailer:         mailer,
		Limiter:        limiter,
		BaseURL:        cfg.BaseURL,
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        metrics,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	certFile, keyFile := cfg.TLS.CertFile, cfg.TLS.KeyFile
	if cfg.TLS.Auto {
		certFile, keyFile, err = tollgatetls.EnsureDevCert(xdg.CertsDir(), hostOf(cfg.BaseURL))
		if err != nil {
			return oops.Code("TLS_SETUP_FAILED").Wrap(err)
		}
		logger.Info("using generated development certificate", "cert", certFile)
	}

	errChan := make(chan error, 1)
	go func() {
		var serveErr error
		if cfg.TLSEnabled() {
			serveErr = httpServer.ListenAndServeTLS(certFile, keyFile)
		} else {
			serveErr = httpServer.ListenAndServe()
		}
		if !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	if obsServer != nil {
		obsErrChan, obsErr := obsServer.Start()
		if obsErr != nil {
			return obsErr
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	go sweepLoop(ctx, logger, sessions, limiter)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Server started on", cfg.Addr)
	logger.Info("server ready", "addr", cfg.Addr, "base_url", cfg.BaseURL)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errChan:
		return oops.Code("SERVER_FAILED").Wrap(err)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error shutting down http server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// hostOf extracts the hostname from the configured base URL, for the
// development certificate's SAN list.
func hostOf(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// sweepLoop purges expired sessions and idle rate-limit keys until ctx
// ends.
func sweepLoop(ctx context.Context, logger *slog.Logger, sessions auth.SessionRepository, limiter *ratelimit.SlidingWindow) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := sessions.DeleteExpired(ctx)
			if err != nil {
				logger.Warn("session sweep failed", "error", err)
			} else if deleted > 0 {
				logger.Debug("swept expired sessions", "deleted", deleted)
			}
			if removed := limiter.RemoveIdle(time.Now()); removed > 0 {
				logger.Debug("swept idle rate limit keys", "removed", removed)
			}
		}
	}
}

// monitorServerErrors cancels the run context when a background server
// fails, so the main loop unwinds through the normal shutdown path.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
