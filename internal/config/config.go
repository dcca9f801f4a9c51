// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

// Package config loads service configuration in layers: built-in
// defaults, then a YAML file, then command-line flags. Flags changed
// on the command line win over the file; the defaults fill whatever
// neither sets.
package config

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config holds all service configuration.
type Config struct {
	// Addr is the HTTP listen address for the API.
	Addr string `koanf:"addr"`

	// MetricsAddr is the observability listen address. Empty disables it.
	MetricsAddr string `koanf:"metrics_addr"`

	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string `koanf:"database_url"`

	// BaseURL is the externally visible origin, used to build password
	// reset links and checkout return URLs.
	BaseURL string `koanf:"base_url"`

	// LogFormat is "json" or "text".
	LogFormat string `koanf:"log_format"`

	// LogLevel is the minimum level emitted: debug, info, warn or error.
	LogLevel string `koanf:"log_level"`

	// AllowedOrigins feed the CORS middleware.
	AllowedOrigins []string `koanf:"allowed_origins"`

	RateLimit RateLimit `koanf:"rate_limit"`
	Stripe    Stripe    `koanf:"stripe"`
	Email     Email     `koanf:"email"`
	TLS       TLS       `koanf:"tls"`
}

// RateLimit configures the sliding-window limiter on /api routes.
type RateLimit struct {
	Window time.Duration `koanf:"window"`
	Max    int           `koanf:"max"`
}

// Stripe configures the payment provider. An empty SecretKey disables
// billing; the rest of the service runs without it.
type Stripe struct {
	SecretKey     string `koanf:"secret_key"`
	WebhookSecret string `koanf:"webhook_secret"`
}

// Email configures outbound mail. An empty APIKey disables delivery.
type Email struct {
	APIKey string `koanf:"api_key"`
	From   string `koanf:"from"`
}

// TLS configures HTTPS serving. Auto generates a self-signed
// development certificate; production sets cert_file and key_file.
type TLS struct {
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
	Auto     bool   `koanf:"auto"`
}

// defaults seed the keys every subcommand relies on, so a config file
// that only sets database_url still validates regardless of which
// command's flag set is in play.
var defaults = map[string]any{
	"addr":       ":8080",
	"base_url":   "http://localhost:8080",
	"log_format": "json",
	"log_level":  "info",
}

// Load reads configuration in layers: built-in defaults, then the YAML
// file (if path is non-empty), then flags.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").
			With("operation", "load defaults").
			Wrap(err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("operation", "load flags").
				Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").
			With("operation", "unmarshal").
			Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("addr is required")
	}
	if c.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database_url is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return oops.Code("CONFIG_INVALID").Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	if c.RateLimit.Window < 0 {
		return oops.Code("CONFIG_INVALID").Errorf("rate_limit.window cannot be negative")
	}
	if c.RateLimit.Max < 0 {
		return oops.Code("CONFIG_INVALID").Errorf("rate_limit.max cannot be negative")
	}
	if c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret == "" {
		return oops.Code("CONFIG_INVALID").Errorf("stripe.webhook_secret is required when stripe.secret_key is set")
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return oops.Code("CONFIG_INVALID").Errorf("tls.cert_file and tls.key_file must be set together")
	}
	if c.TLS.Auto && c.TLS.CertFile != "" {
		return oops.Code("CONFIG_INVALID").Errorf("tls.auto cannot be combined with tls.cert_file")
	}
	return nil
}

// TLSEnabled reports whether the API listener should serve HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.TLS.Auto || c.TLS.CertFile != ""
}

// BillingEnabled reports whether payment provider credentials are present.
func (c *Config) BillingEnabled() bool {
	return c.Stripe.SecretKey != ""
}

// EmailEnabled reports whether outbound mail credentials are present.
func (c *Config) EmailEnabled() bool {
	return c.Email.APIKey != ""
}
