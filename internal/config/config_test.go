// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate/tollgate/internal/config"
	"github.com/tollgate/tollgate/pkg/errutil"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func serveFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("addr", ":8080", "")
	flags.String("metrics_addr", "", "")
	flags.String("database_url", "", "")
	flags.String("base_url", "http://localhost:8080", "")
	flags.String("log_format", "json", "")
	flags.String("log_level", "info", "")
	return flags
}

// migrateFlags mirrors the migrate subcommand: no addr or log_format
// flags, so those keys must come from the defaults layer.
func migrateFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flags.String("database_url", "", "")
	flags.Bool("down", false, "")
	return flags
}

func TestLoad(t *testing.T) {
	t.Run("file values with flag defaults filling gaps", func(t *testing.T) {
		path := writeConfig(t, `
addr: ":9090"
database_url: "postgres://localhost/tollgate"
allowed_origins:
  - "https://app.example.com"
rate_limit:
  window: 30s
  max: 10
stripe:
  secret_key: "sk_test_key"
  webhook_secret: "whsec_test"
email:
  api_key: "re_test"
  from: "noreply@example.com"
`)

		cfg, err := config.Load(path, serveFlags())
		require.NoError(t, err)

		assert.Equal(t, ":9090", cfg.Addr)
		assert.Equal(t, "postgres://localhost/tollgate", cfg.DatabaseURL)
		assert.Equal(t, "json", cfg.LogFormat, "default fills the gap")
		assert.Equal(t, []string{"https://app.example.com"}, cfg.AllowedOrigins)
		assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
		assert.Equal(t, 10, cfg.RateLimit.Max)
		assert.True(t, cfg.BillingEnabled())
		assert.True(t, cfg.EmailEnabled())
	})

	t.Run("changed flags override the file", func(t *testing.T) {
		path := writeConfig(t, `
addr: ":9090"
database_url: "postgres://localhost/tollgate"
`)

		flags := serveFlags()
		require.NoError(t, flags.Parse([]string{"--addr", ":7000", "--log_format", "text"}))

		cfg, err := config.Load(path, flags)
		require.NoError(t, err)
		assert.Equal(t, ":7000", cfg.Addr)
		assert.Equal(t, "text", cfg.LogFormat)
	})

	t.Run("flags alone are enough", func(t *testing.T) {
		flags := serveFlags()
		require.NoError(t, flags.Parse([]string{"--database_url", "postgres://localhost/tollgate"}))

		cfg, err := config.Load("", flags)
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Addr)
		assert.False(t, cfg.BillingEnabled())
		assert.False(t, cfg.EmailEnabled())
	})

	t.Run("minimal file with a sparse flag set", func(t *testing.T) {
		path := writeConfig(t, `database_url: "postgres://localhost/tollgate"`)

		cfg, err := config.Load(path, migrateFlags())
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Addr)
		assert.Equal(t, "json", cfg.LogFormat)
		assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	})

	t.Run("minimal file with no flags at all", func(t *testing.T) {
		path := writeConfig(t, `database_url: "postgres://localhost/tollgate"`)

		cfg, err := config.Load(path, nil)
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Addr)
		assert.Equal(t, "json", cfg.LogFormat)
	})

	t.Run("missing file errors", func(t *testing.T) {
		_, err := config.Load("/does/not/exist.yaml", serveFlags())
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
	})
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *config.Config {
		return &config.Config{
			Addr:        ":8080",
			DatabaseURL: "postgres://localhost/tollgate",
			LogFormat:   "json",
			LogLevel:    "info",
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("addr is required", func(t *testing.T) {
		cfg := valid()
		cfg.Addr = ""
		err := cfg.Validate()
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	})

	t.Run("database_url is required", func(t *testing.T) {
		cfg := valid()
		cfg.DatabaseURL = ""
		require.Error(t, cfg.Validate())
	})

	t.Run("log_format must be json or text", func(t *testing.T) {
		cfg := valid()
		cfg.LogFormat = "xml"
		require.Error(t, cfg.Validate())
	})

	t.Run("log_level must be a known level", func(t *testing.T) {
		cfg := valid()
		cfg.LogLevel = "verbose"
		err := cfg.Validate()
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONFIG_INVALID")

		for _, level := range []string{"debug", "info", "warn", "error"} {
			cfg.LogLevel = level
			assert.NoError(t, cfg.Validate())
		}
	})

	t.Run("negative rate limit values are rejected", func(t *testing.T) {
		cfg := valid()
		cfg.RateLimit.Max = -1
		require.Error(t, cfg.Validate())
	})

	t.Run("stripe secret without webhook secret is rejected", func(t *testing.T) {
		cfg := valid()
		cfg.Stripe.SecretKey = "sk_test_key"
		require.Error(t, cfg.Validate())

		cfg.Stripe.WebhookSecret = "whsec_test"
		assert.NoError(t, cfg.Validate())
	})
}
