// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tollgate/tollgate/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Tollgate CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tollgate",
		Short: "Tollgate - multi-tenant SaaS auth and billing backend",
		Long: `Tollgate is the account backend for a metered SaaS API: signup and
login, API keys, password resets, usage metering, and subscription
billing webhooks.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// resolveConfigFile returns the --config value, falling back to the XDG
// default path when that file exists.
func resolveConfigFile() string {
	if configFile != "" {
		return configFile
	}
	if path := xdg.DefaultConfigFile(); fileExists(path) {
		return path
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
