// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/grindstone/scripthost/internal/bridge"
	"github.com/grindstone/scripthost/internal/config"
	"github.com/grindstone/scripthost/internal/logging"
)

const serviceName = "scripthost"

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the scripthost CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scripthost",
		Short: "Host hot-reloadable Lua script modules",
		Long: `scripthost loads Lua script modules into isolated contexts, creates
component and object instances from the types they export, drives their
lifecycle hooks and reloads them when their sources change.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/scripthost/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewTypesCmd())
	cmd.AddCommand(NewFieldsCmd())
	cmd.AddCommand(NewListCmd())

	return cmd
}

// setup loads configuration for cmd and installs the default logger.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(config.LoadOptions{
		Path:     configFile,
		Required: configFile != "",
		Flags:    cmd.Flags(),
	})
	if err != nil {
		return nil, nil, err
	}

	opts := cfg.Logging(serviceName, version)
	opts.Writer = cmd.ErrOrStderr()
	return cfg, logging.SetDefault(opts), nil
}

// newSession creates a bridge session from cfg.
func newSession(cfg *config.Config, logger *slog.Logger) *bridge.Session {
	return bridge.NewSession(
		bridge.WithLogger(logger),
		bridge.WithConfig(cfg.Bridge()),
	)
}
