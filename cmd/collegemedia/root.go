// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/collegemedia/collegemedia/internal/config"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configFile string
}

// NewRootCmd creates the root command for the collegemedia CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "collegemedia",
		Short: "College Media authentication server",
		Long: `collegemedia serves account registration, login and password reset
for College Media, backed by PostgreSQL with an in-memory fallback.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/collegemedia/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd(opts, nil))
	cmd.AddCommand(newMigrateCmd(opts, nil))
	cmd.AddCommand(newStatusCmd(opts, nil))

	return cmd
}

// loadConfig layers defaults, the config file, flags and environment.
func loadConfig(cmd *cobra.Command, opts *rootOptions, getenv func(string) string) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		Path:   opts.configFile,
		Flags:  cmd.Flags(),
		Getenv: getenv,
	})
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
