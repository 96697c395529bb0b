// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Soko CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "soko",
		Short: "Soko - artifact repository accounts service",
		Long: `Soko manages accounts for the artifact repository: signup with
email verification codes and revocable bearer access tokens.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")

	cmd.AddCommand(NewServeCmd(nil))
	cmd.AddCommand(NewMigrateCmd(nil))

	return cmd
}
