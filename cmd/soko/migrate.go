// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package main

import (
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/sokohq/soko/internal/config"
	"github.com/sokohq/soko/internal/store"
)

// NewMigrateCmd creates the migrate command group.
func NewMigrateCmd(deps *MigrateDeps) *cobra.Command {
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  `Apply, roll back and inspect the PostgreSQL schema migrations.`,
	}
	config.RegisterFlags(cmd.PersistentFlags())

	var all bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration (--all for every migration)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m Migrator) error {
				if all {
					if err := m.Down(); err != nil {
						return err
					}
				} else if err := m.Steps(-1); err != nil {
					return err
				}
				return printVersion(cmd, m)
			})
		},
	}
	down.Flags().BoolVar(&all, "all", false, "roll back every migration, dropping all account data")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, deps, func(m Migrator) error {
					if err := m.Up(); err != nil {
						return err
					}
					return printVersion(cmd, m)
				})
			},
		},
		down,
		&cobra.Command{
			Use:   "version",
			Short: "Show the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, deps, func(m Migrator) error {
					return printVersion(cmd, m)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, deps, func(m Migrator) error {
					return printStatus(cmd, m)
				})
			},
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Mark VERSION as applied without running it (clears a dirty state)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := parseForceVersion(args[0])
				if err != nil {
					return err
				}
				return withMigrator(cmd, deps, func(m Migrator) error {
					if err := m.Force(v); err != nil {
						return err
					}
					return printVersion(cmd, m)
				})
			},
		},
	)

	return cmd
}

// withMigrator loads the database URL from configuration and runs fn.
func withMigrator(cmd *cobra.Command, deps *MigrateDeps, fn func(Migrator) error) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m, err := deps.MigratorFactory(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrln("warning: closing migrator:", closeErr)
		}
	}()
	return fn(m)
}

func parseForceVersion(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, oops.Code("INVALID_VERSION").With("version", s).Errorf("version must be a non-negative integer, got %q", s)
	}
	return v, nil
}

func printVersion(cmd *cobra.Command, m Migrator) error {
	v, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if dirty {
		cmd.Printf("schema version %d (dirty)\n", v)
		return nil
	}
	cmd.Printf("schema version %d\n", v)
	return nil
}

func printStatus(cmd *cobra.Command, m Migrator) error {
	applied, err := m.AppliedMigrations()
	if err != nil {
		return err
	}
	pending, err := m.PendingMigrations()
	if err != nil {
		return err
	}
	for _, group := range []struct {
		label    string
		versions []uint
	}{{"applied", applied}, {"pending", pending}} {
		for _, v := range group.versions {
			name, err := store.MigrationName(v)
			if err != nil {
				return err
			}
			cmd.Printf("%-8s %s\n", group.label, name)
		}
	}
	if len(pending) == 0 {
		cmd.Println("schema is up to date")
	}
	return nil
}
