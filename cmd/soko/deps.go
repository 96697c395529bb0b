// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/sokohq/soko/internal/auth"
	"github.com/sokohq/soko/internal/auth/postgres"
	"github.com/sokohq/soko/internal/config"
	"github.com/sokohq/soko/internal/mailer"
	"github.com/sokohq/soko/internal/observability"
	"github.com/sokohq/soko/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PoolFactory opens the database pool.
	// Default: store.Connect
	PoolFactory func(ctx context.Context, cfg store.ConnectConfig, logger *slog.Logger) (Pool, error)

	// MigratorFactory creates a migrator for auto-migration.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// MailerFactory creates the verification code mailer.
	// Default: newMailer
	MailerFactory func(cfg config.MailerConfig, logger *slog.Logger) (Mailer, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// LogOutput receives log records.
	// Default: os.Stderr
	LogOutput io.Writer
}

// MigrateDeps contains injectable dependencies for the migrate command.
type MigrateDeps struct {
	// MigratorFactory creates a migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)
}

// Pool is the database handle used by serve. *pgxpool.Pool implements it.
type Pool interface {
	postgres.DB
	Ping(ctx context.Context) error
	Close()
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	AppliedMigrations() ([]uint, error)
	Close() error
}

// Mailer is an auth.Mailer that holds resources.
type Mailer interface {
	auth.Mailer
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.PoolFactory == nil {
		out.PoolFactory = func(ctx context.Context, cfg store.ConnectConfig, logger *slog.Logger) (Pool, error) {
			return store.Connect(ctx, cfg, logger)
		}
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = defaultMigratorFactory
	}
	if out.MailerFactory == nil {
		out.MailerFactory = newMailer
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if out.LogOutput == nil {
		out.LogOutput = os.Stderr
	}
	return &out
}

func (d *MigrateDeps) withDefaults() *MigrateDeps {
	out := MigrateDeps{}
	if d != nil {
		out = *d
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = defaultMigratorFactory
	}
	return &out
}

func defaultMigratorFactory(databaseURL string) (Migrator, error) {
	return store.NewMigrator(databaseURL)
}

// logMailer adapts mailer.LogMailer to Mailer.
type logMailer struct {
	*mailer.LogMailer
}

func (logMailer) Close() error { return nil }

// newMailer builds the mailer selected by cfg.Kind.
func newMailer(cfg config.MailerConfig, logger *slog.Logger) (Mailer, error) {
	if cfg.Kind == config.MailerAMQP {
		return mailer.DialAMQP(cfg.AMQPURL, cfg.Queue)
	}
	return logMailer{mailer.NewLogMailer(logger)}, nil
}
