// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

// Package store owns the PostgreSQL connection and schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ConnectConfig controls how the pool is opened.
type ConnectConfig struct {
	URL      string
	MaxConns int32
	// Timeout bounds how long Connect keeps retrying an unreachable database.
	Timeout time.Duration
}

// Connect opens a pool and pings until the database answers or the timeout
// elapses.
func Connect(ctx context.Context, cfg ConnectConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	b := retry.NewExponential(100 * time.Millisecond)
	b = retry.WithCappedDuration(2*time.Second, b)
	b = retry.WithMaxDuration(cfg.Timeout, b)

	attempt := 0
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if err := pool.Ping(ctx); err != nil {
			logger.Warn("database not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping").
			With("attempts", attempt).
			Wrap(err)
	}

	logger.Info("database connected", "attempts", attempt, "max_conns", poolCfg.MaxConns)
	return pool, nil
}
