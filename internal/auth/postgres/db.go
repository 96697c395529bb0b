// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

// Package postgres implements the auth repositories on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/sokohq/soko/internal/auth"
)

// querier is the statement surface shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is satisfied by *pgxpool.Pool and pgxmock pools.
type DB interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

type txKey struct{}

// conn returns the transaction carried by ctx, or db when there is none.
func conn(ctx context.Context, db DB) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return db
}

// Default retry policy for transactions aborted by serialization failures or
// deadlocks.
const (
	DefaultTxRetries = 3
	DefaultTxBackoff = 20 * time.Millisecond
)

// Transactor implements auth.Transactor with pgx transactions.
type Transactor struct {
	db      DB
	retries uint64
	backoff time.Duration
}

var _ auth.Transactor = (*Transactor)(nil)

// NewTransactor creates a Transactor with the default retry policy.
func NewTransactor(db DB) *Transactor {
	return &Transactor{db: db, retries: DefaultTxRetries, backoff: DefaultTxBackoff}
}

// WithRetry returns a copy of t using the given retry policy.
// Zero retries runs every transaction once.
func (t *Transactor) WithRetry(retries uint64, backoff time.Duration) *Transactor {
	return &Transactor{db: t.db, retries: retries, backoff: backoff}
}

// InTransaction runs fn in a transaction. A nested call joins the outer
// transaction. fn may run more than once when the transaction is retried.
func (t *Transactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	b := retry.WithMaxRetries(t.retries, retry.NewExponential(t.backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := t.run(ctx, fn)
		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (t *Transactor) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := t.db.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck // rollback after failure; the original error wins
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// parseID parses a TEXT column holding a ULID.
func parseID(column, value string) (ulid.ULID, error) {
	id, err := ulid.Parse(value)
	if err != nil {
		return ulid.ULID{}, oops.Code("CORRUPT_ID").
			With("column", column).
			With("value", value).
			Wrap(err)
	}
	return id, nil
}
