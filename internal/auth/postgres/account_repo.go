// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/sokohq/soko/internal/auth"
)

const accountColumns = `id, email, password_hash, email_verified, created_at, updated_at`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db DB
}

var _ auth.AccountRepository = (*AccountRepository)(nil)

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO account (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		account.ID.String(),
		account.Email,
		account.PasswordHash,
		account.EmailVerified,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("ACCOUNT_EXISTS").
			With("email", account.Email).
			Wrap(auth.ErrAccountExists)
	}
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM account
		WHERE id = $1
	`, id.String())
	return r.scanOne(row, "get account by id", "id", id.String())
}

// GetByEmail retrieves an account by normalized email.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM account
		WHERE email = $1
	`, email)
	return r.scanOne(row, "get account by email", "email", email)
}

// LockForUpdate retrieves an account with a row lock held until the
// surrounding transaction ends.
func (r *AccountRepository) LockForUpdate(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM account
		WHERE id = $1
		FOR UPDATE
	`, id.String())
	return r.scanOne(row, "lock account", "id", id.String())
}

// UpdatePasswordHash replaces the stored password hash.
func (r *AccountRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, hash string) error {
	result, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE account SET password_hash = $2
		WHERE id = $1
	`, id.String(), hash)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update password hash").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// MarkEmailVerified sets email_verified to true.
func (r *AccountRepository) MarkEmailVerified(ctx context.Context, id ulid.ULID) error {
	result, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE account SET email_verified = true
		WHERE id = $1
	`, id.String())
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "mark email verified").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

func (r *AccountRepository) scanOne(row pgx.Row, operation, key, value string) (*auth.Account, error) {
	var (
		account auth.Account
		idStr   string
	)
	err := row.Scan(
		&idStr,
		&account.Email,
		&account.PasswordHash,
		&account.EmailVerified,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With(key, value).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_QUERY_FAILED").
			With("operation", operation).
			With(key, value).
			Wrap(err)
	}
	if account.ID, err = parseID("account.id", idStr); err != nil {
		return nil, err
	}
	return &account, nil
}
