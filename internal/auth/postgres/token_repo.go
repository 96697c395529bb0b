// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/sokohq/soko/internal/auth"
)

const tokenColumns = `id, account_id, name, mac, created_at, updated_at, expires_at, revoked_at, last_used_at`

// AccessTokenRepository implements auth.AccessTokenRepository using PostgreSQL.
type AccessTokenRepository struct {
	db DB
}

var _ auth.AccessTokenRepository = (*AccessTokenRepository)(nil)

// NewAccessTokenRepository creates a new AccessTokenRepository.
func NewAccessTokenRepository(db DB) *AccessTokenRepository {
	return &AccessTokenRepository{db: db}
}

// Create stores a new token.
func (r *AccessTokenRepository) Create(ctx context.Context, token *auth.AccessToken) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO access_token (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		token.ID.String(),
		token.AccountID.String(),
		token.Name,
		token.MAC[:],
		token.CreatedAt,
		token.UpdatedAt,
		token.ExpiresAt,
		token.RevokedAt,
		token.LastUsedAt,
	)
	if err != nil {
		return oops.Code("TOKEN_CREATE_FAILED").
			With("operation", "insert access token").
			With("account_id", token.AccountID.String()).
			With("duplicate", isUniqueViolation(err)).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a token by ID.
func (r *AccessTokenRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.AccessToken, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM access_token
		WHERE id = $1
	`, id.String())

	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_QUERY_FAILED").
			With("operation", "get access token by id").
			With("id", id.String()).
			Wrap(err)
	}
	return token, nil
}

// GetByMAC retrieves a token by its MAC.
func (r *AccessTokenRepository) GetByMAC(ctx context.Context, mac [auth.AccessTokenMACSize]byte) (*auth.AccessToken, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM access_token
		WHERE mac = $1
	`, mac[:])

	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_QUERY_FAILED").
			With("operation", "get access token by mac").
			Wrap(err)
	}
	return token, nil
}

// ListByAccount retrieves all tokens of an account, newest first.
func (r *AccessTokenRepository) ListByAccount(ctx context.Context, accountID ulid.ULID) ([]*auth.AccessToken, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `
		SELECT `+tokenColumns+`
		FROM access_token
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
	`, accountID.String())
	if err != nil {
		return nil, oops.Code("TOKEN_QUERY_FAILED").
			With("operation", "list access tokens").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var tokens []*auth.AccessToken
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, oops.Code("TOKEN_QUERY_FAILED").
				With("operation", "scan access token").
				Wrap(err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("TOKEN_QUERY_FAILED").
			With("operation", "iterate access tokens").
			Wrap(err)
	}
	return tokens, nil
}

// CountActive counts unrevoked tokens that have not expired at now.
func (r *AccessTokenRepository) CountActive(ctx context.Context, accountID ulid.ULID, now time.Time) (int, error) {
	var n int
	err := conn(ctx, r.db).QueryRow(ctx, `
		SELECT count(*)
		FROM access_token
		WHERE account_id = $1 AND revoked_at IS NULL AND expires_at > $2
	`, accountID.String(), now).Scan(&n)
	if err != nil {
		return 0, oops.Code("TOKEN_QUERY_FAILED").
			With("operation", "count active tokens").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return n, nil
}

// Revoke sets revoked_at once. Repeated calls leave the first timestamp.
func (r *AccessTokenRepository) Revoke(ctx context.Context, id ulid.ULID, at time.Time) (bool, error) {
	q := conn(ctx, r.db)
	result, err := q.Exec(ctx, `
		UPDATE access_token SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL
	`, id.String(), at)
	if err != nil {
		return false, oops.Code("TOKEN_REVOKE_FAILED").
			With("operation", "revoke access token").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM access_token WHERE id = $1)`, id.String()).Scan(&exists); err != nil {
		return false, oops.Code("TOKEN_REVOKE_FAILED").
			With("operation", "check access token exists").
			With("id", id.String()).
			Wrap(err)
	}
	if !exists {
		return false, oops.Code("TOKEN_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return false, nil
}

// Touch moves last_used_at forward to at.
func (r *AccessTokenRepository) Touch(ctx context.Context, id ulid.ULID, at time.Time) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE access_token SET last_used_at = $2
		WHERE id = $1 AND (last_used_at IS NULL OR last_used_at < $2)
	`, id.String(), at)
	if err != nil {
		return oops.Code("TOKEN_TOUCH_FAILED").
			With("operation", "stamp access token use").
			With("id", id.String()).
			Wrap(err)
	}
	return nil
}

func scanToken(row pgx.Row) (*auth.AccessToken, error) {
	var (
		token             auth.AccessToken
		idStr, accountStr string
		mac               []byte
	)
	err := row.Scan(
		&idStr,
		&accountStr,
		&token.Name,
		&mac,
		&token.CreatedAt,
		&token.UpdatedAt,
		&token.ExpiresAt,
		&token.RevokedAt,
		&token.LastUsedAt,
	)
	if err != nil {
		return nil, err
	}

	if token.ID, err = parseID("access_token.id", idStr); err != nil {
		return nil, err
	}
	if token.AccountID, err = parseID("access_token.account_id", accountStr); err != nil {
		return nil, err
	}
	if len(mac) != auth.AccessTokenMACSize {
		return nil, oops.Code("TOKEN_CORRUPT_MAC").
			With("id", idStr).
			With("length", len(mac)).
			Errorf("stored mac has wrong length")
	}
	copy(token.MAC[:], mac)
	return &token, nil
}
