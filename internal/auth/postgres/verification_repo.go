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

const verificationColumns = `id, account_id, cyphertext, status::text, created_at, updated_at`

// VerificationRepository implements auth.VerificationRepository using PostgreSQL.
type VerificationRepository struct {
	db DB
}

var _ auth.VerificationRepository = (*VerificationRepository)(nil)

// NewVerificationRepository creates a new VerificationRepository.
func NewVerificationRepository(db DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// Create stores a new request. The partial unique index rejects a second
// active request for the same account.
func (r *VerificationRepository) Create(ctx context.Context, req *auth.VerificationCodeRequest) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO verification_code_request (id, account_id, cyphertext, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		req.ID.String(),
		req.AccountID.String(),
		req.Cyphertext,
		req.Status.String(),
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		return oops.Code("VERIFICATION_CREATE_FAILED").
			With("operation", "insert verification request").
			With("account_id", req.AccountID.String()).
			With("duplicate_active", isUniqueViolation(err)).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a request by ID.
func (r *VerificationRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.VerificationCodeRequest, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+verificationColumns+`
		FROM verification_code_request
		WHERE id = $1
	`, id.String())

	req, err := scanVerification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("VERIFICATION_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("VERIFICATION_QUERY_FAILED").
			With("operation", "get verification request by id").
			With("id", id.String()).
			Wrap(err)
	}
	return req, nil
}

// GetActiveByAccount retrieves the account's active request.
func (r *VerificationRepository) GetActiveByAccount(ctx context.Context, accountID ulid.ULID) (*auth.VerificationCodeRequest, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+verificationColumns+`
		FROM verification_code_request
		WHERE account_id = $1 AND status = 'active'
	`, accountID.String())

	req, err := scanVerification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("VERIFICATION_NOT_FOUND").
			With("account_id", accountID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("VERIFICATION_QUERY_FAILED").
			With("operation", "get active verification request").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return req, nil
}

// ListByAccount retrieves every request of the account, oldest first.
func (r *VerificationRepository) ListByAccount(ctx context.Context, accountID ulid.ULID) ([]*auth.VerificationCodeRequest, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `
		SELECT `+verificationColumns+`
		FROM verification_code_request
		WHERE account_id = $1
		ORDER BY created_at, id
	`, accountID.String())
	if err != nil {
		return nil, oops.Code("VERIFICATION_QUERY_FAILED").
			With("operation", "list verification requests").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var reqs []*auth.VerificationCodeRequest
	for rows.Next() {
		req, err := scanVerification(rows)
		if err != nil {
			return nil, oops.Code("VERIFICATION_QUERY_FAILED").
				With("operation", "scan verification request").
				Wrap(err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("VERIFICATION_QUERY_FAILED").
			With("operation", "iterate verification requests").
			Wrap(err)
	}
	return reqs, nil
}

// CancelActive cancels every active request of the account.
func (r *VerificationRepository) CancelActive(ctx context.Context, accountID ulid.ULID) (int64, error) {
	result, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE verification_code_request SET status = 'cancelled'
		WHERE account_id = $1 AND status = 'active'
	`, accountID.String())
	if err != nil {
		return 0, oops.Code("VERIFICATION_UPDATE_FAILED").
			With("operation", "cancel active requests").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// TransitionStatus moves a request from one status to another.
func (r *VerificationRepository) TransitionStatus(ctx context.Context, id ulid.ULID, from, to auth.VerificationStatus) error {
	if !from.CanTransitionTo(to) {
		return oops.Code("VERIFICATION_INVALID_TRANSITION").
			With("from", from.String()).
			With("to", to.String()).
			Errorf("illegal verification status transition")
	}

	result, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE verification_code_request SET status = $3
		WHERE id = $1 AND status = $2
	`, id.String(), from.String(), to.String())
	if err != nil {
		return oops.Code("VERIFICATION_UPDATE_FAILED").
			With("operation", "transition status").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("VERIFICATION_NOT_FOUND").
			With("id", id.String()).
			With("status", from.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanVerification(row pgx.Row) (*auth.VerificationCodeRequest, error) {
	var (
		req               auth.VerificationCodeRequest
		idStr, accountStr string
		statusStr         string
	)
	if err := row.Scan(&idStr, &accountStr, &req.Cyphertext, &statusStr, &req.CreatedAt, &req.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if req.ID, err = parseID("verification_code_request.id", idStr); err != nil {
		return nil, err
	}
	if req.AccountID, err = parseID("verification_code_request.account_id", accountStr); err != nil {
		return nil, err
	}
	if req.Status, err = auth.ParseVerificationStatus(statusStr); err != nil {
		return nil, err
	}
	return &req, nil
}
