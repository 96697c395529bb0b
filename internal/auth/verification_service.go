// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/oops"

	"github.com/sokohq/soko/pkg/errutil"
)

// VerificationCodeService issues and confirms email verification codes.
// Plaintext codes are returned to the caller and never stored.
type VerificationCodeService struct {
	accounts AccountRepository
	requests VerificationRepository
	tx       Transactor
	strategy *VerificationCodeStrategy
	opts     options
}

// NewVerificationCodeService creates a new VerificationCodeService.
func NewVerificationCodeService(
	accounts AccountRepository,
	requests VerificationRepository,
	tx Transactor,
	opts ...Option,
) (*VerificationCodeService, error) {
	if accounts == nil {
		return nil, oops.Errorf("account repository is required")
	}
	if requests == nil {
		return nil, oops.Errorf("verification repository is required")
	}
	if tx == nil {
		return nil, oops.Errorf("transactor is required")
	}
	o := applyOptions(opts)
	return &VerificationCodeService{
		accounts: accounts,
		requests: requests,
		tx:       tx,
		strategy: NewVerificationCodeStrategy(o.verificationParams),
		opts:     o,
	}, nil
}

// Issue creates a new active request for the account, cancelling any prior
// active request in the same transaction. The plaintext code is returned for
// out-of-band delivery.
func (s *VerificationCodeService) Issue(ctx context.Context, account *Account) (string, *VerificationCodeRequest, error) {
	ctx, span := s.opts.tracer.Start(ctx, "VerificationCodeService.Issue")
	defer span.End()

	if account == nil {
		return "", nil, oops.Code("VERIFICATION_ISSUE_FAILED").Errorf("account is required")
	}

	code, cyphertext, err := s.strategy.Generate(account.ID)
	if err != nil {
		return "", nil, err
	}

	var req *VerificationCodeRequest
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var issueErr error
		req, issueErr = s.issueLocked(ctx, account, cyphertext)
		return issueErr
	})
	if err != nil {
		return "", nil, err
	}
	return code, req, nil
}

// issueLocked must run inside a transaction.
func (s *VerificationCodeService) issueLocked(ctx context.Context, account *Account, cyphertext string) (*VerificationCodeRequest, error) {
	current, err := s.accounts.LockForUpdate(ctx, account.ID)
	if err != nil {
		return nil, oops.Code("VERIFICATION_ISSUE_FAILED").
			With("operation", "lock account").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	if current.EmailVerified {
		return nil, oops.Code("ACCOUNT_ALREADY_VERIFIED").
			With("account_id", account.ID.String()).
			Wrap(ErrAccountAlreadyVerified)
	}

	if _, err := s.requests.CancelActive(ctx, account.ID); err != nil {
		return nil, oops.Code("VERIFICATION_ISSUE_FAILED").
			With("operation", "cancel active requests").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	req, err := NewVerificationCodeRequest(account.ID, cyphertext, s.opts.clock())
	if err != nil {
		return nil, err
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, oops.Code("VERIFICATION_ISSUE_FAILED").
			With("operation", "insert request").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	return req, nil
}

// Confirm checks submitted against the account's active request. On a match
// the request becomes confirmed and the account's email verified, atomically.
// A wrong or expired code mutates nothing.
func (s *VerificationCodeService) Confirm(ctx context.Context, account *Account, submitted string) error {
	ctx, span := s.opts.tracer.Start(ctx, "VerificationCodeService.Confirm")
	defer span.End()

	if account == nil {
		return oops.Code("VERIFICATION_CONFIRM_FAILED").Errorf("account is required")
	}

	req, err := s.requests.GetActiveByAccount(ctx, account.ID)
	if errors.Is(err, ErrNotFound) {
		return noActiveRequest(account)
	}
	if err != nil {
		return oops.Code("VERIFICATION_CONFIRM_FAILED").
			With("operation", "get active request").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	ok, err := s.strategy.Verify(strings.TrimSpace(submitted), account.ID, req.Cyphertext)
	if err != nil {
		errutil.LogError(s.opts.logger, "corrupt verification cyphertext", err)
		return oops.With("request_id", req.ID.String()).Wrap(err)
	}
	if !ok || req.IsExpiredAt(s.opts.clock(), s.opts.verificationTTL) {
		return unauthorized(ErrCodeMismatch)
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.accounts.LockForUpdate(ctx, account.ID); err != nil {
			return oops.Code("VERIFICATION_CONFIRM_FAILED").
				With("operation", "lock account").
				With("account_id", account.ID.String()).
				Wrap(err)
		}
		err := s.requests.TransitionStatus(ctx, req.ID, VerificationActive, VerificationConfirmed)
		if errors.Is(err, ErrNotFound) {
			return noActiveRequest(account)
		}
		if err != nil {
			return oops.Code("VERIFICATION_CONFIRM_FAILED").
				With("operation", "confirm request").
				With("request_id", req.ID.String()).
				Wrap(err)
		}
		if err := s.accounts.MarkEmailVerified(ctx, account.ID); err != nil {
			return oops.Code("VERIFICATION_CONFIRM_FAILED").
				With("operation", "mark email verified").
				With("account_id", account.ID.String()).
				Wrap(err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	account.EmailVerified = true
	return nil
}

func noActiveRequest(account *Account) error {
	return oops.Code("VERIFICATION_NO_ACTIVE_REQUEST").
		With("account_id", account.ID.String()).
		Wrap(ErrNoActiveRequest)
}
