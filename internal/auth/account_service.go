// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/sokohq/soko/pkg/errutil"
)

// dummyPasswordHash is verified against when no account matches an email so
// response time does not reveal which emails are registered.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// AccountService is the entry point used by the HTTP layer: signup, email
// confirmation, token issuance and bearer authentication.
type AccountService struct {
	accounts      AccountRepository
	hasher        PasswordHasher
	tx            Transactor
	verifications *VerificationCodeService
	tokens        *AccessTokenService
	mailer        Mailer
	opts          options
}

// NewAccountService creates a new AccountService.
func NewAccountService(
	accounts AccountRepository,
	hasher PasswordHasher,
	tx Transactor,
	verifications *VerificationCodeService,
	tokens *AccessTokenService,
	mailer Mailer,
	opts ...Option,
) (*AccountService, error) {
	if accounts == nil {
		return nil, oops.Errorf("account repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if tx == nil {
		return nil, oops.Errorf("transactor is required")
	}
	if verifications == nil {
		return nil, oops.Errorf("verification service is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("access token service is required")
	}
	if mailer == nil {
		return nil, oops.Errorf("mailer is required")
	}
	return &AccountService{
		accounts:      accounts,
		hasher:        hasher,
		tx:            tx,
		verifications: verifications,
		tokens:        tokens,
		mailer:        mailer,
		opts:          applyOptions(opts),
	}, nil
}

// Signup registers an email or restarts registration of an unverified one,
// then issues a verification code and hands it to the mailer.
// A verified email yields ErrAccountAlreadyVerified.
func (s *AccountService) Signup(ctx context.Context, email, password string) (string, *Account, error) {
	ctx, span := s.opts.tracer.Start(ctx, "AccountService.Signup")
	defer span.End()

	normalized, err := NormalizeEmail(email)
	if err != nil {
		return "", nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return "", nil, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", nil, oops.Code("ACCOUNT_SIGNUP_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	var (
		account *Account
		code    string
	)
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var txErr error
		account, txErr = s.upsertUnverified(ctx, normalized, hash)
		if txErr != nil {
			return txErr
		}
		code, _, txErr = s.verifications.Issue(ctx, account)
		return txErr
	})
	if err != nil {
		return "", nil, err
	}

	if err := s.mailer.SendVerificationCode(ctx, account.Email, code); err != nil {
		errutil.LogError(s.opts.logger, "verification code delivery failed", oops.
			With("account_id", account.ID.String()).
			Wrap(err))
	}
	return code, account, nil
}

// upsertUnverified creates the account, or replaces the password hash of an
// existing unverified one. Must run inside a transaction.
func (s *AccountService) upsertUnverified(ctx context.Context, email, hash string) (*Account, error) {
	existing, err := s.accounts.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		account, err := NewAccount(email, hash, s.opts.clock())
		if err != nil {
			return nil, err
		}
		if err := s.accounts.Create(ctx, account); err != nil {
			if errors.Is(err, ErrAccountExists) {
				return nil, err
			}
			return nil, oops.Code("ACCOUNT_SIGNUP_FAILED").
				With("operation", "create account").
				Wrap(err)
		}
		return account, nil
	case err != nil:
		return nil, oops.Code("ACCOUNT_SIGNUP_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	locked, err := s.accounts.LockForUpdate(ctx, existing.ID)
	if err != nil {
		return nil, oops.Code("ACCOUNT_SIGNUP_FAILED").
			With("operation", "lock account").
			With("account_id", existing.ID.String()).
			Wrap(err)
	}
	if locked.EmailVerified {
		return nil, oops.Code("ACCOUNT_ALREADY_VERIFIED").
			With("account_id", locked.ID.String()).
			Wrap(ErrAccountAlreadyVerified)
	}
	if err := s.accounts.UpdatePasswordHash(ctx, locked.ID, hash); err != nil {
		return nil, oops.Code("ACCOUNT_SIGNUP_FAILED").
			With("operation", "update password hash").
			With("account_id", locked.ID.String()).
			Wrap(err)
	}
	locked.PasswordHash = hash
	locked.UpdatedAt = s.opts.clock()
	return locked, nil
}

// Confirm verifies the email of the account registered under email.
// An unknown email is indistinguishable from an account without an active
// request.
func (s *AccountService) Confirm(ctx context.Context, email, code string) (*Account, error) {
	ctx, span := s.opts.tracer.Start(ctx, "AccountService.Confirm")
	defer span.End()

	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	account, err := s.accounts.GetByEmail(ctx, normalized)
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code("VERIFICATION_NO_ACTIVE_REQUEST").Wrap(ErrNoActiveRequest)
	}
	if err != nil {
		return nil, oops.Code("VERIFICATION_CONFIRM_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}
	if err := s.verifications.Confirm(ctx, account, code); err != nil {
		return nil, err
	}
	return account, nil
}

// IssueToken checks email and password and issues an access token for a
// verified account. Every credential failure yields AUTH_UNAUTHORIZED.
func (s *AccountService) IssueToken(ctx context.Context, email, password, name string, ttl time.Duration) (string, *AccessToken, error) {
	ctx, span := s.opts.tracer.Start(ctx, "AccountService.IssueToken")
	defer span.End()

	account, err := s.checkCredentials(ctx, email, password)
	if err != nil {
		return "", nil, err
	}
	return s.tokens.Issue(ctx, account, name, ttl)
}

func (s *AccountService) checkCredentials(ctx context.Context, email, password string) (*Account, error) {
	var (
		account    *Account
		targetHash = dummyPasswordHash
	)
	if normalized, err := NormalizeEmail(email); err == nil {
		found, lookupErr := s.accounts.GetByEmail(ctx, normalized)
		switch {
		case lookupErr == nil:
			account = found
			targetHash = found.PasswordHash
		case !errors.Is(lookupErr, ErrNotFound):
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get account by email").
				Wrap(lookupErr)
		}
	}

	// Always verify so a missing account costs the same as a wrong password.
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if account == nil {
		return nil, unauthorized(ErrInvalidCredentials)
	}
	if verifyErr != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("account_id", account.ID.String()).
			Wrap(verifyErr)
	}
	if !valid {
		return nil, unauthorized(ErrInvalidCredentials)
	}
	if !account.EmailVerified {
		return nil, unauthorized(ErrEmailNotVerified)
	}
	return account, nil
}

// Authenticate resolves a bearer token to its account.
func (s *AccountService) Authenticate(ctx context.Context, bearer string) (*Account, error) {
	return s.tokens.Validate(ctx, bearer)
}

// ListTokens returns the account's access tokens, newest first.
func (s *AccountService) ListTokens(ctx context.Context, accountID ulid.ULID) ([]*AccessToken, error) {
	return s.tokens.List(ctx, accountID)
}

// RevokeToken revokes one of the account's access tokens.
func (s *AccountService) RevokeToken(ctx context.Context, accountID, tokenID ulid.ULID) error {
	return s.tokens.RevokeForAccount(ctx, accountID, tokenID)
}

// Now returns the service clock.
func (s *AccountService) Now() time.Time {
	return s.tokens.Now()
}
