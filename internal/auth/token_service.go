// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package auth

import (
	"context"
	"crypto/hmac"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/sokohq/soko/pkg/errutil"
)

// AccessTokenService issues, validates and revokes access tokens.
type AccessTokenService struct {
	accounts AccountRepository
	tokens   AccessTokenRepository
	tx       Transactor
	key      MACKey
	opts     options
}

// NewAccessTokenService creates a new AccessTokenService using key to MAC tokens.
func NewAccessTokenService(
	accounts AccountRepository,
	tokens AccessTokenRepository,
	tx Transactor,
	key MACKey,
	opts ...Option,
) (*AccessTokenService, error) {
	if accounts == nil {
		return nil, oops.Errorf("account repository is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("access token repository is required")
	}
	if tx == nil {
		return nil, oops.Errorf("transactor is required")
	}
	if key.IsZero() {
		return nil, oops.Errorf("mac key is required")
	}
	return &AccessTokenService{
		accounts: accounts,
		tokens:   tokens,
		tx:       tx,
		key:      key,
		opts:     applyOptions(opts),
	}, nil
}

// Issue creates a token for the account expiring ttl from now. The plaintext
// is returned exactly once; only its MAC is stored.
func (s *AccessTokenService) Issue(ctx context.Context, account *Account, name string, ttl time.Duration) (string, *AccessToken, error) {
	ctx, span := s.opts.tracer.Start(ctx, "AccessTokenService.Issue")
	defer span.End()

	if account == nil {
		return "", nil, oops.Code("TOKEN_ISSUE_FAILED").Errorf("account is required")
	}

	plaintext, mac, err := GenerateAccessToken(s.key)
	if err != nil {
		return "", nil, err
	}
	now := s.opts.clock()
	token, err := NewAccessToken(account.ID, name, mac, now, ttl)
	if err != nil {
		return "", nil, err
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.accounts.LockForUpdate(ctx, account.ID); err != nil {
			return oops.Code("TOKEN_ISSUE_FAILED").
				With("operation", "lock account").
				With("account_id", account.ID.String()).
				Wrap(err)
		}
		if s.opts.maxActiveTokens > 0 {
			active, err := s.tokens.CountActive(ctx, account.ID, now)
			if err != nil {
				return oops.Code("TOKEN_ISSUE_FAILED").
					With("operation", "count active tokens").
					With("account_id", account.ID.String()).
					Wrap(err)
			}
			if active >= s.opts.maxActiveTokens {
				return oops.Code("TOKEN_LIMIT_REACHED").
					With("account_id", account.ID.String()).
					With("limit", s.opts.maxActiveTokens).
					Wrap(ErrTokenLimitReached)
			}
		}
		if err := s.tokens.Create(ctx, token); err != nil {
			return oops.Code("TOKEN_ISSUE_FAILED").
				With("operation", "insert token").
				With("account_id", account.ID.String()).
				Wrap(err)
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return plaintext, token, nil
}

// Validate resolves a presented plaintext token to its owning account.
// Unknown, revoked and expired tokens all yield AUTH_UNAUTHORIZED; the
// concrete reason is reachable with errors.Is.
func (s *AccessTokenService) Validate(ctx context.Context, plaintext string) (*Account, error) {
	ctx, span := s.opts.tracer.Start(ctx, "AccessTokenService.Validate")
	defer span.End()

	if plaintext == "" {
		return nil, unauthorized(ErrTokenNotFound)
	}

	mac := s.key.Sum(plaintext)
	token, err := s.tokens.GetByMAC(ctx, mac)
	if errors.Is(err, ErrNotFound) {
		return nil, unauthorized(ErrTokenNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_VALIDATE_FAILED").
			With("operation", "get token by mac").
			Wrap(err)
	}
	if !hmac.Equal(token.MAC[:], mac[:]) {
		return nil, unauthorized(ErrTokenNotFound)
	}

	now := s.opts.clock()
	switch token.StateAt(now) {
	case TokenRevoked:
		return nil, unauthorized(ErrTokenRevoked)
	case TokenExpired:
		return nil, unauthorized(ErrTokenExpired)
	}

	account, err := s.accounts.GetByID(ctx, token.AccountID)
	if err != nil {
		return nil, oops.Code("TOKEN_VALIDATE_FAILED").
			With("operation", "get owning account").
			With("token_id", token.ID.String()).
			Wrap(err)
	}

	// A missed stamp must not reject a valid token.
	if err := s.tokens.Touch(ctx, token.ID, now); err != nil {
		errutil.LogErrorContext(ctx, s.opts.logger, "access token use not recorded", err)
	}
	return account, nil
}

// Revoke marks the token revoked. Revoking an already revoked token is a
// no-op; an unknown ID is NotFound.
func (s *AccessTokenService) Revoke(ctx context.Context, id ulid.ULID) error {
	ctx, span := s.opts.tracer.Start(ctx, "AccessTokenService.Revoke")
	defer span.End()

	_, err := s.tokens.Revoke(ctx, id, s.opts.clock())
	if errors.Is(err, ErrNotFound) {
		return tokenNotFound(id)
	}
	if err != nil {
		return oops.Code("TOKEN_REVOKE_FAILED").
			With("operation", "revoke token").
			With("token_id", id.String()).
			Wrap(err)
	}
	return nil
}

// RevokeForAccount revokes a token owned by accountID. Tokens of other
// accounts are reported as NotFound.
func (s *AccessTokenService) RevokeForAccount(ctx context.Context, accountID, id ulid.ULID) error {
	token, err := s.tokens.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return tokenNotFound(id)
	}
	if err != nil {
		return oops.Code("TOKEN_REVOKE_FAILED").
			With("operation", "get token").
			With("token_id", id.String()).
			Wrap(err)
	}
	if token.AccountID != accountID {
		return tokenNotFound(id)
	}
	return s.Revoke(ctx, id)
}

// List returns the account's tokens, newest first.
func (s *AccessTokenService) List(ctx context.Context, accountID ulid.ULID) ([]*AccessToken, error) {
	tokens, err := s.tokens.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, oops.Code("TOKEN_LIST_FAILED").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return tokens, nil
}

// Now returns the service clock, for callers reporting token state.
func (s *AccessTokenService) Now() time.Time {
	return s.opts.clock()
}

func tokenNotFound(id ulid.ULID) error {
	return oops.Code("TOKEN_NOT_FOUND").
		With("token_id", id.String()).
		Wrap(ErrNotFound)
}
