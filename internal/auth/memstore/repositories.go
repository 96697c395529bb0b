// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/sokohq/soko/internal/auth"
)

// AccountRepository implements auth.AccountRepository.
type AccountRepository struct {
	s *Store
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.accounts[account.ID]; ok {
		return oops.Code("ACCOUNT_EXISTS").With("id", account.ID.String()).Wrap(auth.ErrAccountExists)
	}
	if _, ok := r.s.byEmail[account.Email]; ok {
		return oops.Code("ACCOUNT_EXISTS").With("email", account.Email).Wrap(auth.ErrAccountExists)
	}
	r.s.accounts[account.ID] = *account
	r.s.byEmail[account.Email] = account.ID
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	defer r.s.lock(ctx)()
	return r.get(id)
}

// GetByEmail retrieves an account by its normalized email.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	defer r.s.lock(ctx)()

	id, ok := r.s.byEmail[email]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	return r.get(id)
}

// LockForUpdate retrieves an account. Transactions are already exclusive.
func (r *AccountRepository) LockForUpdate(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	return r.GetByID(ctx, id)
}

// UpdatePasswordHash replaces the stored password hash.
func (r *AccountRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, hash string) error {
	defer r.s.lock(ctx)()
	return r.update(id, func(a *auth.Account) { a.PasswordHash = hash })
}

// MarkEmailVerified sets EmailVerified.
func (r *AccountRepository) MarkEmailVerified(ctx context.Context, id ulid.ULID) error {
	defer r.s.lock(ctx)()
	return r.update(id, func(a *auth.Account) { a.EmailVerified = true })
}

func (r *AccountRepository) get(id ulid.ULID) (*auth.Account, error) {
	account, ok := r.s.accounts[id]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return &account, nil
}

func (r *AccountRepository) update(id ulid.ULID, fn func(*auth.Account)) error {
	account, ok := r.s.accounts[id]
	if !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	fn(&account)
	account.UpdatedAt = r.s.stamp()
	r.s.accounts[id] = account
	return nil
}

// VerificationRepository implements auth.VerificationRepository.
type VerificationRepository struct {
	s *Store
}

// Create stores a new request. A second active request for the same account
// is rejected, mirroring the partial unique index of the relational schema.
func (r *VerificationRepository) Create(ctx context.Context, req *auth.VerificationCodeRequest) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.accounts[req.AccountID]; !ok {
		return oops.Code("VERIFICATION_CREATE_FAILED").
			With("account_id", req.AccountID.String()).
			Errorf("account does not exist")
	}
	if req.Status == auth.VerificationActive {
		if _, ok := r.activeFor(req.AccountID); ok {
			return oops.Code("VERIFICATION_CREATE_FAILED").
				With("account_id", req.AccountID.String()).
				Errorf("account already has an active verification request")
		}
	}
	r.s.requests[req.ID] = *req
	return nil
}

// GetByID retrieves a request by ID.
func (r *VerificationRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.VerificationCodeRequest, error) {
	defer r.s.lock(ctx)()

	req, ok := r.s.requests[id]
	if !ok {
		return nil, oops.Code("VERIFICATION_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return &req, nil
}

// GetActiveByAccount retrieves the account's active request.
func (r *VerificationRepository) GetActiveByAccount(ctx context.Context, accountID ulid.ULID) (*auth.VerificationCodeRequest, error) {
	defer r.s.lock(ctx)()

	req, ok := r.activeFor(accountID)
	if !ok {
		return nil, oops.Code("VERIFICATION_NOT_FOUND").
			With("account_id", accountID.String()).
			Wrap(auth.ErrNotFound)
	}
	return &req, nil
}

// CancelActive cancels every active request of the account.
func (r *VerificationRepository) CancelActive(ctx context.Context, accountID ulid.ULID) (int64, error) {
	defer r.s.lock(ctx)()

	var n int64
	now := r.s.stamp()
	for id, req := range r.s.requests {
		if req.AccountID == accountID && req.Status == auth.VerificationActive {
			req.Status = auth.VerificationCancelled
			req.UpdatedAt = now
			r.s.requests[id] = req
			n++
		}
	}
	return n, nil
}

// TransitionStatus moves a request from one status to another.
func (r *VerificationRepository) TransitionStatus(ctx context.Context, id ulid.ULID, from, to auth.VerificationStatus) error {
	if !from.CanTransitionTo(to) {
		return oops.Code("VERIFICATION_INVALID_TRANSITION").
			With("from", from.String()).
			With("to", to.String()).
			Errorf("illegal verification status transition")
	}

	defer r.s.lock(ctx)()

	req, ok := r.s.requests[id]
	if !ok || req.Status != from {
		return oops.Code("VERIFICATION_NOT_FOUND").
			With("id", id.String()).
			With("status", from.String()).
			Wrap(auth.ErrNotFound)
	}
	req.Status = to
	req.UpdatedAt = r.s.stamp()
	r.s.requests[id] = req
	return nil
}

// ListByAccount retrieves every request of the account, oldest first.
func (r *VerificationRepository) ListByAccount(ctx context.Context, accountID ulid.ULID) ([]*auth.VerificationCodeRequest, error) {
	defer r.s.lock(ctx)()

	var out []*auth.VerificationCodeRequest
	for _, req := range r.s.requests {
		if req.AccountID == accountID {
			out = append(out, &req)
		}
	}
	slices.SortFunc(out, func(a, b *auth.VerificationCodeRequest) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return a.ID.Compare(b.ID)
	})
	return out, nil
}

func (r *VerificationRepository) activeFor(accountID ulid.ULID) (auth.VerificationCodeRequest, bool) {
	for _, req := range r.s.requests {
		if req.AccountID == accountID && req.Status == auth.VerificationActive {
			return req, true
		}
	}
	return auth.VerificationCodeRequest{}, false
}

// AccessTokenRepository implements auth.AccessTokenRepository.
type AccessTokenRepository struct {
	s *Store
}

// Create stores a new token. MACs are unique.
func (r *AccessTokenRepository) Create(ctx context.Context, token *auth.AccessToken) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.accounts[token.AccountID]; !ok {
		return oops.Code("TOKEN_CREATE_FAILED").
			With("account_id", token.AccountID.String()).
			Errorf("account does not exist")
	}
	if token.ExpiresAt.Before(token.CreatedAt) {
		return oops.Code("TOKEN_CREATE_FAILED").Errorf("expiry precedes creation")
	}
	if _, ok := r.s.byMAC[token.MAC]; ok {
		return oops.Code("TOKEN_CREATE_FAILED").Errorf("duplicate token mac")
	}
	if _, ok := r.s.tokens[token.ID]; ok {
		return oops.Code("TOKEN_CREATE_FAILED").With("id", token.ID.String()).Errorf("duplicate token id")
	}
	r.s.tokens[token.ID] = *token
	r.s.byMAC[token.MAC] = token.ID
	return nil
}

// GetByID retrieves a token by ID.
func (r *AccessTokenRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.AccessToken, error) {
	defer r.s.lock(ctx)()
	return r.get(id)
}

// GetByMAC retrieves a token by MAC.
func (r *AccessTokenRepository) GetByMAC(ctx context.Context, mac [auth.AccessTokenMACSize]byte) (*auth.AccessToken, error) {
	defer r.s.lock(ctx)()

	id, ok := r.s.byMAC[mac]
	if !ok {
		return nil, oops.Code("TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return r.get(id)
}

// ListByAccount retrieves the account's tokens, newest first.
func (r *AccessTokenRepository) ListByAccount(ctx context.Context, accountID ulid.ULID) ([]*auth.AccessToken, error) {
	defer r.s.lock(ctx)()

	var out []*auth.AccessToken
	for _, token := range r.s.tokens {
		if token.AccountID == accountID {
			out = append(out, cloneToken(token))
		}
	}
	slices.SortFunc(out, func(a, b *auth.AccessToken) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return b.ID.Compare(a.ID)
	})
	return out, nil
}

// CountActive counts the account's usable tokens at now.
func (r *AccessTokenRepository) CountActive(ctx context.Context, accountID ulid.ULID, now time.Time) (int, error) {
	defer r.s.lock(ctx)()

	n := 0
	for _, token := range r.s.tokens {
		if token.AccountID == accountID && token.StateAt(now) == auth.TokenActive {
			n++
		}
	}
	return n, nil
}

// Revoke sets RevokedAt if unset.
func (r *AccessTokenRepository) Revoke(ctx context.Context, id ulid.ULID, at time.Time) (bool, error) {
	defer r.s.lock(ctx)()

	token, ok := r.s.tokens[id]
	if !ok {
		return false, oops.Code("TOKEN_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if token.RevokedAt != nil {
		return false, nil
	}
	revokedAt := at
	token.RevokedAt = &revokedAt
	token.UpdatedAt = at
	r.s.tokens[id] = token
	return true, nil
}

// Touch moves LastUsedAt forward to at. Unknown IDs are ignored.
func (r *AccessTokenRepository) Touch(ctx context.Context, id ulid.ULID, at time.Time) error {
	defer r.s.lock(ctx)()

	token, ok := r.s.tokens[id]
	if !ok {
		return nil
	}
	if token.LastUsedAt != nil && !at.After(*token.LastUsedAt) {
		return nil
	}
	usedAt := at
	token.LastUsedAt = &usedAt
	r.s.tokens[id] = token
	return nil
}

func (r *AccessTokenRepository) get(id ulid.ULID) (*auth.AccessToken, error) {
	token, ok := r.s.tokens[id]
	if !ok {
		return nil, oops.Code("TOKEN_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return cloneToken(token), nil
}

func cloneToken(token auth.AccessToken) *auth.AccessToken {
	if token.RevokedAt != nil {
		revokedAt := *token.RevokedAt
		token.RevokedAt = &revokedAt
	}
	if token.LastUsedAt != nil {
		usedAt := *token.LastUsedAt
		token.LastUsedAt = &usedAt
	}
	return &token
}

// Compile-time interface checks.
var (
	_ auth.AccountRepository      = (*AccountRepository)(nil)
	_ auth.VerificationRepository = (*VerificationRepository)(nil)
	_ auth.AccessTokenRepository  = (*AccessTokenRepository)(nil)
)
