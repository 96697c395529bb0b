// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

// Package memstore implements the auth repositories in memory.
//
// Transactions are serialized: InTransaction holds a store-wide lock for the
// duration of fn and restores a snapshot of all state if fn fails. Repository
// calls outside a transaction each behave as a single-statement transaction.
package memstore

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sokohq/soko/internal/auth"
)

type txKey struct{}

// Store holds accounts, verification requests and access tokens.
type Store struct {
	txMu sync.Mutex // held for the whole of a transaction
	mu   sync.Mutex // guards the maps

	accounts map[ulid.ULID]auth.Account
	byEmail  map[string]ulid.ULID
	requests map[ulid.ULID]auth.VerificationCodeRequest
	tokens   map[ulid.ULID]auth.AccessToken
	byMAC    map[[auth.AccessTokenMACSize]byte]ulid.ULID

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for UpdatedAt stamps. Pass the same clock
// the services run on.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		accounts: make(map[ulid.ULID]auth.Account),
		byEmail:  make(map[string]ulid.ULID),
		requests: make(map[ulid.ULID]auth.VerificationCodeRequest),
		tokens:   make(map[ulid.ULID]auth.AccessToken),
		byMAC:    make(map[[auth.AccessTokenMACSize]byte]ulid.ULID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// stamp is the store clock at database precision.
func (s *Store) stamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Accounts returns the account repository view of the store.
func (s *Store) Accounts() *AccountRepository { return &AccountRepository{s: s} }

// Verifications returns the verification repository view of the store.
func (s *Store) Verifications() *VerificationRepository { return &VerificationRepository{s: s} }

// Tokens returns the access token repository view of the store.
func (s *Store) Tokens() *AccessTokenRepository { return &AccessTokenRepository{s: s} }

// InTransaction runs fn with exclusive access to the store. If fn returns an
// error every change made through the transaction context is undone.
// A nested call joins the outer transaction.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := s.snapshot()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.mu.Lock()
		s.restore(snap)
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, ok := ctx.Value(txKey{}).(*Store)
	return ok && owner == s
}

// lock acquires the map lock, first taking the transaction lock when ctx is
// not already inside one of this store's transactions.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		s.mu.Lock()
		return s.mu.Unlock
	}
	s.txMu.Lock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.txMu.Unlock()
	}
}

type state struct {
	accounts map[ulid.ULID]auth.Account
	byEmail  map[string]ulid.ULID
	requests map[ulid.ULID]auth.VerificationCodeRequest
	tokens   map[ulid.ULID]auth.AccessToken
	byMAC    map[[auth.AccessTokenMACSize]byte]ulid.ULID
}

// snapshot copies the maps. Values are plain structs; the pointer fields of
// AccessToken are replaced rather than mutated in place.
func (s *Store) snapshot() state {
	return state{
		accounts: maps.Clone(s.accounts),
		byEmail:  maps.Clone(s.byEmail),
		requests: maps.Clone(s.requests),
		tokens:   maps.Clone(s.tokens),
		byMAC:    maps.Clone(s.byMAC),
	}
}

func (s *Store) restore(snap state) {
	s.accounts = snap.accounts
	s.byEmail = snap.byEmail
	s.requests = snap.requests
	s.tokens = snap.tokens
	s.byMAC = snap.byMAC
}

// Compile-time interface check.
var _ auth.Transactor = (*Store)(nil)
