// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sokohq/soko/internal/auth"
	"github.com/sokohq/soko/internal/auth/memstore"
)

// testArgon2Params keeps argon2id cheap in tests.
var testArgon2Params = auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}

const testPassword = "Correct-Horse-42!"

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testMACKey(t *testing.T) auth.MACKey {
	t.Helper()
	key, err := auth.NewMACKey([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return key
}

// recordingMailer captures delivered codes.
type recordingMailer struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (m *recordingMailer) SendVerificationCode(_ context.Context, email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = make(map[string]string)
	}
	m.codes[email] = code
	return m.err
}

func (m *recordingMailer) Code(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[email]
}

// fixture wires every service against one in-memory store.
type fixture struct {
	store         *memstore.Store
	clock         *testClock
	mailer        *recordingMailer
	verifications *auth.VerificationCodeService
	tokens        *auth.AccessTokenService
	accounts      *auth.AccountService
}

func newFixture(t *testing.T, opts ...auth.Option) *fixture {
	t.Helper()
	clock := newTestClock()
	store := memstore.New(memstore.WithClock(clock.Now))
	mailer := &recordingMailer{}

	opts = append([]auth.Option{
		auth.WithClock(clock.Now),
		auth.WithVerificationParams(testArgon2Params),
	}, opts...)

	verifications, err := auth.NewVerificationCodeService(store.Accounts(), store.Verifications(), store, opts...)
	require.NoError(t, err)
	tokens, err := auth.NewAccessTokenService(store.Accounts(), store.Tokens(), store, testMACKey(t), opts...)
	require.NoError(t, err)
	accounts, err := auth.NewAccountService(
		store.Accounts(),
		auth.NewArgon2idHasherWithParams(testArgon2Params),
		store,
		verifications,
		tokens,
		mailer,
		opts...,
	)
	require.NoError(t, err)

	return &fixture{
		store:         store,
		clock:         clock,
		mailer:        mailer,
		verifications: verifications,
		tokens:        tokens,
		accounts:      accounts,
	}
}

// createAccount stores an account directly, bypassing signup.
func (f *fixture) createAccount(t *testing.T, email string, verified bool) *auth.Account {
	t.Helper()
	hash, err := auth.NewArgon2idHasherWithParams(testArgon2Params).Hash(testPassword)
	require.NoError(t, err)
	account, err := auth.NewAccount(email, hash, f.clock.Now())
	require.NoError(t, err)
	account.EmailVerified = verified
	require.NoError(t, f.store.Accounts().Create(context.Background(), account))
	return account
}
