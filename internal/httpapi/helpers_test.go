// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/sokohq/soko/internal/auth"
	"github.com/sokohq/soko/internal/auth/memstore"
	"github.com/sokohq/soko/internal/observability"
)

const testPassword = "Correct-Horse-42!"

var testArgon2Params = auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}

type recordingMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *recordingMailer) SendVerificationCode(_ context.Context, email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = make(map[string]string)
	}
	m.codes[email] = code
	return nil
}

func (m *recordingMailer) Code(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[email]
}

// testAPI is a router backed by real services over an in-memory store.
type testAPI struct {
	handler http.Handler
	mailer  *recordingMailer
	metrics *observability.Metrics
}

func newTestAPI(t *testing.T, opts ...auth.Option) *testAPI {
	t.Helper()
	store := memstore.New()
	mailer := &recordingMailer{}
	key, err := auth.NewMACKey([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	opts = append([]auth.Option{auth.WithVerificationParams(testArgon2Params)}, opts...)
	verifications, err := auth.NewVerificationCodeService(store.Accounts(), store.Verifications(), store, opts...)
	require.NoError(t, err)
	tokens, err := auth.NewAccessTokenService(store.Accounts(), store.Tokens(), store, key, opts...)
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

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	handler, err := NewRouter(accounts, metrics, nil)
	require.NoError(t, err)
	return &testAPI{handler: handler, mailer: mailer, metrics: metrics}
}

// do sends a request with an optional JSON body and bearer token.
func (a *testAPI) do(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	return serve(t, a.handler, method, path, body, bearer)
}

func serve(t *testing.T, h http.Handler, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// signupVerified registers and verifies email through the API.
func (a *testAPI) signupVerified(t *testing.T, email string) AccountResponse {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/accounts/signup", SignupRequest{Email: email, Password: testPassword}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/accounts/verify-email", VerifyEmailRequest{Email: email, Code: a.mailer.Code(email)}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[AccountResponse](t, rec)
}

// issueToken logs in and returns the issued token response.
func (a *testAPI) issueToken(t *testing.T, email, name string) TokenResponse {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/tokens", tokenRequest(email, testPassword, name, int64(time.Hour/time.Second)), "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[TokenResponse](t, rec)
}

func tokenRequest(email, password, name string, lifetime int64) IssueTokenRequest {
	return IssueTokenRequest{Email: email, Password: password, Name: name, Lifetime: &lifetime}
}
