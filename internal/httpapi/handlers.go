// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/sokohq/soko/internal/auth"
)

// SignupRequest is the body of POST /accounts/signup.
type SignupRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required"`
}

// VerifyEmailRequest is the body of POST /accounts/verify-email.
type VerifyEmailRequest struct {
	Email string `json:"email" validate:"required"`
	Code  string `json:"code" validate:"required"`
}

// IssueTokenRequest is the body of POST /tokens. Lifetime is in seconds.
// Credentials are not validated here so every credential failure is a 401.
type IssueTokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name" validate:"required"`
	Lifetime *int64 `json:"lifetime" validate:"required,gte=1"`
}

// AccountResponse is the public view of an account.
type AccountResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

// TokenResponse is the public view of an access token. AccessToken is only
// set in the response that issued it.
type TokenResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	State       string     `json:"state"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
	AccessToken string     `json:"accessToken,omitempty"`
}

func newAccountResponse(a *auth.Account) AccountResponse {
	return AccountResponse{
		ID:            a.ID.String(),
		Email:         a.Email,
		EmailVerified: a.EmailVerified,
		CreatedAt:     a.CreatedAt,
	}
}

func newTokenResponse(t *auth.AccessToken, now time.Time) TokenResponse {
	return TokenResponse{
		ID:         t.ID.String(),
		Name:       t.Name,
		State:      t.StateAt(now).String(),
		CreatedAt:  t.CreatedAt,
		ExpiresAt:  t.ExpiresAt,
		RevokedAt:  t.RevokedAt,
		LastUsedAt: t.LastUsedAt,
	}
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		h.requestLogger(r).DebugContext(r.Context(), "failed to decode request body", "error", err)
		writeBadRequest(w, r, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeValidationError(w, r, verrs)
			return false
		}
		h.writeError(w, r, oops.Code("REQUEST_VALIDATION_FAILED").Wrap(err))
		return false
	}
	return true
}

func (h *handler) signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !h.decode(w, r, &req) {
		return
	}

	_, account, err := h.accounts.Signup(r.Context(), req.Email, req.Password)
	h.metrics.SignupsTotal.WithLabelValues(result(err)).Inc()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.requestLogger(r).InfoContext(r.Context(), "account signup", "account_id", account.ID.String())
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, newAccountResponse(account))
}

func (h *handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !h.decode(w, r, &req) {
		return
	}

	account, err := h.accounts.Confirm(r.Context(), req.Email, req.Code)
	h.metrics.VerificationsTotal.WithLabelValues(result(err)).Inc()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.requestLogger(r).InfoContext(r.Context(), "email verified", "account_id", account.ID.String())
	render.JSON(w, r, newAccountResponse(account))
}

func (h *handler) issueToken(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if !h.decode(w, r, &req) {
		return
	}

	ttl := time.Duration(*req.Lifetime) * time.Second
	if *req.Lifetime > int64(auth.MaxAccessTokenLifetime/time.Second) {
		ttl = auth.MaxAccessTokenLifetime + time.Second
	}

	plaintext, token, err := h.accounts.IssueToken(r.Context(), req.Email, req.Password, req.Name, ttl)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.metrics.TokensIssuedTotal.Inc()

	h.requestLogger(r).InfoContext(r.Context(), "access token issued",
		"account_id", token.AccountID.String(),
		"token_id", token.ID.String(),
	)
	resp := newTokenResponse(token, h.accounts.Now())
	resp.AccessToken = plaintext
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, newAccountResponse(accountFrom(r.Context())))
}

func (h *handler) listTokens(w http.ResponseWriter, r *http.Request) {
	account := accountFrom(r.Context())
	tokens, err := h.accounts.ListTokens(r.Context(), account.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	now := h.accounts.Now()
	resp := make([]TokenResponse, 0, len(tokens))
	for _, t := range tokens {
		resp = append(resp, newTokenResponse(t, now))
	}
	render.JSON(w, r, resp)
}

func (h *handler) revokeToken(w http.ResponseWriter, r *http.Request) {
	account := accountFrom(r.Context())
	id, err := ulid.ParseStrict(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, oops.Code("TOKEN_NOT_FOUND").With("token_id", chi.URLParam(r, "id")).Wrap(auth.ErrNotFound))
		return
	}

	if err := h.accounts.RevokeToken(r.Context(), account.ID, id); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.requestLogger(r).InfoContext(r.Context(), "access token revoked",
		"account_id", account.ID.String(),
		"token_id", id.String(),
	)
	render.NoContent(w, r)
}
