// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

// Package httpapi exposes account signup, email verification and access
// token management over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/sokohq/soko/internal/auth"
	"github.com/sokohq/soko/internal/observability"
)

// Accounts is the account API served over HTTP. *auth.AccountService
// implements it.
type Accounts interface {
	Signup(ctx context.Context, email, password string) (string, *auth.Account, error)
	Confirm(ctx context.Context, email, code string) (*auth.Account, error)
	IssueToken(ctx context.Context, email, password, name string, ttl time.Duration) (string, *auth.AccessToken, error)
	Authenticate(ctx context.Context, bearer string) (*auth.Account, error)
	ListTokens(ctx context.Context, accountID ulid.ULID) ([]*auth.AccessToken, error)
	RevokeToken(ctx context.Context, accountID, tokenID ulid.ULID) error
	Now() time.Time
}

var _ Accounts = (*auth.AccountService)(nil)

type handler struct {
	accounts Accounts
	metrics  *observability.Metrics
	validate *validator.Validate
	logger   *slog.Logger
}

// NewRouter builds the HTTP handler. A nil logger uses slog.Default.
func NewRouter(accounts Accounts, metrics *observability.Metrics, logger *slog.Logger) (http.Handler, error) {
	if accounts == nil {
		return nil, oops.Errorf("accounts service is required")
	}
	if metrics == nil {
		return nil, oops.Errorf("metrics are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &handler{
		accounts: accounts,
		metrics:  metrics,
		validate: newValidator(),
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.instrument)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Page not found", http.StatusNotFound)
	})

	r.Get("/health", h.health)
	r.Post("/accounts/signup", h.signup)
	r.Post("/accounts/verify-email", h.verifyEmail)
	r.Post("/tokens", h.issueToken)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAccount)
		r.Get("/accounts/me", h.me)
		r.Get("/tokens", h.listTokens)
		r.Delete("/tokens/{id}", h.revokeToken)
	})

	return r, nil
}

// newValidator reports field errors under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]bool{"ok": true})
}

// requestLogger annotates the handler logger with the request ID.
func (h *handler) requestLogger(r *http.Request) *slog.Logger {
	return h.logger.With(slog.String("request_id", middleware.GetReqID(r.Context())))
}
