// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/sokohq/soko/internal/auth"
	"github.com/sokohq/soko/internal/observability"
)

type accountKey struct{}

// accountFrom returns the account authenticated by requireAccount.
func accountFrom(ctx context.Context) *auth.Account {
	account, _ := ctx.Value(accountKey{}).(*auth.Account)
	return account
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// requireAccount rejects requests without a valid bearer token.
func (h *handler) requireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeUnauthorized(w, r)
			return
		}

		account, err := h.accounts.Authenticate(r.Context(), token)
		h.metrics.TokenValidationsTotal.WithLabelValues(result(err)).Inc()
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey{}, account)))
	})
}

// instrument counts requests by route pattern and status, and logs them.
func (h *handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		h.metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()

		h.logger.DebugContext(r.Context(), "http request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

// result is the metric label for an operation outcome.
func result(err error) string {
	if err == nil {
		return observability.ResultOK
	}
	return auth.Classify(err).String()
}
