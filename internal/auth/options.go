// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package auth

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Default limits.
const (
	DefaultMaxActiveTokens = 3
	MaxAccessTokenLifetime = 90 * 24 * time.Hour
)

// Option configures a service.
type Option func(*options)

type options struct {
	logger             *slog.Logger
	now                func() time.Time
	verificationTTL    time.Duration
	maxActiveTokens    int
	tracer             trace.Tracer
	verificationParams Argon2Params
}

func defaultOptions() options {
	return options{
		logger:             slog.Default(),
		now:                time.Now,
		verificationTTL:    VerificationCodeLifetime,
		maxActiveTokens:    DefaultMaxActiveTokens,
		tracer:             otel.Tracer("soko/auth"),
		verificationParams: DefaultArgon2Params,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger used for internal errors.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now. Times are converted to UTC with microsecond
// precision to match what the database stores.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithVerificationLifetime sets how long a verification code stays confirmable.
func WithVerificationLifetime(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.verificationTTL = d
		}
	}
}

// WithMaxActiveTokens sets the per-account limit of usable access tokens.
// Zero or a negative value disables the limit.
func WithMaxActiveTokens(n int) Option {
	return func(o *options) {
		o.maxActiveTokens = n
	}
}

// WithVerificationParams sets the argon2id cost used for verification codes.
func WithVerificationParams(params Argon2Params) Option {
	return func(o *options) {
		o.verificationParams = params
	}
}

func (o *options) clock() time.Time {
	return o.now().UTC().Truncate(time.Microsecond)
}
