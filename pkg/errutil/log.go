// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

// Package errutil holds helpers for logging and asserting oops errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// Code returns the oops code of err, or "" when err carries none.
func Code(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if code, ok := oopsErr.Code().(string); ok {
			return code
		}
	}
	return ""
}

// LogError logs err at error level. Oops errors are logged with their code
// and context; other errors with their string only.
func LogError(logger *slog.Logger, msg string, err error) {
	LogErrorContext(context.Background(), logger, msg, err)
}

// LogErrorContext is LogError with a context, so trace correlation added by
// the handler is kept.
func LogErrorContext(ctx context.Context, logger *slog.Logger, msg string, err error) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		logger.ErrorContext(ctx, msg, slog.Any("error", err))
		return
	}

	attrs := []any{slog.String("error", oopsErr.Error())}
	if code := Code(err); code != "" {
		attrs = append(attrs, slog.String("code", code))
	}
	if fields := oopsErr.Context(); len(fields) > 0 {
		attrs = append(attrs, slog.Any("context", fields))
	}
	logger.ErrorContext(ctx, msg, attrs...)
}
