// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package auth

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// ErrorClass is the externally observable category of an authentication error.
type ErrorClass int

// Error classes, from least to most specific outcome shown to callers.
const (
	ClassInternal ErrorClass = iota
	ClassValidation
	ClassNotFound
	ClassConflict
	ClassUnauthorized
)

// String returns the lowercase name of the class.
func (c ErrorClass) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassNotFound:
		return "not_found"
	case ClassConflict:
		return "conflict"
	case ClassUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// classError is a sentinel carrying its class. Sentinels are plain values
// rather than oops errors so errors.Is matches them by identity; return sites
// wrap them with oops codes and context.
type classError struct {
	class ErrorClass
	msg   string
}

func (e *classError) Error() string { return e.msg }

func newClassError(class ErrorClass, format string, args ...any) *classError {
	return &classError{class: class, msg: fmt.Sprintf(format, args...)}
}

// Sentinel errors. Match with errors.Is.
var (
	// ErrNotFound is returned by repositories when a requested entity does not exist.
	ErrNotFound = newClassError(ClassNotFound, "not found")

	ErrAccountExists          = newClassError(ClassConflict, "account already exists")
	ErrAccountAlreadyVerified = newClassError(ClassConflict, "account email already verified")
	ErrTokenLimitReached      = newClassError(ClassConflict, "active access token limit reached")

	ErrNoActiveRequest = newClassError(ClassNotFound, "no active verification request")

	// Authentication failures. Callers outside this package see only the
	// shared AUTH_UNAUTHORIZED code; the concrete sentinel remains reachable
	// with errors.Is for logging and tests.
	ErrCodeMismatch       = newClassError(ClassUnauthorized, "verification code mismatch")
	ErrInvalidCredentials = newClassError(ClassUnauthorized, "invalid email or password")
	ErrEmailNotVerified   = newClassError(ClassUnauthorized, "account email not verified")
	ErrTokenNotFound      = newClassError(ClassUnauthorized, "access token not found")
	ErrTokenExpired       = newClassError(ClassUnauthorized, "access token expired")
	ErrTokenRevoked       = newClassError(ClassUnauthorized, "access token revoked")

	ErrInvalidEmail     = newClassError(ClassValidation, "invalid email address")
	ErrInvalidPassword  = newClassError(ClassValidation, "password does not meet policy")
	ErrEmptyPassword    = newClassError(ClassValidation, "password cannot be empty")
	ErrInvalidTokenName = newClassError(ClassValidation, "invalid access token name")
	ErrInvalidLifetime  = newClassError(ClassValidation, "invalid access token lifetime")
)

// CodeUnauthorized is the single oops code used for every authentication failure.
const CodeUnauthorized = "AUTH_UNAUTHORIZED"

// Classify maps any error to its class. Errors that do not wrap a sentinel
// from this package are Internal.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassInternal
	}
	var ce *classError
	if errors.As(err, &ce) {
		return ce.class
	}
	return ClassInternal
}

// unauthorized wraps an authentication failure with the shared code.
func unauthorized(reason error) error {
	return oops.Code(CodeUnauthorized).
		With("reason", reason.Error()).
		Wrap(reason)
}
