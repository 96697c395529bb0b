// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Password policy limits.
const (
	PasswordMinLength   = 10
	PasswordMaxLength   = 40
	passwordMinUpper    = 2
	passwordMinDigits   = 2
	passwordMinSpecials = 2

	emailMaxLength = 254
)

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Account is the identity root: one per normalized email address.
type Account struct {
	ID            ulid.ULID
	Email         string
	PasswordHash  string
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewAccount creates a validated, unverified Account. The email is normalized.
func NewAccount(email, passwordHash string, now time.Time) (*Account, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("ACCOUNT_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	return &Account{
		ID:           ulid.Make(),
		Email:        normalized,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeEmail trims surrounding whitespace and lowercases the address.
// The result is what is stored and what uniqueness is enforced on.
func NormalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return "", oops.Code("AUTH_INVALID_EMAIL").Wrapf(ErrInvalidEmail, "email cannot be empty")
	}
	if len(normalized) > emailMaxLength || !emailRegex.MatchString(normalized) {
		return "", oops.Code("AUTH_INVALID_EMAIL").
			With("length", len(normalized)).
			Wrap(ErrInvalidEmail)
	}
	return normalized, nil
}

// ValidatePassword enforces the signup password policy: 10 to 40 characters
// with at least two uppercase letters, two digits and two special characters.
func ValidatePassword(password string) error {
	if password == "" {
		return oops.Code("AUTH_INVALID_PASSWORD").Wrap(ErrEmptyPassword)
	}
	n := utf8.RuneCountInString(password)
	if n < PasswordMinLength || n > PasswordMaxLength {
		return oops.Code("AUTH_INVALID_PASSWORD").
			With("min", PasswordMinLength).
			With("max", PasswordMaxLength).
			Wrapf(ErrInvalidPassword, "password must be %d to %d characters", PasswordMinLength, PasswordMaxLength)
	}

	var upper, digits, specials int
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper++
		case r >= '0' && r <= '9':
			digits++
		case r >= 'a' && r <= 'z':
		default:
			specials++
		}
	}
	if upper < passwordMinUpper {
		return oops.Code("AUTH_INVALID_PASSWORD").Wrapf(ErrInvalidPassword, "password must contain at least %d uppercase letters", passwordMinUpper)
	}
	if digits < passwordMinDigits {
		return oops.Code("AUTH_INVALID_PASSWORD").Wrapf(ErrInvalidPassword, "password must contain at least %d digits", passwordMinDigits)
	}
	if specials < passwordMinSpecials {
		return oops.Code("AUTH_INVALID_PASSWORD").Wrapf(ErrInvalidPassword, "password must contain at least %d special characters", passwordMinSpecials)
	}
	return nil
}

// AccountRepository manages account persistence.
type AccountRepository interface {
	// Create stores a new account. A duplicate email yields ErrAccountExists.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by its normalized email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// LockForUpdate retrieves an account and locks its row until the
	// surrounding transaction ends.
	LockForUpdate(ctx context.Context, id ulid.ULID) (*Account, error)

	// UpdatePasswordHash replaces the stored password hash.
	UpdatePasswordHash(ctx context.Context, id ulid.ULID, hash string) error

	// MarkEmailVerified sets email_verified to true.
	MarkEmailVerified(ctx context.Context, id ulid.ULID) error
}

// Transactor runs fn inside a single atomic transaction. Repository calls made
// with the context passed to fn participate in that transaction. A nested
// call joins the outer transaction.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Mailer delivers verification codes out of band.
type Mailer interface {
	SendVerificationCode(ctx context.Context, email, code string) error
}
