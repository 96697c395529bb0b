// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"golang.org/x/crypto/sha3"
)

// Access token configuration.
const (
	AccessTokenPrefix     = "soko__"
	AccessTokenBytes      = 32 // 256 bits of entropy
	AccessTokenMACSize    = 32 // HMAC-SHA3-256 output
	AccessTokenNameMaxLen = 40
	MinMACKeyLength       = 32
)

// TokenState is the effective state of an access token at a point in time.
// It is derived, never stored.
type TokenState int

// Token states.
const (
	TokenActive TokenState = iota
	TokenExpired
	TokenRevoked
)

func (s TokenState) String() string {
	switch s {
	case TokenActive:
		return "active"
	case TokenExpired:
		return "expired"
	case TokenRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// AccessToken is a bearer capability bound to an account. Only the MAC of the
// plaintext token is kept.
type AccessToken struct {
	ID        ulid.ULID
	AccountID ulid.ULID
	Name      string
	MAC       [AccessTokenMACSize]byte
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time // nil if not revoked

	// LastUsedAt is the last successful validation, nil if never used.
	LastUsedAt *time.Time
}

// NewAccessToken creates a validated AccessToken expiring ttl after now.
func NewAccessToken(accountID ulid.ULID, name string, mac [AccessTokenMACSize]byte, now time.Time, ttl time.Duration) (*AccessToken, error) {
	if accountID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("TOKEN_INVALID_ACCOUNT").Errorf("account ID cannot be zero")
	}
	name, err := ValidateTokenName(name)
	if err != nil {
		return nil, err
	}
	if err := ValidateTokenLifetime(ttl); err != nil {
		return nil, err
	}
	return &AccessToken{
		ID:        ulid.Make(),
		AccountID: accountID,
		Name:      name,
		MAC:       mac,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// StateAt returns the token state at t. Revocation wins over expiry.
func (t *AccessToken) StateAt(now time.Time) TokenState {
	if t.RevokedAt != nil {
		return TokenRevoked
	}
	if !now.Before(t.ExpiresAt) {
		return TokenExpired
	}
	return TokenActive
}

// ValidateTokenName trims name and checks its length.
func ValidateTokenName(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n == 0 || n > AccessTokenNameMaxLen {
		return "", oops.Code("TOKEN_INVALID_NAME").
			With("length", n).
			Wrapf(ErrInvalidTokenName, "name must be 1 to %d characters", AccessTokenNameMaxLen)
	}
	return name, nil
}

// ValidateTokenLifetime checks 0 <= ttl <= MaxAccessTokenLifetime.
func ValidateTokenLifetime(ttl time.Duration) error {
	if ttl < 0 || ttl > MaxAccessTokenLifetime {
		return oops.Code("TOKEN_INVALID_LIFETIME").
			With("ttl", ttl.String()).
			Wrapf(ErrInvalidLifetime, "lifetime must be between 0 and %s", MaxAccessTokenLifetime)
	}
	return nil
}

// MACKey is the server secret used to MAC access tokens. It is immutable
// after construction and never printed.
type MACKey struct {
	key []byte
}

// NewMACKey copies secret into a MACKey. The secret must be at least
// MinMACKeyLength bytes.
func NewMACKey(secret []byte) (MACKey, error) {
	if len(secret) < MinMACKeyLength {
		return MACKey{}, oops.Code("TOKEN_INVALID_KEY").
			With("length", len(secret)).
			Errorf("token secret must be at least %d bytes", MinMACKeyLength)
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return MACKey{key: key}, nil
}

// IsZero reports whether the key was never initialized.
func (k MACKey) IsZero() bool { return len(k.key) == 0 }

// Sum computes HMAC-SHA3-256(key, token).
func (k MACKey) Sum(token string) [AccessTokenMACSize]byte {
	m := hmac.New(sha3.New256, k.key)
	m.Write([]byte(token))
	var out [AccessTokenMACSize]byte
	copy(out[:], m.Sum(nil))
	return out
}

func (k MACKey) String() string { return "[REDACTED]" }

// GoString keeps %#v from printing the key.
func (k MACKey) GoString() string { return "auth.MACKey{[REDACTED]}" }

// LogValue implements slog.LogValuer.
func (k MACKey) LogValue() slog.Value { return slog.StringValue("[REDACTED]") }

// GenerateAccessToken creates a random plaintext token and its MAC under key.
func GenerateAccessToken(key MACKey) (token string, mac [AccessTokenMACSize]byte, err error) {
	raw := make([]byte, AccessTokenBytes)
	if _, err = rand.Read(raw); err != nil {
		return "", mac, oops.Code("TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", AccessTokenBytes).
			Wrap(err)
	}
	token = AccessTokenPrefix + base64.RawURLEncoding.EncodeToString(raw)
	return token, key.Sum(token), nil
}

// AccessTokenRepository manages access token persistence.
type AccessTokenRepository interface {
	// Create stores a new token.
	Create(ctx context.Context, token *AccessToken) error

	// GetByID retrieves a token by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*AccessToken, error)

	// GetByMAC retrieves a token by its MAC.
	GetByMAC(ctx context.Context, mac [AccessTokenMACSize]byte) (*AccessToken, error)

	// ListByAccount retrieves all tokens of an account, newest first.
	ListByAccount(ctx context.Context, accountID ulid.ULID) ([]*AccessToken, error)

	// CountActive counts the account's tokens that are unrevoked and
	// unexpired at now.
	CountActive(ctx context.Context, accountID ulid.ULID, now time.Time) (int, error)

	// Revoke sets revoked_at if it is not set. It reports whether a row
	// changed; an already revoked token yields (false, nil) and an unknown
	// ID yields ErrNotFound.
	Revoke(ctx context.Context, id ulid.ULID, at time.Time) (bool, error)

	// Touch moves last_used_at forward to at. Earlier stamps and unknown IDs
	// are ignored.
	Touch(ctx context.Context, id ulid.ULID, at time.Time) error
}
