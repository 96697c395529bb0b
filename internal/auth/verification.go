// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"golang.org/x/crypto/sha3"
)

// Verification code configuration.
const (
	VerificationCodeDigits   = 8
	VerificationCodeLifetime = 15 * time.Minute
)

var verificationCodeSpace = big.NewInt(100_000_000) // 10^VerificationCodeDigits

// VerificationStatus is the state of a VerificationCodeRequest.
type VerificationStatus string

// Verification statuses. Cancelled and confirmed are terminal.
const (
	VerificationActive    VerificationStatus = "active"
	VerificationCancelled VerificationStatus = "cancelled"
	VerificationConfirmed VerificationStatus = "confirmed"
)

// ParseVerificationStatus converts a stored value into a VerificationStatus.
func ParseVerificationStatus(s string) (VerificationStatus, error) {
	switch VerificationStatus(s) {
	case VerificationActive, VerificationCancelled, VerificationConfirmed:
		return VerificationStatus(s), nil
	default:
		return "", oops.Code("VERIFICATION_INVALID_STATUS").Errorf("unknown verification status: %q", s)
	}
}

// IsTerminal reports whether no transition leaves this status.
func (s VerificationStatus) IsTerminal() bool {
	return s == VerificationCancelled || s == VerificationConfirmed
}

// CanTransitionTo reports whether s -> next is a legal transition.
func (s VerificationStatus) CanTransitionTo(next VerificationStatus) bool {
	return s == VerificationActive && next.IsTerminal()
}

func (s VerificationStatus) String() string { return string(s) }

// VerificationCodeRequest is one proof-of-email-ownership attempt.
type VerificationCodeRequest struct {
	ID         ulid.ULID
	AccountID  ulid.ULID
	Cyphertext string
	Status     VerificationStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewVerificationCodeRequest creates an active request for the account.
func NewVerificationCodeRequest(accountID ulid.ULID, cyphertext string, now time.Time) (*VerificationCodeRequest, error) {
	if accountID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("VERIFICATION_INVALID_ACCOUNT").Errorf("account ID cannot be zero")
	}
	if cyphertext == "" {
		return nil, oops.Code("VERIFICATION_INVALID_CYPHERTEXT").Errorf("cyphertext cannot be empty")
	}
	return &VerificationCodeRequest{
		ID:         ulid.Make(),
		AccountID:  accountID,
		Cyphertext: cyphertext,
		Status:     VerificationActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// IsExpiredAt reports whether the request is too old to confirm at t.
func (r *VerificationCodeRequest) IsExpiredAt(t time.Time, lifetime time.Duration) bool {
	return !t.Before(r.CreatedAt.Add(lifetime))
}

// VerificationCodeStrategy generates verification codes and their
// account-bound cyphertexts.
//
// The cyphertext is the argon2id PHC string of the code followed by '$' and
// the base64 HMAC-SHA3-256 of the account ID keyed with the argon2id digest.
type VerificationCodeStrategy struct {
	hasher *Argon2idHasher
}

// NewVerificationCodeStrategy creates a strategy hashing codes with params.
func NewVerificationCodeStrategy(params Argon2Params) *VerificationCodeStrategy {
	return &VerificationCodeStrategy{hasher: NewArgon2idHasherWithParams(params)}
}

// Generate draws a fresh code and computes its cyphertext for accountID.
func (s *VerificationCodeStrategy) Generate(accountID ulid.ULID) (code, cyphertext string, err error) {
	n, err := rand.Int(rand.Reader, verificationCodeSpace)
	if err != nil {
		return "", "", oops.Code("VERIFICATION_CODE_GENERATE_FAILED").
			With("operation", "crypto/rand.Int").
			Wrap(err)
	}
	code = fmt.Sprintf("%0*d", VerificationCodeDigits, n.Int64())

	cyphertext, err = s.Seal(code, accountID)
	if err != nil {
		return "", "", err
	}
	return code, cyphertext, nil
}

// Seal computes a fresh cyphertext of code bound to accountID. Each call uses
// a new salt.
func (s *VerificationCodeStrategy) Seal(code string, accountID ulid.ULID) (string, error) {
	phc, digest, err := s.hasher.hash([]byte(code))
	if err != nil {
		return "", oops.Code("VERIFICATION_CODE_GENERATE_FAILED").
			With("operation", "hash code").
			Wrap(err)
	}
	mac := accountBinding(digest, accountID)
	return phc + "$" + base64.RawStdEncoding.EncodeToString(mac), nil
}

// Verify reports whether code was issued for accountID with this cyphertext.
// Returns (false, nil) on mismatch and an error only for a corrupt cyphertext.
func (s *VerificationCodeStrategy) Verify(code string, accountID ulid.ULID, cyphertext string) (bool, error) {
	idx := strings.LastIndexByte(cyphertext, '$')
	if idx <= 0 {
		return false, oops.Code("VERIFICATION_CORRUPT_CYPHERTEXT").Errorf("missing account binding")
	}
	storedMAC, err := base64.RawStdEncoding.DecodeString(cyphertext[idx+1:])
	if err != nil || len(storedMAC) != sha3.New256().Size() {
		return false, oops.Code("VERIFICATION_CORRUPT_CYPHERTEXT").Errorf("invalid account binding")
	}

	codeOK, digest, err := verifyArgon2id([]byte(code), cyphertext[:idx])
	if err != nil {
		return false, oops.Code("VERIFICATION_CORRUPT_CYPHERTEXT").
			With("cause", err.Error()).
			Errorf("invalid code hash")
	}
	bindingOK := hmac.Equal(accountBinding(digest, accountID), storedMAC)
	return codeOK && bindingOK, nil
}

func accountBinding(digest []byte, accountID ulid.ULID) []byte {
	m := hmac.New(sha3.New256, digest)
	m.Write([]byte(accountID.String()))
	return m.Sum(nil)
}

// VerificationRepository manages verification request persistence.
type VerificationRepository interface {
	// Create stores a new request.
	Create(ctx context.Context, req *VerificationCodeRequest) error

	// GetByID retrieves a request by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*VerificationCodeRequest, error)

	// GetActiveByAccount retrieves the account's active request.
	// Returns ErrNotFound when there is none.
	GetActiveByAccount(ctx context.Context, accountID ulid.ULID) (*VerificationCodeRequest, error)

	// ListByAccount retrieves every request of the account, oldest first.
	ListByAccount(ctx context.Context, accountID ulid.ULID) ([]*VerificationCodeRequest, error)

	// CancelActive moves every active request of the account to cancelled
	// and returns how many were cancelled.
	CancelActive(ctx context.Context, accountID ulid.ULID) (int64, error)

	// TransitionStatus moves a request from one status to another.
	// Returns ErrNotFound if the request is not currently in from.
	TransitionStatus(ctx context.Context, id ulid.ULID, from, to VerificationStatus) error
}
