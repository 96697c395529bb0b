// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

// Package auth provides account authentication for Soko.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewAccount - normalizes the email and requires a password hash
//   - NewVerificationCodeRequest - creates an active request for an account
//   - NewAccessToken - validates the token name and lifetime
//
// Direct struct initialization bypasses validation and may create invalid state.
//
// # Secrets at Rest
//
// Nothing reversible is stored. Passwords are argon2id hashes. Verification
// codes are stored as an argon2id hash bound to the account ID with an
// HMAC-SHA3-256, so a leaked cyphertext cannot be replayed for another
// account. Access tokens are stored as HMAC-SHA3-256 under a server MACKey,
// so a database dump alone cannot forge them.
//
// # Services
//
//   - VerificationCodeService - issue and confirm verification codes
//   - AccessTokenService - issue, validate and revoke access tokens
//   - AccountService - signup, confirm, token issuance, bearer authentication
//
// Services are created with New*Service constructors that validate dependencies.
// Multi-row changes run through a Transactor.
//
// # Errors
//
// Every error maps to an ErrorClass through Classify. Authentication failures
// share the AUTH_UNAUTHORIZED code so callers cannot tell a wrong password
// from an unknown email, or a revoked token from an expired one.
package auth
