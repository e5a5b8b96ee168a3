// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// ResetTokenExpiry is the lifetime of a password reset token.
const ResetTokenExpiry = time.Hour

// ResetClaims is what a verified reset token asserts.
type ResetClaims struct {
	Subject         ulid.ULID
	Email           string
	PasswordVersion int64
	ExpiresAt       time.Time
}

type resetJWTClaims struct {
	jwt.RegisteredClaims
	Email           string `json:"email"`
	PasswordVersion int64  `json:"pwv"`
}

// ResetTokens issues and verifies password reset tokens. A token is bound to
// the user's password version at issue time, so it stops verifying against
// the account once the password changes.
type ResetTokens struct {
	signer *signer
}

// NewResetTokens creates a ResetTokens signing with secret.
func NewResetTokens(secret []byte, opts ...TokenOption) (*ResetTokens, error) {
	s, err := newSigner(secret, audienceReset, ResetTokenExpiry, opts)
	if err != nil {
		return nil, err
	}
	return &ResetTokens{signer: s}, nil
}

// TTL returns the configured token lifetime.
func (t *ResetTokens) TTL() time.Duration {
	return t.signer.ttl
}

// Issue mints a reset token for the given user state.
func (t *ResetTokens) Issue(subject ulid.ULID, email string, passwordVersion int64) (string, error) {
	claims := resetJWTClaims{
		RegisteredClaims: t.signer.registered(subject.String()),
		Email:            email,
		PasswordVersion:  passwordVersion,
	}
	return t.signer.sign(&claims)
}

// Verify checks signature and expiry and returns the embedded claims.
// Matching the claims against the current user is the caller's job.
func (t *ResetTokens) Verify(token string) (ResetClaims, error) {
	var claims resetJWTClaims
	if err := t.signer.parse(token, &claims); err != nil {
		return ResetClaims{}, err
	}
	subject, err := ulid.Parse(claims.Subject)
	if err != nil {
		return ResetClaims{}, invalidToken("subject is not a user id")
	}
	if claims.Email == "" {
		return ResetClaims{}, invalidToken("email claim missing")
	}

	out := ResetClaims{
		Subject:         subject,
		Email:           claims.Email,
		PasswordVersion: claims.PasswordVersion,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
