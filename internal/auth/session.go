// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// SessionTokenExpiry is the lifetime of a session token.
const SessionTokenExpiry = 7 * 24 * time.Hour

// SessionTokens issues and verifies stateless session tokens. Tokens are not
// stored server-side and cannot be revoked before they expire.
type SessionTokens struct {
	signer *signer
}

// NewSessionTokens creates a SessionTokens signing with secret.
// An empty secret is an error.
func NewSessionTokens(secret []byte, opts ...TokenOption) (*SessionTokens, error) {
	s, err := newSigner(secret, audienceSession, SessionTokenExpiry, opts)
	if err != nil {
		return nil, err
	}
	return &SessionTokens{signer: s}, nil
}

// TTL returns the configured token lifetime.
func (t *SessionTokens) TTL() time.Duration {
	return t.signer.ttl
}

// Issue mints a session token for subject.
func (t *SessionTokens) Issue(subject ulid.ULID) (string, error) {
	claims := t.signer.registered(subject.String())
	return t.signer.sign(&claims)
}

// Verify checks the token and returns its subject.
func (t *SessionTokens) Verify(token string) (ulid.ULID, error) {
	var claims jwt.RegisteredClaims
	if err := t.signer.parse(token, &claims); err != nil {
		return ulid.ULID{}, err
	}
	subject, err := ulid.Parse(claims.Subject)
	if err != nil {
		return ulid.ULID{}, invalidToken("subject is not a user id")
	}
	return subject, nil
}
