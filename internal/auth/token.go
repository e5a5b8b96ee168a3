// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// DefaultIssuer is the iss claim stamped on every token.
const DefaultIssuer = "collegemedia"

// Token audiences. A token minted for one audience never verifies for the other.
const (
	audienceSession = "session"
	audienceReset   = "password-reset"
)

// TokenOption customises a token service.
type TokenOption func(*tokenConfig)

type tokenConfig struct {
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// WithTokenTTL overrides the token lifetime.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(c *tokenConfig) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithTokenIssuer overrides the iss claim.
func WithTokenIssuer(issuer string) TokenOption {
	return func(c *tokenConfig) {
		if issuer != "" {
			c.issuer = issuer
		}
	}
}

// WithTokenClock replaces time.Now, for tests.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(c *tokenConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// signer holds the HMAC key and claim policy shared by the token services.
type signer struct {
	key      []byte
	audience string
	tokenConfig
}

func newSigner(secret []byte, audience string, defaultTTL time.Duration, opts []TokenOption) (*signer, error) {
	if len(secret) == 0 {
		return nil, oops.Code(CodeSigningKeyMissing).
			With("audience", audience).
			Errorf("token signing secret is required")
	}
	s := &signer{
		key:      append([]byte(nil), secret...),
		audience: audience,
		tokenConfig: tokenConfig{
			ttl:    defaultTTL,
			issuer: DefaultIssuer,
			now:    time.Now,
		},
	}
	for _, opt := range opts {
		opt(&s.tokenConfig)
	}
	return s, nil
}

// registered builds the standard claims for a token issued now.
func (s *signer) registered(subject string) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
}

func (s *signer) sign(claims jwt.Claims) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", oops.Code(CodeTokenIssueFailed).
			With("audience", s.audience).
			Wrap(err)
	}
	return token, nil
}

// parse verifies signature, algorithm, audience, issuer and expiry, filling claims.
func (s *signer) parse(raw string, claims jwt.Claims) error {
	if raw == "" {
		return invalidToken("token is empty")
	}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(s.audience),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return oops.Code(CodeInvalidToken).
			With("audience", s.audience).
			With("reason", err.Error()).
			Errorf("invalid or expired token")
	}
	return nil
}

func invalidToken(reason string) error {
	return oops.Code(CodeInvalidToken).With("reason", reason).Errorf("invalid or expired token")
}
