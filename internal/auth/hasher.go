// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor used for stored password digests.
const DefaultBcryptCost = 10

// maxPasswordBytes is the longest input bcrypt will accept.
const maxPasswordBytes = 72

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code(CodeEmptyPassword).Errorf("Password is required")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a salted digest of the password. Two calls with the same
	// input return different digests.
	Hash(password string) (string, error)

	// Verify reports whether password matches digest. A malformed digest is a
	// mismatch, never an error.
	Verify(password, digest string) bool
}

// BcryptHasher implements PasswordHasher using bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a BcryptHasher. A cost outside bcrypt's accepted
// range falls back to DefaultBcryptCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &BcryptHasher{cost: cost}
}

// Cost returns the configured work factor.
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash produces a bcrypt digest of the password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > maxPasswordBytes {
		return "", oops.Code(CodePasswordTooLong).
			With("max_bytes", maxPasswordBytes).
			Errorf("Password must be at most %d bytes", maxPasswordBytes)
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", oops.Code(CodePasswordTooLong).Errorf("Password must be at most %d bytes", maxPasswordBytes)
		}
		return "", oops.Code(CodeHashFailed).Wrap(err)
	}
	return string(digest), nil
}

// Verify checks password against a bcrypt digest in constant time.
func (h *BcryptHasher) Verify(password, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

var _ PasswordHasher = (*BcryptHasher)(nil)
