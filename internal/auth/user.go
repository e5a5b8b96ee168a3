// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// InitialPasswordVersion is the password version of a newly created user.
const InitialPasswordVersion int64 = 1

// User is a registered account.
type User struct {
	ID             ulid.ULID
	Username       string
	Email          string
	PasswordHash   string
	FirstName      string
	LastName       string
	ProfilePicture string
	Bio            string
	// PasswordVersion increases by one on every password change.
	PasswordVersion int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewUserParams holds the fields needed to create a user.
type NewUserParams struct {
	Username     string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
}

// NewUser creates a User with a fresh ID. Email is kept exactly as given.
func NewUser(p NewUserParams) (*User, error) {
	if p.Username == "" {
		return nil, oops.Code(CodeValidation).Errorf("username cannot be empty")
	}
	if p.Email == "" {
		return nil, oops.Code(CodeValidation).Errorf("email cannot be empty")
	}
	if p.PasswordHash == "" {
		return nil, oops.Code(CodeValidation).Errorf("password hash cannot be empty")
	}

	now := time.Now().UTC()
	return &User{
		ID:              ulid.Make(),
		Username:        p.Username,
		Email:           p.Email,
		PasswordHash:    p.PasswordHash,
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		PasswordVersion: InitialPasswordVersion,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// PublicUser is the client-visible projection of a User.
type PublicUser struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	ProfilePicture string `json:"profilePicture"`
	Bio            string `json:"bio"`
}

// Public returns the client-visible fields of u.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:             u.ID.String(),
		Username:       u.Username,
		Email:          u.Email,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		ProfilePicture: u.ProfilePicture,
		Bio:            u.Bio,
	}
}

// UserStore persists users. Both backends honour the same contract:
// absent records are reported as errors wrapping ErrNotFound, uniqueness
// conflicts as ErrDuplicateUser, and backend faults as ErrStoreUnavailable.
type UserStore interface {
	// FindByEmailOrUsername returns a user whose email equals email or whose
	// username equals username.
	FindByEmailOrUsername(ctx context.Context, email, username string) (*User, error)

	// FindByEmail returns the user with exactly this email.
	FindByEmail(ctx context.Context, email string) (*User, error)

	// FindByID returns the user with the given ID.
	FindByID(ctx context.Context, id ulid.ULID) (*User, error)

	// Create stores a new user. Fails with ErrDuplicateUser when the email or
	// username is taken.
	Create(ctx context.Context, user *User) error

	// UpdatePasswordHash replaces the password digest and increments the
	// password version.
	UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error
}
