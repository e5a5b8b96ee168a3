// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

// Package memory provides a process-local auth.UserStore. Data does not
// survive a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/collegemedia/collegemedia/internal/auth"
)

// Store implements auth.UserStore in memory.
type Store struct {
	mu         sync.RWMutex
	byID       map[ulid.ULID]*auth.User
	byEmail    map[string]ulid.ULID
	byUsername map[string]ulid.ULID
	now        func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		byID:       make(map[ulid.ULID]*auth.User),
		byEmail:    make(map[string]ulid.ULID),
		byUsername: make(map[string]ulid.ULID),
		now:        time.Now,
	}
}

// Len returns the number of stored users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// FindByEmailOrUsername returns the user matching either key. An email match
// wins over a username match.
func (s *Store) FindByEmailOrUsername(_ context.Context, email, username string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.byEmail[email]; ok {
		return clone(s.byID[id]), nil
	}
	if id, ok := s.byUsername[username]; ok {
		return clone(s.byID[id]), nil
	}
	return nil, oops.Code(auth.CodeUserNotFound).
		With("email", email).
		With("username", username).
		Wrap(auth.ErrNotFound)
}

// FindByEmail returns the user with exactly this email.
func (s *Store) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, oops.Code(auth.CodeUserNotFound).With("email", email).Wrap(auth.ErrNotFound)
	}
	return clone(s.byID[id]), nil
}

// FindByID returns the user with the given ID.
func (s *Store) FindByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byID[id]
	if !ok {
		return nil, oops.Code(auth.CodeUserNotFound).With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return clone(user), nil
}

// Create stores a copy of user. The uniqueness check and the insert happen
// under one lock.
func (s *Store) Create(_ context.Context, user *auth.User) error {
	if user == nil {
		return oops.Code(auth.CodeValidation).Errorf("user cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[user.Email]; taken {
		return oops.Code(auth.CodeStoreDuplicateEntry).
			With("field", "email").
			Wrap(auth.ErrDuplicateUser)
	}
	if _, taken := s.byUsername[user.Username]; taken {
		return oops.Code(auth.CodeStoreDuplicateEntry).
			With("field", "username").
			Wrap(auth.ErrDuplicateUser)
	}
	if _, taken := s.byID[user.ID]; taken {
		return oops.Code(auth.CodeStoreDuplicateEntry).
			With("field", "id").
			Wrap(auth.ErrDuplicateUser)
	}

	stored := clone(user)
	if stored.PasswordVersion == 0 {
		stored.PasswordVersion = auth.InitialPasswordVersion
	}
	s.byID[stored.ID] = stored
	s.byEmail[stored.Email] = stored.ID
	s.byUsername[stored.Username] = stored.ID
	return nil
}

// UpdatePasswordHash replaces the digest and bumps the password version.
func (s *Store) UpdatePasswordHash(_ context.Context, id ulid.ULID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return oops.Code(auth.CodeUserNotFound).With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	s.setPassword(user, passwordHash)
	return nil
}

// UpdatePasswordHashIfVersion is UpdatePasswordHash guarded by the expected
// password version.
func (s *Store) UpdatePasswordHashIfVersion(_ context.Context, id ulid.ULID, expectedVersion int64, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return oops.Code(auth.CodeUserNotFound).With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if user.PasswordVersion != expectedVersion {
		return oops.With("id", id.String()).
			With("expected_version", expectedVersion).
			With("version", user.PasswordVersion).
			Wrap(auth.ErrVersionConflict)
	}
	s.setPassword(user, passwordHash)
	return nil
}

func (s *Store) setPassword(user *auth.User, passwordHash string) {
	user.PasswordHash = passwordHash
	user.PasswordVersion++
	user.UpdatedAt = s.now().UTC()
}

func clone(u *auth.User) *auth.User {
	c := *u
	return &c
}

var (
	_ auth.UserStore                = (*Store)(nil)
	_ auth.VersionedPasswordUpdater = (*Store)(nil)
)
