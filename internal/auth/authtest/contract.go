// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

// Package authtest holds shared test helpers for auth.UserStore
// implementations.
package authtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collegemedia/collegemedia/internal/auth"
)

// NewUser builds a user with unique username and email derived from name.
func NewUser(t *testing.T, name string) *auth.User {
	t.Helper()
	suffix := ulid.Make().String()
	user, err := auth.NewUser(auth.NewUserParams{
		Username:     fmt.Sprintf("%s_%s", name, suffix),
		Email:        fmt.Sprintf("%s_%s@example.edu", name, suffix),
		PasswordHash: "$2a$10$placeholderplaceholderplaceholderplaceholderplacehol",
		FirstName:    "Test",
		LastName:     name,
	})
	require.NoError(t, err)
	return user
}

// RunUserStoreContract checks the behaviour every auth.UserStore must share.
// newStore must return an isolated store per call.
func RunUserStoreContract(t *testing.T, newStore func(t *testing.T) auth.UserStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("create then find by every key", func(t *testing.T) {
		store := newStore(t)
		user := NewUser(t, "alice")
		require.NoError(t, store.Create(ctx, user))

		byID, err := store.FindByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.Email, byID.Email)
		assert.Equal(t, user.PasswordHash, byID.PasswordHash)
		assert.Equal(t, auth.InitialPasswordVersion, byID.PasswordVersion)

		byEmail, err := store.FindByEmail(ctx, user.Email)
		require.NoError(t, err)
		assert.Equal(t, user.ID, byEmail.ID)

		byEither, err := store.FindByEmailOrUsername(ctx, "nobody@example.edu", user.Username)
		require.NoError(t, err)
		assert.Equal(t, user.ID, byEither.ID)

		byEither, err = store.FindByEmailOrUsername(ctx, user.Email, "nobody")
		require.NoError(t, err)
		assert.Equal(t, user.ID, byEither.ID)
	})

	t.Run("absent users report not found", func(t *testing.T) {
		store := newStore(t)

		_, err := store.FindByID(ctx, ulid.Make())
		assert.ErrorIs(t, err, auth.ErrNotFound)

		_, err = store.FindByEmail(ctx, "ghost@example.edu")
		assert.ErrorIs(t, err, auth.ErrNotFound)

		_, err = store.FindByEmailOrUsername(ctx, "ghost@example.edu", "ghost")
		assert.ErrorIs(t, err, auth.ErrNotFound)

		err = store.UpdatePasswordHash(ctx, ulid.Make(), "hash")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("email match is case sensitive", func(t *testing.T) {
		store := newStore(t)
		user := NewUser(t, "casey")
		user.Email = "Casey_" + user.ID.String() + "@Example.edu"
		require.NoError(t, store.Create(ctx, user))

		_, err := store.FindByEmail(ctx, user.Email)
		require.NoError(t, err)

		_, err = store.FindByEmail(ctx, "casey_"+user.ID.String()+"@example.edu")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("duplicate email or username is rejected", func(t *testing.T) {
		store := newStore(t)
		user := NewUser(t, "dup")
		require.NoError(t, store.Create(ctx, user))

		sameEmail := NewUser(t, "other")
		sameEmail.Email = user.Email
		assert.ErrorIs(t, store.Create(ctx, sameEmail), auth.ErrDuplicateUser)

		sameName := NewUser(t, "other")
		sameName.Username = user.Username
		assert.ErrorIs(t, store.Create(ctx, sameName), auth.ErrDuplicateUser)
	})

	t.Run("concurrent creates with one email admit exactly one", func(t *testing.T) {
		store := newStore(t)
		email := NewUser(t, "race").Email

		const attempts = 16
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			dupes     int
		)
		users := make([]*auth.User, attempts)
		for i := range users {
			users[i] = NewUser(t, fmt.Sprintf("racer%d", i))
			users[i].Email = email
		}
		for _, u := range users {
			wg.Add(1)
			go func(u *auth.User) {
				defer wg.Done()
				err := store.Create(ctx, u)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, auth.ErrDuplicateUser):
					dupes++
				}
			}(u)
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, attempts-1, dupes)
	})

	t.Run("update password bumps version", func(t *testing.T) {
		store := newStore(t)
		user := NewUser(t, "bob")
		require.NoError(t, store.Create(ctx, user))

		require.NoError(t, store.UpdatePasswordHash(ctx, user.ID, "new-hash"))

		stored, err := store.FindByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "new-hash", stored.PasswordHash)
		assert.Equal(t, auth.InitialPasswordVersion+1, stored.PasswordVersion)
		assert.Equal(t, user.Email, stored.Email)
		assert.Equal(t, user.Username, stored.Username)
	})

	t.Run("versioned update rejects stale version", func(t *testing.T) {
		store := newStore(t)
		versioned, ok := store.(auth.VersionedPasswordUpdater)
		if !ok {
			t.Skip("store does not support versioned updates")
		}
		user := NewUser(t, "carol")
		require.NoError(t, store.Create(ctx, user))

		require.NoError(t, versioned.UpdatePasswordHashIfVersion(ctx, user.ID, 1, "first"))
		err := versioned.UpdatePasswordHashIfVersion(ctx, user.ID, 1, "second")
		assert.ErrorIs(t, err, auth.ErrVersionConflict)

		stored, err := store.FindByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "first", stored.PasswordHash)

		err = versioned.UpdatePasswordHashIfVersion(ctx, ulid.Make(), 1, "x")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("returned users are copies", func(t *testing.T) {
		store := newStore(t)
		user := NewUser(t, "dave")
		require.NoError(t, store.Create(ctx, user))

		got, err := store.FindByID(ctx, user.ID)
		require.NoError(t, err)
		got.PasswordHash = "mutated"

		again, err := store.FindByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.PasswordHash, again.PasswordHash)
	})
}
