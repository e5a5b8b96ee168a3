// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/collegemedia/collegemedia/internal/auth"
	"github.com/collegemedia/collegemedia/internal/auth/memory"
	"github.com/collegemedia/collegemedia/internal/auth/mocks"
	"github.com/collegemedia/collegemedia/pkg/errutil"
)

// captureNotifier records every notice it receives.
type captureNotifier struct {
	mu      sync.Mutex
	notices []auth.ResetNotice
	err     error
}

func (n *captureNotifier) NotifyReset(_ context.Context, notice auth.ResetNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

func (n *captureNotifier) last(t *testing.T) auth.ResetNotice {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.notices, "no reset notice delivered")
	return n.notices[len(n.notices)-1]
}

type harness struct {
	svc      *auth.Service
	store    auth.UserStore
	sessions *auth.SessionTokens
	resets   *auth.ResetTokens
	notifier *captureNotifier
	clock    *fixedClock
	logs     *bytes.Buffer
}

func newHarness(t *testing.T, store auth.UserStore) *harness {
	t.Helper()
	if store == nil {
		store = memory.NewStore()
	}
	clock := newClock()

	selector, err := auth.NewStoreSelector(auth.ModeMemory, nil, store, nil)
	require.NoError(t, err)
	sessions, err := auth.NewSessionTokens(testSecret, auth.WithTokenClock(clock.Now))
	require.NoError(t, err)
	resets, err := auth.NewResetTokens(testSecret, auth.WithTokenClock(clock.Now))
	require.NoError(t, err)

	var logs bytes.Buffer
	notifier := &captureNotifier{}
	svc, err := auth.NewService(auth.Deps{
		Stores:        selector,
		Hasher:        auth.NewBcryptHasher(bcrypt.MinCost),
		Sessions:      sessions,
		Resets:        resets,
		Notifier:      notifier,
		ResetLinkBase: "http://localhost:5173/reset-password",
		Logger:        slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	require.NoError(t, err)

	return &harness{
		svc:      svc,
		store:    store,
		sessions: sessions,
		resets:   resets,
		notifier: notifier,
		clock:    clock,
		logs:     &logs,
	}
}

func (h *harness) register(t *testing.T, username, email, password string) *auth.AuthResult {
	t.Helper()
	res, err := h.svc.Register(context.Background(), auth.RegisterInput{
		Username: username,
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)
	return res
}

func TestNewService_ValidatesDependencies(t *testing.T) {
	selector, err := auth.NewStoreSelector(auth.ModeMemory, nil, memory.NewStore(), nil)
	require.NoError(t, err)
	sessions, err := auth.NewSessionTokens(testSecret)
	require.NoError(t, err)
	resets, err := auth.NewResetTokens(testSecret)
	require.NoError(t, err)
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)

	tests := []struct {
		name string
		deps auth.Deps
	}{
		{"nil stores", auth.Deps{Hasher: hasher, Sessions: sessions, Resets: resets}},
		{"nil hasher", auth.Deps{Stores: selector, Sessions: sessions, Resets: resets}},
		{"nil sessions", auth.Deps{Stores: selector, Hasher: hasher, Resets: resets}},
		{"nil resets", auth.Deps{Stores: selector, Hasher: hasher, Sessions: sessions}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := auth.NewService(tt.deps)
			require.Error(t, err)
			assert.Nil(t, svc)
			errutil.AssertErrorCode(t, err, auth.CodeDependencyMissing)
		})
	}

	svc, err := auth.NewService(auth.Deps{Stores: selector, Hasher: hasher, Sessions: sessions, Resets: resets})
	require.NoError(t, err)
	assert.NotNil(t, svc, "notifier and logger are optional")
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates user and returns a verifiable token", func(t *testing.T) {
		h := newHarness(t, nil)
		res, err := h.svc.Register(ctx, auth.RegisterInput{
			Username:  "alice",
			Email:     "a@x.io",
			Password:  "p1",
			FirstName: "Alice",
			LastName:  "Liddell",
		})
		require.NoError(t, err)

		assert.Equal(t, "alice", res.User.Username)
		assert.Equal(t, "a@x.io", res.User.Email)
		assert.Equal(t, "Alice", res.User.FirstName)
		assert.Equal(t, "Liddell", res.User.LastName)

		subject, err := h.sessions.Verify(res.Token)
		require.NoError(t, err)
		assert.Equal(t, res.User.ID, subject.String())

		stored, err := h.store.FindByEmail(ctx, "a@x.io")
		require.NoError(t, err)
		assert.NotEqual(t, "p1", stored.PasswordHash)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("p1")))
	})

	t.Run("duplicate email or username", func(t *testing.T) {
		h := newHarness(t, nil)
		h.register(t, "alice", "a@x.io", "p1")

		for _, in := range []auth.RegisterInput{
			{Username: "alice2", Email: "a@x.io", Password: "p"},
			{Username: "alice", Email: "other@x.io", Password: "p"},
		} {
			_, err := h.svc.Register(ctx, in)
			require.Error(t, err)
			assert.Equal(t, auth.KindDuplicateUser, auth.KindOf(err))
			assert.Equal(t, auth.MsgDuplicateUser, auth.PublicMessage(err))
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		h := newHarness(t, nil)
		for _, in := range []auth.RegisterInput{
			{Email: "a@x.io", Password: "p"},
			{Username: "a", Password: "p"},
			{Username: "a", Email: "a@x.io"},
		} {
			_, err := h.svc.Register(ctx, in)
			require.Error(t, err)
			assert.Equal(t, auth.KindValidation, auth.KindOf(err))
			assert.Equal(t, auth.MsgRegisterFieldsMissing, auth.PublicMessage(err))
		}
	})

	t.Run("password too long is a validation error", func(t *testing.T) {
		h := newHarness(t, nil)
		_, err := h.svc.Register(ctx, auth.RegisterInput{Username: "a", Email: "a@x.io", Password: strings.Repeat("p", 100)})
		require.Error(t, err)
		assert.Equal(t, auth.KindValidation, auth.KindOf(err))
	})

	t.Run("concurrent registrations admit exactly one", func(t *testing.T) {
		h := newHarness(t, nil)

		const attempts = 20
		var (
			wg        sync.WaitGroup
			successes counter
			dupes     counter
		)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := h.svc.Register(ctx, auth.RegisterInput{
					Username: "racer" + string(rune('a'+i)),
					Email:    "same@x.io",
					Password: "p",
				})
				switch {
				case err == nil:
					successes.inc()
				case auth.KindOf(err) == auth.KindDuplicateUser:
					dupes.inc()
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, successes.get())
		assert.Equal(t, attempts-1, dupes.get())
	})

	t.Run("store-level duplicate maps to duplicate user", func(t *testing.T) {
		store := mocks.NewUserStore(t)
		store.On("FindByEmailOrUsername", mock.Anything, "a@x.io", "alice").
			Return(nil, oops.Wrap(auth.ErrNotFound))
		store.On("Create", mock.Anything, mock.AnythingOfType("*auth.User")).
			Return(oops.Code(auth.CodeStoreDuplicateEntry).Wrap(auth.ErrDuplicateUser))

		h := newHarness(t, store)
		_, err := h.svc.Register(ctx, auth.RegisterInput{Username: "alice", Email: "a@x.io", Password: "p"})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeDuplicateUser)
	})

	t.Run("store outage surfaces as store unavailable", func(t *testing.T) {
		store := mocks.NewUserStore(t)
		store.On("FindByEmailOrUsername", mock.Anything, "a@x.io", "alice").
			Return(nil, oops.Code(auth.CodeStoreUnavailable).Wrap(errors.Join(auth.ErrStoreUnavailable, errors.New("dial tcp"))))

		h := newHarness(t, store)
		_, err := h.svc.Register(ctx, auth.RegisterInput{Username: "alice", Email: "a@x.io", Password: "p"})
		require.Error(t, err)
		assert.Equal(t, auth.KindStoreUnavailable, auth.KindOf(err))
		assert.Equal(t, auth.MsgServerError, auth.PublicMessage(err))
	})
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() { c.mu.Lock(); c.n++; c.mu.Unlock() }
func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	reg := h.register(t, "alice", "a@x.io", "p1")

	t.Run("correct credentials", func(t *testing.T) {
		res, err := h.svc.Login(ctx, "a@x.io", "p1")
		require.NoError(t, err)
		assert.Equal(t, reg.User.ID, res.User.ID)

		subject, err := h.sessions.Verify(res.Token)
		require.NoError(t, err)
		assert.Equal(t, reg.User.ID, subject.String())
	})

	t.Run("wrong password and unknown email are indistinguishable", func(t *testing.T) {
		_, wrongPassword := h.svc.Login(ctx, "a@x.io", "nope")
		_, unknownEmail := h.svc.Login(ctx, "ghost@x.io", "p1")

		require.Error(t, wrongPassword)
		require.Error(t, unknownEmail)
		assert.Equal(t, auth.KindInvalidCredentials, auth.KindOf(wrongPassword))
		assert.Equal(t, auth.KindOf(wrongPassword), auth.KindOf(unknownEmail))
		assert.Equal(t, errutil.Code(wrongPassword), errutil.Code(unknownEmail))
		assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
		assert.Equal(t, auth.MsgInvalidCredentials, auth.PublicMessage(unknownEmail))
	})

	t.Run("email match is exact", func(t *testing.T) {
		_, err := h.svc.Login(ctx, "A@X.IO", "p1")
		assert.Equal(t, auth.KindInvalidCredentials, auth.KindOf(err))
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := h.svc.Login(ctx, "", "p1")
		assert.Equal(t, auth.KindValidation, auth.KindOf(err))
		_, err = h.svc.Login(ctx, "a@x.io", "")
		assert.Equal(t, auth.KindValidation, auth.KindOf(err))
	})

	t.Run("profile fields come back on login", func(t *testing.T) {
		store := memory.NewStore()
		u, err := auth.NewUser(auth.NewUserParams{Username: "bob", Email: "b@x.io", PasswordHash: mustHash(t, "pw")})
		require.NoError(t, err)
		u.ProfilePicture = "https://cdn.example.edu/bob.png"
		u.Bio = "hello"
		require.NoError(t, store.Create(ctx, u))

		hb := newHarness(t, store)
		res, err := hb.svc.Login(ctx, "b@x.io", "pw")
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example.edu/bob.png", res.User.ProfilePicture)
		assert.Equal(t, "hello", res.User.Bio)
	})
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	digest, err := auth.NewBcryptHasher(bcrypt.MinCost).Hash(password)
	require.NoError(t, err)
	return digest
}

func TestService_ForgotPassword(t *testing.T) {
	ctx := context.Background()

	t.Run("existing and unknown email look the same", func(t *testing.T) {
		h := newHarness(t, nil)
		reg := h.register(t, "alice", "a@x.io", "p1")

		errExisting := h.svc.ForgotPassword(ctx, "a@x.io")
		errUnknown := h.svc.ForgotPassword(ctx, "ghost@x.io")
		assert.NoError(t, errExisting)
		assert.NoError(t, errUnknown)

		require.Len(t, h.notifier.notices, 1, "only the existing account gets a notice")
		notice := h.notifier.last(t)
		assert.Equal(t, "a@x.io", notice.Email)
		assert.Equal(t, reg.User.ID, notice.UserID.String())
		assert.Equal(t, h.clock.Now().Add(time.Hour), notice.ExpiresAt)
		assert.Contains(t, notice.Link, "http://localhost:5173/reset-password?token=")

		claims, err := h.resets.Verify(notice.Token)
		require.NoError(t, err)
		assert.Equal(t, "a@x.io", claims.Email)
		assert.Equal(t, auth.InitialPasswordVersion, claims.PasswordVersion)
	})

	t.Run("empty email", func(t *testing.T) {
		h := newHarness(t, nil)
		err := h.svc.ForgotPassword(ctx, "")
		require.Error(t, err)
		assert.Equal(t, auth.KindValidation, auth.KindOf(err))
		assert.Equal(t, auth.MsgEmailRequired, auth.PublicMessage(err))
	})

	t.Run("delivery failure is logged not returned", func(t *testing.T) {
		h := newHarness(t, nil)
		h.register(t, "alice", "a@x.io", "p1")
		h.notifier.err = oops.Code("NOTIFY_FAILED").Errorf("broker down")

		require.NoError(t, h.svc.ForgotPassword(ctx, "a@x.io"))
		assert.Contains(t, h.logs.String(), "NOTIFY_FAILED")
	})

	t.Run("store outage propagates", func(t *testing.T) {
		store := mocks.NewUserStore(t)
		store.On("FindByEmail", mock.Anything, "a@x.io").
			Return(nil, oops.Code(auth.CodeStoreUnavailable).Wrap(auth.ErrStoreUnavailable))

		h := newHarness(t, store)
		err := h.svc.ForgotPassword(ctx, "a@x.io")
		assert.Equal(t, auth.KindStoreUnavailable, auth.KindOf(err))
	})
}

func TestService_ResetPassword(t *testing.T) {
	ctx := context.Background()

	issue := func(t *testing.T, h *harness, email string) string {
		t.Helper()
		require.NoError(t, h.svc.ForgotPassword(ctx, email))
		return h.notifier.last(t).Token
	}

	t.Run("replaces the password once", func(t *testing.T) {
		h := newHarness(t, nil)
		h.register(t, "alice", "a@x.io", "p1")
		token := issue(t, h, "a@x.io")

		require.NoError(t, h.svc.ResetPassword(ctx, token, "p2"))

		_, err := h.svc.Login(ctx, "a@x.io", "p1")
		assert.Equal(t, auth.KindInvalidCredentials, auth.KindOf(err))
		_, err = h.svc.Login(ctx, "a@x.io", "p2")
		assert.NoError(t, err)

		err = h.svc.ResetPassword(ctx, token, "p3")
		require.Error(t, err, "a redeemed token must not work again")
		assert.Equal(t, auth.KindInvalidOrExpiredToken, auth.KindOf(err))
		assert.Equal(t, auth.MsgInvalidToken, auth.PublicMessage(err))
		_, err = h.svc.Login(ctx, "a@x.io", "p2")
		assert.NoError(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		h := newHarness(t, nil)
		h.register(t, "alice", "a@x.io", "p1")
		token := issue(t, h, "a@x.io")

		h.clock.Advance(time.Hour + time.Second)
		err := h.svc.ResetPassword(ctx, token, "p2")
		assert.Equal(t, auth.KindInvalidOrExpiredToken, auth.KindOf(err))

		_, err = h.svc.Login(ctx, "a@x.io", "p1")
		assert.NoError(t, err, "password must be unchanged")
	})

	t.Run("tampered token leaves password unchanged", func(t *testing.T) {
		h := newHarness(t, nil)
		h.register(t, "alice", "a@x.io", "p1")
		token := issue(t, h, "a@x.io")

		err := h.svc.ResetPassword(ctx, tamper(token), "p2")
		assert.Equal(t, auth.KindInvalidOrExpiredToken, auth.KindOf(err))

		_, err = h.svc.Login(ctx, "a@x.io", "p1")
		assert.NoError(t, err)
	})

	t.Run("session token is not a reset token", func(t *testing.T) {
		h := newHarness(t, nil)
		reg := h.register(t, "alice", "a@x.io", "p1")

		err := h.svc.ResetPassword(ctx, reg.Token, "p2")
		assert.Equal(t, auth.KindInvalidOrExpiredToken, auth.KindOf(err))
	})

	t.Run("missing fields", func(t *testing.T) {
		h := newHarness(t, nil)
		for _, args := range [][2]string{{"", "p"}, {"tok", ""}} {
			err := h.svc.ResetPassword(ctx, args[0], args[1])
			assert.Equal(t, auth.KindValidation, auth.KindOf(err))
			assert.Equal(t, auth.MsgResetFieldsMissing, auth.PublicMessage(err))
		}
	})

	t.Run("overlong new password is rejected without mutation", func(t *testing.T) {
		h := newHarness(t, nil)
		h.register(t, "alice", "a@x.io", "p1")
		token := issue(t, h, "a@x.io")

		err := h.svc.ResetPassword(ctx, token, strings.Repeat("x", 80))
		assert.Equal(t, auth.KindValidation, auth.KindOf(err))

		require.NoError(t, h.svc.ResetPassword(ctx, token, "p2"), "token still valid after a rejected attempt")
	})

	t.Run("vanished subject", func(t *testing.T) {
		store := mocks.NewUserStore(t)
		h := newHarness(t, store)
		id := ulid.Make()
		token, err := h.resets.Issue(id, "a@x.io", 1)
		require.NoError(t, err)

		store.On("FindByID", mock.Anything, id).Return(nil, oops.Wrap(auth.ErrNotFound))

		err = h.svc.ResetPassword(ctx, token, "p2")
		assert.Equal(t, auth.KindInvalidOrExpiredToken, auth.KindOf(err))
	})

	t.Run("falls back to plain update for stores without versioning", func(t *testing.T) {
		store := mocks.NewUserStore(t)
		h := newHarness(t, store)
		user, err := auth.NewUser(auth.NewUserParams{Username: "alice", Email: "a@x.io", PasswordHash: "h"})
		require.NoError(t, err)
		token, err := h.resets.Issue(user.ID, user.Email, user.PasswordVersion)
		require.NoError(t, err)

		store.On("FindByID", mock.Anything, user.ID).Return(user, nil)
		store.On("UpdatePasswordHash", mock.Anything, user.ID, mock.AnythingOfType("string")).Return(nil)

		require.NoError(t, h.svc.ResetPassword(ctx, token, "p2"))
	})

	t.Run("email changed since issue", func(t *testing.T) {
		store := mocks.NewUserStore(t)
		h := newHarness(t, store)
		user, err := auth.NewUser(auth.NewUserParams{Username: "alice", Email: "new@x.io", PasswordHash: "h"})
		require.NoError(t, err)
		token, err := h.resets.Issue(user.ID, "old@x.io", user.PasswordVersion)
		require.NoError(t, err)

		store.On("FindByID", mock.Anything, user.ID).Return(user, nil)

		err = h.svc.ResetPassword(ctx, token, "p2")
		assert.Equal(t, auth.KindInvalidOrExpiredToken, auth.KindOf(err))
	})
}

func TestService_ProfileAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	reg := h.register(t, "alice", "a@x.io", "p1")

	id, err := h.svc.Authenticate(reg.Token)
	require.NoError(t, err)

	profile, err := h.svc.Profile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, reg.User, *profile)

	_, err = h.svc.Profile(ctx, ulid.Make())
	assert.Equal(t, auth.KindNotFound, auth.KindOf(err))

	_, err = h.svc.Authenticate("garbage")
	assert.Equal(t, auth.KindInvalidOrExpiredToken, auth.KindOf(err))
}

func TestService_UsesPinnedStore(t *testing.T) {
	h := newHarness(t, nil)
	pinned := memory.NewStore()
	ctx := auth.WithStore(context.Background(), auth.BackendPostgres, pinned)

	_, err := h.svc.Register(ctx, auth.RegisterInput{Username: "alice", Email: "a@x.io", Password: "p1"})
	require.NoError(t, err)

	assert.Equal(t, 1, pinned.Len())
	_, err = h.store.FindByEmail(context.Background(), "a@x.io")
	assert.ErrorIs(t, err, auth.ErrNotFound, "selector store must not be touched")
}

func TestService_LogsSuccessfulRegistration(t *testing.T) {
	h := newHarness(t, nil)
	reg := h.register(t, "alice", "a@x.io", "p1")

	var entry map[string]any
	line, _, _ := bytes.Cut(h.logs.Bytes(), []byte("\n"))
	require.NoError(t, json.Unmarshal(line, &entry))
	assert.Equal(t, "user registered", entry["msg"])
	assert.Equal(t, reg.User.ID, entry["user_id"])
	assert.Equal(t, "memory", entry["backend"])
	assert.NotContains(t, h.logs.String(), "p1\"", "password must never be logged")
}

// TestAliceScenario walks the full account lifecycle.
func TestAliceScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	reg, err := h.svc.Register(ctx, auth.RegisterInput{Username: "alice", Email: "a@x.io", Password: "p1"})
	require.NoError(t, err)
	require.NotEmpty(t, reg.Token)

	_, err = h.svc.Login(ctx, "a@x.io", "p1")
	require.NoError(t, err)

	require.NoError(t, h.svc.ForgotPassword(ctx, "a@x.io"))
	token := h.notifier.last(t).Token

	require.NoError(t, h.svc.ResetPassword(ctx, token, "p2"))

	_, err = h.svc.Login(ctx, "a@x.io", "p1")
	assert.Equal(t, auth.KindInvalidCredentials, auth.KindOf(err))

	_, err = h.svc.Login(ctx, "a@x.io", "p2")
	assert.NoError(t, err)
}

func TestService_ForgotPasswordNotifierContract(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	user, err := auth.NewUser(auth.NewUserParams{Username: "alice", Email: "a@x.io", PasswordHash: mustHash(t, "p1")})
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, user))

	selector, err := auth.NewStoreSelector(auth.ModeMemory, nil, store, nil)
	require.NoError(t, err)
	sessions, err := auth.NewSessionTokens(testSecret)
	require.NoError(t, err)
	resets, err := auth.NewResetTokens(testSecret)
	require.NoError(t, err)

	notifier := mocks.NewResetNotifier(t)
	notifier.On("NotifyReset", mock.Anything, mock.MatchedBy(func(n auth.ResetNotice) bool {
		return n.UserID == user.ID && n.Email == "a@x.io" && n.Token != "" && n.Link == ""
	})).Return(nil).Once()

	svc, err := auth.NewService(auth.Deps{
		Stores:   selector,
		Hasher:   auth.NewBcryptHasher(bcrypt.MinCost),
		Sessions: sessions,
		Resets:   resets,
		Notifier: notifier,
	})
	require.NoError(t, err)

	require.NoError(t, svc.ForgotPassword(ctx, "a@x.io"))
	require.NoError(t, svc.ForgotPassword(ctx, "ghost@x.io"))
}
