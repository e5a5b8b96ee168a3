// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"golang.org/x/crypto/bcrypt"

	"github.com/collegemedia/collegemedia/internal/auth"
	"github.com/collegemedia/collegemedia/internal/auth/memory"
	"github.com/collegemedia/collegemedia/internal/auth/postgres"
)

func newUser(name string) *auth.User {
	suffix := ulid.Make().String()
	u, err := auth.NewUser(auth.NewUserParams{
		Username:     name + "_" + suffix,
		Email:        name + "_" + suffix + "@example.edu",
		PasswordHash: "$2a$10$placeholder",
	})
	Expect(err).NotTo(HaveOccurred())
	return u
}

var _ = Describe("UserStore", func() {
	var (
		ctx context.Context
		s   *postgres.UserStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = postgres.NewUserStore(testPool)
	})

	It("round-trips a user", func() {
		u := newUser("alice")
		u.FirstName = "Alice"
		Expect(s.Create(ctx, u)).To(Succeed())

		got, err := s.FindByEmail(ctx, u.Email)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(u.ID))
		Expect(got.FirstName).To(Equal("Alice"))
		Expect(got.PasswordVersion).To(Equal(auth.InitialPasswordVersion))
	})

	It("matches email case-sensitively", func() {
		u := newUser("Mixed")
		Expect(s.Create(ctx, u)).To(Succeed())

		_, err := s.FindByEmail(ctx, "mixed"+u.Email[len("Mixed"):])
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
	})

	It("translates unique violations", func() {
		u := newUser("dup")
		Expect(s.Create(ctx, u)).To(Succeed())

		again := newUser("dup2")
		again.Email = u.Email
		err := s.Create(ctx, again)
		Expect(errors.Is(err, auth.ErrDuplicateUser)).To(BeTrue())
		Expect(auth.KindOf(err)).To(Equal(auth.KindDuplicateUser))
	})

	It("admits exactly one of many concurrent duplicates", func() {
		email := newUser("race").Email
		users := make([]*auth.User, 12)
		for i := range users {
			users[i] = newUser("racer")
			users[i].Email = email
		}

		var (
			wg                sync.WaitGroup
			mu                sync.Mutex
			successes, dupes int
		)
		for _, u := range users {
			wg.Add(1)
			go func(u *auth.User) {
				defer GinkgoRecover()
				defer wg.Done()
				err := s.Create(ctx, u)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					successes++
				} else if errors.Is(err, auth.ErrDuplicateUser) {
					dupes++
				}
			}(u)
		}
		wg.Wait()

		Expect(successes).To(Equal(1))
		Expect(dupes).To(Equal(len(users) - 1))
	})

	It("bumps the password version and guards stale updates", func() {
		u := newUser("bob")
		Expect(s.Create(ctx, u)).To(Succeed())

		Expect(s.UpdatePasswordHashIfVersion(ctx, u.ID, 1, "h2")).To(Succeed())
		err := s.UpdatePasswordHashIfVersion(ctx, u.ID, 1, "h3")
		Expect(errors.Is(err, auth.ErrVersionConflict)).To(BeTrue())

		Expect(s.UpdatePasswordHash(ctx, u.ID, "h4")).To(Succeed())
		got, err := s.FindByID(ctx, u.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.PasswordHash).To(Equal("h4"))
		Expect(got.PasswordVersion).To(Equal(int64(3)))

		err = s.UpdatePasswordHash(ctx, ulid.Make(), "x")
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
	})
})

var _ = Describe("Service over postgres", func() {
	It("runs the register, login, reset flow", func() {
		ctx := context.Background()
		secret := []byte("integration-secret")

		durable := postgres.NewUserStore(testPool)
		flag := &auth.ConnectivityFlag{}
		flag.Set(true)
		selector, err := auth.NewStoreSelector(auth.ModeAuto, durable, memory.NewStore(), flag)
		Expect(err).NotTo(HaveOccurred())

		sessions, err := auth.NewSessionTokens(secret)
		Expect(err).NotTo(HaveOccurred())
		resets, err := auth.NewResetTokens(secret)
		Expect(err).NotTo(HaveOccurred())

		notifier := &capturingNotifier{}
		svc, err := auth.NewService(auth.Deps{
			Stores:   selector,
			Hasher:   auth.NewBcryptHasher(bcrypt.MinCost),
			Sessions: sessions,
			Resets:   resets,
			Notifier: notifier,
		})
		Expect(err).NotTo(HaveOccurred())

		email := "alice_" + ulid.Make().String() + "@x.io"
		reg, err := svc.Register(ctx, auth.RegisterInput{Username: "alice_" + ulid.Make().String(), Email: email, Password: "p1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(reg.Token).NotTo(BeEmpty())

		_, err = svc.Login(ctx, email, "p1")
		Expect(err).NotTo(HaveOccurred())

		Expect(svc.ForgotPassword(ctx, email)).To(Succeed())
		Expect(notifier.notices).To(HaveLen(1))

		Expect(svc.ResetPassword(ctx, notifier.notices[0].Token, "p2")).To(Succeed())

		_, err = svc.Login(ctx, email, "p1")
		Expect(auth.KindOf(err)).To(Equal(auth.KindInvalidCredentials))
		_, err = svc.Login(ctx, email, "p2")
		Expect(err).NotTo(HaveOccurred())

		err = svc.ResetPassword(ctx, notifier.notices[0].Token, "p3")
		Expect(auth.KindOf(err)).To(Equal(auth.KindInvalidOrExpiredToken))
	})
})

type capturingNotifier struct {
	mu      sync.Mutex
	notices []auth.ResetNotice
}

func (n *capturingNotifier) NotifyReset(_ context.Context, notice auth.ResetNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}
