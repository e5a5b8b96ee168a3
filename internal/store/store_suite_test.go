// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/collegemedia/collegemedia/internal/auth"
	"github.com/collegemedia/collegemedia/internal/store"
)

var (
	connStr       string
	testContainer *tcpostgres.PostgresContainer
)

func TestStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Store Suite")
}

var _ = BeforeSuite(func() {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("collegemedia_store"),
		tcpostgres.WithUsername("collegemedia"),
		tcpostgres.WithPassword("collegemedia"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	Expect(err).NotTo(HaveOccurred())
	testContainer = container

	connStr, err = container.ConnectionString(ctx, "sslmode=disable")
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if testContainer != nil {
		_ = testContainer.Terminate(context.Background())
	}
})

var _ = Describe("Migrator", Ordered, func() {
	var migrator *store.Migrator

	BeforeAll(func() {
		var err error
		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { Expect(migrator.Close()).To(Succeed()) })
	})

	It("starts with every migration pending", func() {
		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Current).To(BeZero())
		Expect(status.Applied).To(BeEmpty())
		Expect(status.Pending).To(HaveLen(2))
	})

	It("applies all migrations and is idempotent", func() {
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Up()).To(Succeed())

		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Current).To(BeEquivalentTo(2))
		Expect(status.Dirty).To(BeFalse())
		Expect(status.Pending).To(BeEmpty())
	})

	It("rolls back one step", func() {
		Expect(migrator.Steps(-1)).To(Succeed())
		version, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeEquivalentTo(1))
		Expect(migrator.Up()).To(Succeed())
	})
})

var _ = Describe("OpenPool and Monitor", func() {
	It("connects and reports reachability", func(ctx SpecContext) {
		pool, err := store.OpenPool(ctx, store.PoolConfig{URL: connStr, Retries: 3})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(pool.Close)

		flag := &auth.ConnectivityFlag{}
		monitor := store.NewMonitor(pool, flag, store.WithProbeInterval(100*time.Millisecond))
		Expect(monitor.Probe(ctx)).To(BeTrue())
		Expect(flag.Connected()).To(BeTrue())

		pool.Close()
		Expect(monitor.Probe(ctx)).To(BeFalse())
		Expect(flag.Connected()).To(BeFalse())
	}, SpecTimeout(30*time.Second))
})
