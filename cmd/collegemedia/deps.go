// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collegemedia/collegemedia/internal/auth"
	"github.com/collegemedia/collegemedia/internal/auth/postgres"
	"github.com/collegemedia/collegemedia/internal/notify"
	"github.com/collegemedia/collegemedia/internal/observability"
	"github.com/collegemedia/collegemedia/internal/store"
)

// DatabasePool is what serve needs from a connection pool.
type DatabasePool interface {
	postgres.Pool
	store.Pinger
	Close()
}

// Migrator wraps the store.Migrator methods the CLI uses.
type Migrator interface {
	Up() error
	Steps(n int) error
	Force(version int) error
	Status() (store.MigrationStatus, error)
	Close() error
}

// ObservabilityServer wraps observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// ServeDeps contains injectable dependencies for the serve command.
// Nil fields use their default implementations.
type ServeDeps struct {
	// PoolOpener connects to PostgreSQL.
	// Default: store.OpenPool
	PoolOpener func(ctx context.Context, cfg store.PoolConfig) (DatabasePool, error)

	// MigratorFactory creates a migrator for auto-migration.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (Migrator, error)

	// ObservabilityServerFactory creates the metrics/health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// AMQPNotifierFactory creates the broker-backed reset notifier.
	// Default: notify.NewAMQPPublisher
	AMQPNotifierFactory func(url, queue string, logger *slog.Logger) (AMQPNotifier, error)

	// Listen opens the API listener.
	// Default: net.Listen
	Listen func(network, address string) (net.Listener, error)

	// Getenv reads environment fallbacks.
	// Default: os.Getenv
	Getenv func(string) string

	// LogOutput receives logs.
	// Default: the command's stderr
	LogOutput io.Writer
}

// AMQPNotifier is a closable reset notifier.
type AMQPNotifier interface {
	auth.ResetNotifier
	io.Closer
}

// MigrateDeps contains injectable dependencies for the migrate command.
type MigrateDeps struct {
	// MigratorFactory creates a migrator.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (Migrator, error)

	// Getenv reads environment fallbacks.
	// Default: os.Getenv
	Getenv func(string) string
}

// StatusDeps contains injectable dependencies for the status command.
type StatusDeps struct {
	// HTTPClient queries the health endpoints.
	// Default: a client with a 2s timeout
	HTTPClient *http.Client

	// Getenv reads environment fallbacks.
	// Default: os.Getenv
	Getenv func(string) string
}

var (
	_ DatabasePool        = (*pgxpool.Pool)(nil)
	_ Migrator            = (*store.Migrator)(nil)
	_ ObservabilityServer = (*observability.Server)(nil)
	_ AMQPNotifier        = (*notify.AMQPPublisher)(nil)
)
