// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/collegemedia/collegemedia/internal/auth"
	"github.com/collegemedia/collegemedia/internal/auth/memory"
	"github.com/collegemedia/collegemedia/internal/auth/postgres"
	"github.com/collegemedia/collegemedia/internal/config"
	"github.com/collegemedia/collegemedia/internal/httpapi"
	"github.com/collegemedia/collegemedia/internal/logging"
	"github.com/collegemedia/collegemedia/internal/notify"
	"github.com/collegemedia/collegemedia/internal/observability"
	"github.com/collegemedia/collegemedia/internal/store"
)

const (
	serviceName     = "collegemedia"
	shutdownTimeout = 10 * time.Second
)

func newServeCmd(opts *rootOptions, deps *ServeDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the auth API server",
		Long: `Start the HTTP API for registration, login and password reset, plus
the metrics and health endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, opts, deps)
		},
	}
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.PoolOpener == nil {
		out.PoolOpener = func(ctx context.Context, cfg store.PoolConfig) (DatabasePool, error) {
			pool, err := store.OpenPool(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return pool, nil
		}
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = newStoreMigrator
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, observability.WithLogger(logger))
		}
	}
	if out.AMQPNotifierFactory == nil {
		out.AMQPNotifierFactory = func(url, queue string, logger *slog.Logger) (AMQPNotifier, error) {
			publisher, err := notify.NewAMQPPublisher(url, queue, notify.WithPublishLogger(logger))
			if err != nil {
				return nil, err
			}
			return publisher, nil
		}
	}
	if out.Listen == nil {
		out.Listen = net.Listen
	}
	if out.Getenv == nil {
		out.Getenv = os.Getenv
	}
	return &out
}

// runServeWithDeps runs the server until ctx ends, a signal arrives or a
// listener fails.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, opts *rootOptions, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps = deps.withDefaults()

	cfg, err := loadConfig(cmd, opts, deps.Getenv)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("operation", "load configuration").Wrap(err)
	}

	logOut := deps.LogOutput
	if logOut == nil {
		logOut = cmd.ErrOrStderr()
	}
	logger := logging.SetupWithLevel(serviceName, version, cfg.LogFormat, logging.ParseLevel(cfg.LogLevel), logOut)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting collegemedia",
		"env", cfg.Env,
		"http_addr", cfg.HTTP.Addr,
		"backend", cfg.Database.Backend,
		"notifier", cfg.Reset.Notifier,
	)

	flag := &auth.ConnectivityFlag{}
	memStore := memory.NewStore()

	pool, err := openDurable(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}
	var durable auth.UserStore
	if pool != nil {
		defer pool.Close()
		durable = postgres.NewUserStore(pool)
		flag.Set(true)
	}

	mode := cfg.Database.Backend
	if mode == auth.ModeAuto && durable == nil {
		// No durable store this run; serve from memory throughout.
		mode = auth.ModeMemory
	}

	obs := deps.ObservabilityServerFactory(cfg.MetricsAddr, readiness(mode, flag), logger)
	metrics := obs.Metrics()
	metrics.SetStoreConnected(flag.Connected())

	selector, err := auth.NewStoreSelector(mode, durable, memStore, flag,
		auth.WithSelectionObserver(func(b auth.Backend) { metrics.RecordSelection(string(b)) }))
	if err != nil {
		return err
	}

	notifier, closeNotifier, err := buildNotifier(cfg, deps, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	// Queued notices are flushed before the notifier closes.
	dispatcher := notify.NewDispatcher(
		notify.Instrument(notifier, cfg.Reset.Notifier, metrics.ResetNotices),
		notify.WithDeliveryTimeout(cfg.Reset.DeliveryTimeout),
		notify.WithDispatchLogger(logger),
	)
	defer func() { _ = dispatcher.Close() }()

	svc, err := buildService(cfg, selector, dispatcher, logger)
	if err != nil {
		return err
	}

	router, err := httpapi.NewRouter(httpapi.Config{
		Service:        svc,
		Selector:       selector,
		Logger:         logger,
		Metrics:        metrics,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if pool != nil {
		monitor := store.NewMonitor(pool, flag,
			store.WithProbeInterval(cfg.Database.ProbeInterval),
			store.WithMonitorLogger(logger),
			store.WithTransitionHook(metrics.SetStoreConnected),
		)
		go monitor.Run(ctx)
	}

	if cfg.MetricsAddr != "" {
		obsErrCh, err := obs.Start()
		if err != nil {
			return oops.Code("SERVE_FAILED").With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := obs.Stop(shutdownCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
	}

	listener, err := deps.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("SERVE_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	logger.Info("api server listening", "addr", listener.Addr().String())

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		runErr = oops.Code("SERVE_FAILED").With("operation", "serve api").Wrap(err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}

	logger.Info("shutdown complete")
	return runErr
}

// openDurable connects and migrates PostgreSQL. It returns a nil pool when
// the backend is memory, or when auto mode cannot reach the database.
func openDurable(ctx context.Context, cfg *config.Config, deps *ServeDeps, logger *slog.Logger) (DatabasePool, error) {
	if cfg.Database.Backend == auth.ModeMemory {
		return nil, nil
	}
	if cfg.Database.URL == "" {
		logger.Warn("no database url configured, serving from memory store")
		return nil, nil
	}

	pool, err := deps.PoolOpener(ctx, store.PoolConfig{
		URL:            cfg.Database.URL,
		ConnectTimeout: cfg.Database.ConnectTimeout,
		Retries:        cfg.Database.ConnectRetries,
	})
	if err != nil {
		if cfg.Database.Backend == auth.ModePostgres {
			return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "open database").Wrap(err)
		}
		logger.Warn("database unavailable at startup, serving from memory store", "error", err)
		return nil, nil
	}

	if cfg.Database.AutoMigrate {
		if err := autoMigrate(cfg.Database.URL, deps.MigratorFactory, logger); err != nil {
			pool.Close()
			return nil, err
		}
	}

	logger.Info("connected to database")
	return pool, nil
}

func autoMigrate(url string, factory func(string) (Migrator, error), logger *slog.Logger) error {
	migrator, err := factory(url)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("error closing migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "auto-migrate").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

func buildNotifier(cfg *config.Config, deps *ServeDeps, logger *slog.Logger) (auth.ResetNotifier, func(), error) {
	if cfg.Reset.Notifier != config.NotifierAMQP {
		return auth.NewLogNotifier(logger), func() {}, nil
	}

	publisher, err := deps.AMQPNotifierFactory(cfg.Reset.AMQPURL, cfg.Reset.Queue, logger)
	if err != nil {
		return nil, nil, oops.Code("NOTIFY_CONFIG_INVALID").With("operation", "create amqp notifier").Wrap(err)
	}
	return publisher, func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("error closing amqp notifier", "error", err)
		}
	}, nil
}

func buildService(cfg *config.Config, selector *auth.StoreSelector, notifier auth.ResetNotifier, logger *slog.Logger) (*auth.Service, error) {
	secret := cfg.SigningSecret(logger)

	sessions, err := auth.NewSessionTokens(secret, auth.WithTokenIssuer(cfg.Auth.Issuer))
	if err != nil {
		return nil, err
	}
	resets, err := auth.NewResetTokens(secret, auth.WithTokenIssuer(cfg.Auth.Issuer))
	if err != nil {
		return nil, err
	}

	return auth.NewService(auth.Deps{
		Stores:        selector,
		Hasher:        auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		Sessions:      sessions,
		Resets:        resets,
		Notifier:      notifier,
		ResetLinkBase: cfg.Reset.LinkBaseURL,
		Logger:        logger,
	})
}

// readiness reports ready unless postgres is mandatory and unreachable.
func readiness(mode string, flag *auth.ConnectivityFlag) observability.ReadinessChecker {
	if mode != auth.ModePostgres {
		return func() bool { return true }
	}
	return flag.Connected
}

// monitorServerErrors cancels ctx when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, name string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			logger.Error("server error, initiating shutdown", "server", name, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
