// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

// Package store owns the PostgreSQL connection pool, schema migrations and
// the reachability probe that drives backend selection.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Pool connection defaults.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultConnectRetries = 5
	defaultRetryBase      = 200 * time.Millisecond
	maxRetryInterval      = 5 * time.Second
)

// PoolConfig configures OpenPool.
type PoolConfig struct {
	URL            string
	ConnectTimeout time.Duration
	// Retries is how many extra ping attempts are made after the first.
	Retries uint64
	// RetryBase is the first backoff interval. Defaults to 200ms.
	RetryBase time.Duration
}

// OpenPool creates a pool and waits until the database answers a ping,
// retrying with capped exponential backoff.
func OpenPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, oops.Code("DB_CONFIG_INVALID").Errorf("database URL is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if err := PingWithRetry(ctx, pool, cfg.Retries, cfg.RetryBase); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Pinger is anything that can check database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingWithRetry pings until success, retries are exhausted or ctx ends.
func PingWithRetry(ctx context.Context, p Pinger, retries uint64, base time.Duration) error {
	backoff := retry.WithMaxRetries(retries,
		retry.WithCappedDuration(maxRetryInterval, retry.NewExponential(base)))

	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if err := p.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempts).
			Wrap(err)
	}
	return nil
}
