// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultProbeInterval is how often Monitor pings the database.
const DefaultProbeInterval = 5 * time.Second

// FlagSetter receives reachability updates.
type FlagSetter interface {
	Set(connected bool)
}

// Monitor pings the database on an interval and publishes the result to a
// flag. Requests read the flag once when they start.
type Monitor struct {
	pinger   Pinger
	flag     FlagSetter
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	onChange func(connected bool)
	last     *bool
}

// MonitorOption customises a Monitor.
type MonitorOption func(*Monitor)

// WithProbeInterval sets the time between pings.
func WithProbeInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithMonitorLogger sets the logger for connectivity transitions.
func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTransitionHook is called whenever reachability changes, including
// the first probe.
func WithTransitionHook(fn func(connected bool)) MonitorOption {
	return func(m *Monitor) {
		m.onChange = fn
	}
}

// NewMonitor creates a Monitor.
func NewMonitor(pinger Pinger, flag FlagSetter, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		pinger:   pinger,
		flag:     flag,
		interval: DefaultProbeInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.timeout = m.interval
	return m
}

// Probe pings once and updates the flag. Not safe for concurrent use with Run.
func (m *Monitor) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.pinger.Ping(ctx)
	connected := err == nil
	m.flag.Set(connected)

	if m.last == nil || *m.last != connected {
		if connected {
			m.logger.InfoContext(ctx, "database reachable")
		} else {
			m.logger.WarnContext(ctx, "database unreachable, serving from memory store", "error", err)
		}
		if m.onChange != nil {
			m.onChange(connected)
		}
		m.last = &connected
	}
	return connected
}

// Run probes until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
