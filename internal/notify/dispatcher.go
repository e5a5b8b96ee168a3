// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/collegemedia/collegemedia/internal/auth"
	"github.com/collegemedia/collegemedia/pkg/errutil"
)

// Dispatcher defaults.
const (
	DefaultQueueSize       = 64
	DefaultDeliveryTimeout = 10 * time.Second
)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueSize sets how many notices may wait for delivery.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.size = n
		}
	}
}

// WithDeliveryTimeout bounds each delivery attempt.
func WithDeliveryTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithDispatchLogger sets the logger for delivery failures.
func WithDispatchLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

type delivery struct {
	ctx    context.Context
	notice auth.ResetNotice
}

// Dispatcher queues reset notices and delivers them from one worker
// goroutine. NotifyReset returns without waiting on the downstream notifier.
type Dispatcher struct {
	next    auth.ResetNotifier
	size    int
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan delivery
	wg     sync.WaitGroup
}

// NewDispatcher starts a dispatcher delivering to next.
func NewDispatcher(next auth.ResetNotifier, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		next:    next,
		size:    DefaultQueueSize,
		timeout: DefaultDeliveryTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan delivery, d.size)

	d.wg.Add(1)
	go d.run()
	return d
}

// NotifyReset enqueues notice. It never blocks; a full or closed queue is
// reported as an error.
func (d *Dispatcher) NotifyReset(ctx context.Context, notice auth.ResetNotice) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return oops.Code("NOTIFY_CLOSED").Errorf("reset notice dispatcher is closed")
	}
	// Keep request values for logging but not the request's deadline.
	select {
	case d.queue <- delivery{ctx: context.WithoutCancel(ctx), notice: notice}:
		return nil
	default:
		return oops.Code("NOTIFY_QUEUE_FULL").
			With("queue_size", d.size).
			With("user_id", notice.UserID.String()).
			Errorf("reset notice queue is full")
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for job := range d.queue {
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job delivery) {
	ctx, cancel := context.WithTimeout(job.ctx, d.timeout)
	defer cancel()

	if err := d.next.NotifyReset(ctx, job.notice); err != nil {
		errutil.LogErrorContext(ctx, d.logger, "deliver reset notice", err)
	}
}

// Close stops accepting notices and waits for queued ones to be delivered.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	d.wg.Wait()
	return nil
}

var _ auth.ResetNotifier = (*Dispatcher)(nil)
