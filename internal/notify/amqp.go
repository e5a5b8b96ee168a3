// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

// Package notify delivers password reset notices to out-of-process mailers.
package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/collegemedia/collegemedia/internal/auth"
)

// MessageType tags published reset notices.
const MessageType = "collegemedia.password_reset"

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// DefaultDialTimeout bounds the TCP connect and AMQP handshake.
const DefaultDialTimeout = 5 * time.Second

// DialFunc opens a channel to the broker. The closer releases the underlying
// connection.
type DialFunc func(ctx context.Context, url string) (Channel, io.Closer, error)

// NewAMQPDialer returns a DialFunc whose connect and handshake give up after
// timeout or when ctx ends, whichever comes first.
func NewAMQPDialer(timeout time.Duration) DialFunc {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	return func(ctx context.Context, url string) (Channel, io.Closer, error) {
		conn, err := amqp.DialConfig(url, amqp.Config{
			Heartbeat: 10 * time.Second,
			Locale:    "en_US",
			Dial: func(network, addr string) (net.Conn, error) {
				deadline := time.Now().Add(timeout)
				if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
					deadline = d
				}
				dialer := net.Dialer{Deadline: deadline}
				c, err := dialer.DialContext(ctx, network, addr)
				if err != nil {
					return nil, err
				}
				// amqp091 clears the deadline once the handshake completes.
				if err := c.SetDeadline(deadline); err != nil {
					_ = c.Close()
					return nil, err
				}
				return c, nil
			},
		})
		if err != nil {
			return nil, nil, err
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		return ch, conn, nil
	}
}

// AMQPOption configures an AMQPPublisher.
type AMQPOption func(*AMQPPublisher)

// WithDialer replaces the amqp091 dialer.
func WithDialer(dial DialFunc) AMQPOption {
	return func(p *AMQPPublisher) { p.dial = dial }
}

// WithPublishLogger sets the publisher's logger.
func WithPublishLogger(logger *slog.Logger) AMQPOption {
	return func(p *AMQPPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// AMQPPublisher publishes reset notices as persistent JSON messages on a
// durable queue through the default exchange. The connection is opened on
// first use and reopened after a failed publish.
type AMQPPublisher struct {
	url    string
	queue  string
	dial   DialFunc
	logger *slog.Logger

	mu   sync.Mutex
	ch   Channel
	conn io.Closer
}

// NewAMQPPublisher creates a publisher for queue on the broker at url.
func NewAMQPPublisher(url, queue string, opts ...AMQPOption) (*AMQPPublisher, error) {
	if url == "" {
		return nil, oops.Code("NOTIFY_CONFIG_INVALID").Errorf("amqp url is required")
	}
	if queue == "" {
		return nil, oops.Code("NOTIFY_CONFIG_INVALID").Errorf("queue name is required")
	}
	p := &AMQPPublisher{
		url:    url,
		queue:  queue,
		dial:   NewAMQPDialer(DefaultDialTimeout),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NotifyReset publishes notice, redialing once if the cached channel fails.
// Dialing and publishing both stop when ctx ends.
func (p *AMQPPublisher) NotifyReset(ctx context.Context, notice auth.ResetNotice) error {
	body, err := json.Marshal(notice)
	if err != nil {
		return oops.Code("NOTIFY_ENCODE_FAILED").Wrap(err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ulid.Make().String(),
		Type:         MessageType,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	backoff := retry.WithMaxRetries(1, retry.NewConstant(100*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := p.publish(ctx, msg); err != nil {
			p.logger.WarnContext(ctx, "reset notice publish failed", "queue", p.queue, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("NOTIFY_PUBLISH_FAILED").
			With("queue", p.queue).
			With("user_id", notice.UserID.String()).
			Wrap(err)
	}
	return nil
}

func (p *AMQPPublisher) publish(ctx context.Context, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		ch, conn, err := p.dial(ctx, p.url)
		if err != nil {
			return err
		}
		if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			if conn != nil {
				_ = conn.Close()
			}
			return err
		}
		p.ch, p.conn = ch, conn
	}

	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		p.resetLocked()
		return err
	}
	return nil
}

func (p *AMQPPublisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// Close releases the broker connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}

var _ auth.ResetNotifier = (*AMQPPublisher)(nil)
