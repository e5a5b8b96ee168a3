// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package auth

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/oklog/ulid/v2"
)

// ResetNotice is handed to a ResetNotifier when a reset token is issued.
type ResetNotice struct {
	UserID    ulid.ULID `json:"userId"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	Link      string    `json:"link,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ResetNotifier delivers reset tokens to their owners. Delivery failures are
// logged by the caller and never reported to the requester. NotifyReset runs
// on the request path, so it must return promptly; network-backed notifiers
// are wrapped in a notify.Dispatcher.
type ResetNotifier interface {
	NotifyReset(ctx context.Context, notice ResetNotice) error
}

// LogNotifier writes reset notices to a logger. Development only: the token
// appears in the log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// NotifyReset logs the notice.
func (n *LogNotifier) NotifyReset(ctx context.Context, notice ResetNotice) error {
	n.logger.InfoContext(ctx, "password reset token issued",
		"user_id", notice.UserID.String(),
		"email", notice.Email,
		"token", notice.Token,
		"link", notice.Link,
		"expires_at", notice.ExpiresAt,
	)
	return nil
}

// ResetLink appends the token to base as the "token" query parameter.
// An empty or unparsable base yields "".
func ResetLink(base, token string) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

var _ ResetNotifier = (*LogNotifier)(nil)
