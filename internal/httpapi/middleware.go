// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/collegemedia/collegemedia/internal/auth"
	"github.com/collegemedia/collegemedia/internal/logging"
)

type subjectKey struct{}

// SubjectFrom returns the user ID authenticated by RequireSession.
func SubjectFrom(ctx context.Context) (ulid.ULID, bool) {
	id, ok := ctx.Value(subjectKey{}).(ulid.ULID)
	return id, ok
}

// RequireSession rejects requests without a valid "Bearer" session token.
func RequireSession(svc AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				writeFailure(w, http.StatusUnauthorized, MsgNotAuthorized)
				return
			}

			id, err := svc.Authenticate(token)
			if err != nil {
				writeFailure(w, http.StatusUnauthorized, MsgNotAuthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, id)))
		})
	}
}

// bindStore pins one user store backend for the whole request.
func bindStore(selector *auth.StoreSelector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, _ := selector.Bind(r.Context())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestLogger stamps the chi request ID into the logging context and logs
// one line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logging.WithRequestID(r.Context(), chimw.GetReqID(r.Context()))
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(ctx))

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			}
			if backend, _, ok := auth.StoreFrom(ctx); ok {
				attrs = append(attrs, "backend", backend)
			}
			logger.InfoContext(ctx, "http request", attrs...)
		})
	}
}

// instrument records request counts and latency by route pattern.
func instrument(requests *prometheus.CounterVec, duration *prometheus.HistogramVec) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
			duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}
