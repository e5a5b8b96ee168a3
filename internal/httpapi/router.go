// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

// Package httpapi exposes the auth service as a JSON HTTP API.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/collegemedia/collegemedia/internal/auth"
	"github.com/collegemedia/collegemedia/internal/observability"
)

// DefaultRequestTimeout bounds a request when Config.RequestTimeout is zero.
const DefaultRequestTimeout = 5 * time.Second

// Config holds the router's collaborators.
type Config struct {
	Service  AuthService
	Selector *auth.StoreSelector
	Logger   *slog.Logger
	// Metrics is optional.
	Metrics        *observability.Metrics
	RequestTimeout time.Duration
}

// NewRouter builds the API handler.
func NewRouter(cfg Config) (http.Handler, error) {
	if cfg.Service == nil {
		return nil, oops.Code("HTTP_CONFIG_INVALID").Errorf("auth service is required")
	}
	if cfg.Selector == nil {
		return nil, oops.Code("HTTP_CONFIG_INVALID").Errorf("store selector is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	var recorder OutcomeRecorder = nopRecorder{}
	if cfg.Metrics != nil {
		recorder = cfg.Metrics
	}
	h := &authHandler{svc: cfg.Service, logger: logger, metrics: recorder}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(bindStore(cfg.Selector))
	r.Use(requestLogger(logger))
	if cfg.Metrics != nil {
		r.Use(instrument(cfg.Metrics.HTTPRequests, cfg.Metrics.HTTPDuration))
	}
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeFailure(w, http.StatusNotFound, MsgRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeFailure(w, http.StatusMethodNotAllowed, MsgMethodNotAllowed)
	})

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Post("/forgot-password", h.forgotPassword)
		r.Post("/reset-password", h.resetPassword)

		r.Group(func(r chi.Router) {
			r.Use(RequireSession(cfg.Service))
			r.Get("/me", h.me)
		})
	})

	return r, nil
}
