// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/oklog/ulid/v2"

	"github.com/collegemedia/collegemedia/internal/auth"
	"github.com/collegemedia/collegemedia/pkg/errutil"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// AuthService is the part of auth.Service the handlers call.
type AuthService interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.AuthResult, error)
	Login(ctx context.Context, email, password string) (*auth.AuthResult, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	Authenticate(token string) (ulid.ULID, error)
	Profile(ctx context.Context, id ulid.ULID) (*auth.PublicUser, error)
}

// OutcomeRecorder counts auth operations by outcome.
type OutcomeRecorder interface {
	RecordAuth(operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuth(string, string) {}

type authHandler struct {
	svc     AuthService
	logger  *slog.Logger
	metrics OutcomeRecorder
}

type registerRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type registerData struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Token     string `json:"token"`
}

type loginData struct {
	auth.PublicUser
	Token string `json:"token"`
}

func (h *authHandler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.svc.Register(r.Context(), auth.RegisterInput(req))
	if err != nil {
		h.fail(w, r, "register", err)
		return
	}
	h.metrics.RecordAuth("register", "ok")
	writeSuccess(w, http.StatusCreated, registerData{
		ID:        res.User.ID,
		Username:  res.User.Username,
		Email:     res.User.Email,
		FirstName: res.User.FirstName,
		LastName:  res.User.LastName,
		Token:     res.Token,
	}, MsgRegistered)
}

func (h *authHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, "login", err)
		return
	}
	h.metrics.RecordAuth("login", "ok")
	writeSuccess(w, http.StatusOK, loginData{PublicUser: res.User, Token: res.Token}, MsgLoggedIn)
}

func (h *authHandler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		h.fail(w, r, "forgot_password", err)
		return
	}
	h.metrics.RecordAuth("forgot_password", "ok")
	writeSuccess(w, http.StatusOK, nil, MsgResetRequested)
}

func (h *authHandler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		h.fail(w, r, "reset_password", err)
		return
	}
	h.metrics.RecordAuth("reset_password", "ok")
	writeSuccess(w, http.StatusOK, nil, MsgPasswordReset)
}

func (h *authHandler) me(w http.ResponseWriter, r *http.Request) {
	id, ok := SubjectFrom(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, MsgNotAuthorized)
		return
	}

	profile, err := h.svc.Profile(r.Context(), id)
	if err != nil {
		if auth.KindOf(err) == auth.KindNotFound {
			// The token outlived its account.
			h.metrics.RecordAuth("profile", auth.KindNotFound.String())
			writeFailure(w, http.StatusUnauthorized, MsgNotAuthorized)
			return
		}
		h.fail(w, r, "profile", err)
		return
	}
	h.metrics.RecordAuth("profile", "ok")
	writeSuccess(w, http.StatusOK, profile, "")
}

// fail maps err to a status and public message. Faults are logged.
func (h *authHandler) fail(w http.ResponseWriter, r *http.Request, operation string, err error) {
	kind := auth.KindOf(err)
	h.metrics.RecordAuth(operation, kind.String())

	if !kind.Expected() {
		errutil.LogErrorContext(r.Context(), h.logger, operation+" failed", err)
		writeFailure(w, http.StatusInternalServerError, auth.MsgServerError)
		return
	}

	status := http.StatusBadRequest
	if kind == auth.KindNotFound {
		status = http.StatusNotFound
	}
	writeFailure(w, status, auth.PublicMessage(err))
}

// decode reads a JSON body into dst, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeFailure(w, http.StatusBadRequest, MsgInvalidBody)
		return false
	}
	return true
}
