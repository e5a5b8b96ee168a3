// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package httpapi

import (
	"encoding/json"
	"net/http"
)

// Response messages.
const (
	MsgRegistered       = "User registered successfully"
	MsgLoggedIn         = "Login successful"
	MsgResetRequested   = "If an account exists with this email, a password reset link has been sent."
	MsgPasswordReset    = "Password has been reset successfully"
	MsgInvalidBody      = "Invalid request body"
	MsgNotAuthorized    = "Not authorized"
	MsgRouteNotFound    = "Route not found"
	MsgMethodNotAllowed = "Method not allowed"
)

// envelope is the body of every API response. Data is always present and
// null when there is nothing to return.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may have gone away
	json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, envelope{Success: true, Data: data, Message: message})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Data: nil, Message: message})
}
