// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package auth

import (
	"errors"

	"github.com/collegemedia/collegemedia/pkg/errutil"
)

// Sentinel errors returned (wrapped) by UserStore implementations.
var (
	// ErrNotFound is returned when a requested user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateUser is returned when the email or username is already taken.
	ErrDuplicateUser = errors.New("duplicate user")

	// ErrStoreUnavailable is returned when the backend cannot serve the request.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Error codes attached to oops errors produced by this package and its stores.
const (
	CodeValidation          = "AUTH_VALIDATION"
	CodeEmptyPassword       = "AUTH_EMPTY_PASSWORD"
	CodePasswordTooLong     = "AUTH_PASSWORD_TOO_LONG"
	CodeDuplicateUser       = "AUTH_DUPLICATE_USER"
	CodeInvalidCredentials  = "AUTH_INVALID_CREDENTIALS"
	CodeInvalidToken        = "AUTH_INVALID_TOKEN"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeStoreUnavailable    = "STORE_UNAVAILABLE"
	CodeSigningKeyMissing   = "AUTH_SIGNING_KEY_MISSING"
	CodeDependencyMissing   = "AUTH_DEPENDENCY_MISSING"
	CodeTokenIssueFailed    = "AUTH_TOKEN_ISSUE_FAILED"
	CodeHashFailed          = "AUTH_HASH_FAILED"
	CodeStoreDuplicateEntry = "USER_DUPLICATE"
)

// Kind classifies every error an auth operation can return. Callers switch
// on it instead of matching messages.
type Kind int

// Error kinds.
const (
	// KindInternal covers faults that are not part of the expected outcomes.
	KindInternal Kind = iota
	KindValidation
	KindDuplicateUser
	KindInvalidCredentials
	KindInvalidOrExpiredToken
	KindNotFound
	KindStoreUnavailable
)

var kindNames = map[Kind]string{
	KindInternal:              "internal",
	KindValidation:            "validation",
	KindDuplicateUser:         "duplicate_user",
	KindInvalidCredentials:    "invalid_credentials",
	KindInvalidOrExpiredToken: "invalid_or_expired_token",
	KindNotFound:              "not_found",
	KindStoreUnavailable:      "store_unavailable",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Expected reports whether the kind is a normal business outcome rather than
// a fault worth alerting on.
func (k Kind) Expected() bool {
	switch k {
	case KindValidation, KindDuplicateUser, KindInvalidCredentials, KindInvalidOrExpiredToken, KindNotFound:
		return true
	default:
		return false
	}
}

var codeKinds = map[string]Kind{
	CodeValidation:          KindValidation,
	CodeEmptyPassword:       KindValidation,
	CodePasswordTooLong:     KindValidation,
	CodeDuplicateUser:       KindDuplicateUser,
	CodeStoreDuplicateEntry: KindDuplicateUser,
	CodeInvalidCredentials:  KindInvalidCredentials,
	CodeInvalidToken:        KindInvalidOrExpiredToken,
	CodeUserNotFound:        KindNotFound,
	CodeStoreUnavailable:    KindStoreUnavailable,
}

// KindOf classifies err. A nil error has no kind and yields KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return KindStoreUnavailable
	}
	if kind, ok := codeKinds[errutil.Code(err)]; ok {
		return kind
	}
	switch {
	case errors.Is(err, ErrDuplicateUser):
		return KindDuplicateUser
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

// Public messages returned to clients.
const (
	MsgDuplicateUser      = "User with this email or username already exists"
	MsgInvalidCredentials = "Invalid credentials"
	MsgInvalidToken       = "Invalid or expired reset token"
	MsgEmailRequired      = "Email is required"
	MsgResetFieldsMissing = "Token and new password are required"
	MsgNotFound           = "User not found"
	MsgServerError        = "Server error"
)

// PublicMessage returns the client-safe message for err. Validation errors
// carry their own message; faults collapse to MsgServerError.
func PublicMessage(err error) string {
	switch KindOf(err) {
	case KindValidation:
		return validationMessage(err)
	case KindDuplicateUser:
		return MsgDuplicateUser
	case KindInvalidCredentials:
		return MsgInvalidCredentials
	case KindInvalidOrExpiredToken:
		return MsgInvalidToken
	case KindNotFound:
		return MsgNotFound
	default:
		return MsgServerError
	}
}
