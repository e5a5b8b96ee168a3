// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/collegemedia/collegemedia/pkg/errutil"
)

// Validation messages for missing request fields.
const (
	MsgRegisterFieldsMissing = "Username, email and password are required"
	MsgLoginFieldsMissing    = "Email and password are required"
)

// ErrVersionConflict is returned by VersionedPasswordUpdater when the stored
// password version no longer matches the expected one.
var ErrVersionConflict = errors.New("password version conflict")

// VersionedPasswordUpdater is implemented by stores that can replace a
// password only if the version is unchanged. ResetPassword uses it when
// available so a reset token cannot be redeemed twice concurrently.
type VersionedPasswordUpdater interface {
	UpdatePasswordHashIfVersion(ctx context.Context, id ulid.ULID, expectedVersion int64, passwordHash string) error
}

// Deps holds the collaborators of a Service.
type Deps struct {
	Stores   *StoreSelector
	Hasher   PasswordHasher
	Sessions *SessionTokens
	Resets   *ResetTokens
	// Notifier receives issued reset tokens. Defaults to a LogNotifier.
	Notifier ResetNotifier
	// ResetLinkBase is the page URL reset links point at. Optional.
	ResetLinkBase string
	Logger        *slog.Logger
}

// Service implements registration, login and the password reset flow.
type Service struct {
	stores    *StoreSelector
	hasher    PasswordHasher
	sessions  *SessionTokens
	resets    *ResetTokens
	notifier  ResetNotifier
	linkBase  string
	logger    *slog.Logger
	dummyOnce sync.Once
	dummy     string
}

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// AuthResult is returned by successful Register and Login calls.
type AuthResult struct {
	User  PublicUser
	Token string
}

// NewService creates a Service, validating its dependencies.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Stores == nil:
		return nil, oops.Code(CodeDependencyMissing).Errorf("store selector cannot be nil")
	case deps.Hasher == nil:
		return nil, oops.Code(CodeDependencyMissing).Errorf("password hasher cannot be nil")
	case deps.Sessions == nil:
		return nil, oops.Code(CodeDependencyMissing).Errorf("session token service cannot be nil")
	case deps.Resets == nil:
		return nil, oops.Code(CodeDependencyMissing).Errorf("reset token service cannot be nil")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}

	return &Service{
		stores:   deps.Stores,
		hasher:   deps.Hasher,
		sessions: deps.Sessions,
		resets:   deps.Resets,
		notifier: notifier,
		linkBase: deps.ResetLinkBase,
		logger:   logger,
	}, nil
}

// dummyHash is verified against when no user matches a login, so unknown
// emails cost the same bcrypt work as wrong passwords.
func (s *Service) dummyHash() string {
	s.dummyOnce.Do(func() {
		digest, err := s.hasher.Hash("collegemedia-timing-equaliser")
		if err == nil {
			s.dummy = digest
		}
	})
	return s.dummy
}

// Register creates an account and returns a session token for it.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	if in.Username == "" || in.Email == "" || in.Password == "" {
		return nil, validationError(MsgRegisterFieldsMissing)
	}

	backend, store := s.stores.resolve(ctx)

	_, err := store.FindByEmailOrUsername(ctx, in.Email, in.Username)
	switch {
	case err == nil:
		return nil, duplicateUser()
	case !errors.Is(err, ErrNotFound):
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "find existing user").
			With("backend", backend).
			Wrap(err)
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		if KindOf(err) == KindValidation {
			return nil, err
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}

	user, err := NewUser(NewUserParams{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: digest,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
	})
	if err != nil {
		return nil, err
	}

	if err := store.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateUser) {
			return nil, duplicateUser()
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			With("backend", backend).
			Wrap(err)
	}

	token, err := s.sessions.Issue(user.ID)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "issue session token").Wrap(err)
	}

	s.logger.InfoContext(ctx, "user registered",
		"user_id", user.ID.String(),
		"backend", backend,
	)
	return &AuthResult{User: user.Public(), Token: token}, nil
}

// Login verifies credentials and returns a session token. Unknown email and
// wrong password produce the same error.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	if email == "" || password == "" {
		return nil, validationError(MsgLoginFieldsMissing)
	}

	backend, store := s.stores.resolve(ctx)

	user, err := store.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "find user by email").
				With("backend", backend).
				Wrap(err)
		}
		s.hasher.Verify(password, s.dummyHash())
		return nil, invalidCredentials()
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, invalidCredentials()
	}

	token, err := s.sessions.Issue(user.ID)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "issue session token").Wrap(err)
	}

	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID.String(), "backend", backend)
	return &AuthResult{User: user.Public(), Token: token}, nil
}

// ForgotPassword issues a reset token for the account with this email, if
// any, and hands it to the notifier. The result does not reveal whether an
// account matched.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	if email == "" {
		return validationError(MsgEmailRequired)
	}

	backend, store := s.stores.resolve(ctx)

	user, err := store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.DebugContext(ctx, "password reset requested for unknown email", "backend", backend)
			return nil
		}
		return oops.Code("AUTH_FORGOT_PASSWORD_FAILED").
			With("operation", "find user by email").
			With("backend", backend).
			Wrap(err)
	}

	token, err := s.resets.Issue(user.ID, user.Email, user.PasswordVersion)
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, "issue reset token", err)
		return nil
	}

	notice := ResetNotice{
		UserID:    user.ID,
		Email:     user.Email,
		Token:     token,
		Link:      ResetLink(s.linkBase, token),
		ExpiresAt: s.resets.signer.now().Add(s.resets.TTL()),
	}
	if err := s.notifier.NotifyReset(ctx, notice); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "deliver reset notice", err)
	}
	return nil
}

// ResetPassword replaces the password of the token's subject. The token must
// still match the account's email and password version, so it works once.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" || newPassword == "" {
		return validationError(MsgResetFieldsMissing)
	}

	claims, err := s.resets.Verify(token)
	if err != nil {
		return err
	}

	backend, store := s.stores.resolve(ctx)

	user, err := store.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return invalidToken("subject no longer exists")
		}
		return oops.Code("AUTH_RESET_PASSWORD_FAILED").
			With("operation", "find user by id").
			With("backend", backend).
			Wrap(err)
	}
	if user.Email != claims.Email || user.PasswordVersion != claims.PasswordVersion {
		return invalidToken("token superseded")
	}

	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		if KindOf(err) == KindValidation {
			return err
		}
		return oops.Code("AUTH_RESET_PASSWORD_FAILED").With("operation", "hash password").Wrap(err)
	}

	if versioned, ok := store.(VersionedPasswordUpdater); ok {
		err = versioned.UpdatePasswordHashIfVersion(ctx, user.ID, claims.PasswordVersion, digest)
	} else {
		err = store.UpdatePasswordHash(ctx, user.ID, digest)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrVersionConflict) {
			return invalidToken("token superseded")
		}
		return oops.Code("AUTH_RESET_PASSWORD_FAILED").
			With("operation", "update password hash").
			With("backend", backend).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "password reset", "user_id", user.ID.String(), "backend", backend)
	return nil
}

// Authenticate verifies a session token and returns its subject.
func (s *Service) Authenticate(token string) (ulid.ULID, error) {
	return s.sessions.Verify(token)
}

// Profile returns the public fields of a user.
func (s *Service) Profile(ctx context.Context, id ulid.ULID) (*PublicUser, error) {
	backend, store := s.stores.resolve(ctx)

	user, err := store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeUserNotFound).With("user_id", id.String()).Errorf("user not found")
		}
		return nil, oops.Code("AUTH_PROFILE_FAILED").
			With("operation", "find user by id").
			With("backend", backend).
			Wrap(err)
	}
	public := user.Public()
	return &public, nil
}

func validationError(msg string) error {
	return oops.Code(CodeValidation).Errorf("%s", msg)
}

func validationMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func duplicateUser() error {
	return oops.Code(CodeDuplicateUser).Errorf("%s", MsgDuplicateUser)
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("%s", MsgInvalidCredentials)
}
