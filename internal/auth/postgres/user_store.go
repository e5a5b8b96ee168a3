// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

// Package postgres provides the PostgreSQL-backed auth.UserStore.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/collegemedia/collegemedia/internal/auth"
	"github.com/collegemedia/collegemedia/pkg/errutil"
)

// Pool is the subset of *pgxpool.Pool the store needs. pgxmock pools satisfy
// it as well.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const codeCorruptRow = "USER_CORRUPT"

const userColumns = `id, username, email, password_hash, first_name, last_name,
		       profile_picture, bio, password_version, created_at, updated_at`

// UserStore implements auth.UserStore using PostgreSQL.
type UserStore struct {
	pool Pool
	now  func() time.Time
}

// NewUserStore creates a new UserStore.
func NewUserStore(pool Pool) *UserStore {
	return &UserStore{pool: pool, now: time.Now}
}

// FindByEmailOrUsername returns a user matching either key, preferring an
// email match.
func (s *UserStore) FindByEmailOrUsername(ctx context.Context, email, username string) (*auth.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1 OR username = $2
		ORDER BY (email = $1) DESC
		LIMIT 1
	`, email, username)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(auth.CodeUserNotFound).
			With("email", email).
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, storeError("find user by email or username", err)
	}
	return user, nil
}

// FindByEmail returns the user with exactly this email.
func (s *UserStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, email)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(auth.CodeUserNotFound).With("email", email).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, storeError("find user by email", err)
	}
	return user, nil
}

// FindByID returns the user with the given ID.
func (s *UserStore) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(auth.CodeUserNotFound).With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, storeError("find user by id", err)
	}
	return user, nil
}

// Create inserts a user. Unique constraints on email and username turn
// concurrent duplicates into auth.ErrDuplicateUser.
func (s *UserStore) Create(ctx context.Context, user *auth.User) error {
	if user == nil {
		return oops.Code(auth.CodeValidation).Errorf("user cannot be nil")
	}
	version := user.PasswordVersion
	if version == 0 {
		version = auth.InitialPasswordVersion
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (
			id, username, email, password_hash, first_name, last_name,
			profile_picture, bio, password_version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		user.ID.String(),
		user.Username,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.ProfilePicture,
		user.Bio,
		version,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return storeError("insert user", err)
	}
	return nil
}

// UpdatePasswordHash replaces the digest and bumps the password version.
func (s *UserStore) UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE users
		SET password_hash = $2, password_version = password_version + 1, updated_at = $3
		WHERE id = $1
	`, id.String(), passwordHash, s.now().UTC())
	if err != nil {
		return storeError("update password hash", err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code(auth.CodeUserNotFound).With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdatePasswordHashIfVersion is UpdatePasswordHash guarded by the expected
// password version.
func (s *UserStore) UpdatePasswordHashIfVersion(ctx context.Context, id ulid.ULID, expectedVersion int64, passwordHash string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE users
		SET password_hash = $2, password_version = password_version + 1, updated_at = $3
		WHERE id = $1 AND password_version = $4
	`, id.String(), passwordHash, s.now().UTC(), expectedVersion)
	if err != nil {
		return storeError("update password hash", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id.String()).Scan(&exists); err != nil {
		return storeError("check user exists", err)
	}
	if !exists {
		return oops.Code(auth.CodeUserNotFound).With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return oops.With("id", id.String()).
		With("expected_version", expectedVersion).
		Wrap(auth.ErrVersionConflict)
}

// storeError classifies a driver error.
func storeError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return oops.Code(auth.CodeStoreDuplicateEntry).
			With("constraint", pgErr.ConstraintName).
			Wrap(auth.ErrDuplicateUser)
	}
	if errutil.Code(err) == codeCorruptRow {
		return err
	}
	return oops.Code(auth.CodeStoreUnavailable).
		With("operation", operation).
		Wrap(errors.Join(auth.ErrStoreUnavailable, err))
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr string
		user  auth.User
	)
	err := row.Scan(
		&idStr,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.ProfilePicture,
		&user.Bio,
		&user.PasswordVersion,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code(codeCorruptRow).
			With("operation", "parse user id").
			With("id", idStr).
			Wrap(err)
	}
	user.ID = id
	return &user, nil
}

var (
	_ auth.UserStore                = (*UserStore)(nil)
	_ auth.VersionedPasswordUpdater = (*UserStore)(nil)
)
