// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

// Package mocks provides testify mocks for auth interfaces.
package mocks

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/collegemedia/collegemedia/internal/auth"
)

// T is the subset of *testing.T the constructors need.
type T interface {
	mock.TestingT
	Cleanup(func())
}

// UserStore is a mock auth.UserStore.
type UserStore struct {
	mock.Mock
}

// NewUserStore creates a UserStore whose expectations are asserted at cleanup.
func NewUserStore(t T) *UserStore {
	m := &UserStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func userResult(args mock.Arguments) (*auth.User, error) {
	u, _ := args.Get(0).(*auth.User)
	return u, args.Error(1)
}

// FindByEmailOrUsername implements auth.UserStore.
func (m *UserStore) FindByEmailOrUsername(ctx context.Context, email, username string) (*auth.User, error) {
	return userResult(m.Called(ctx, email, username))
}

// FindByEmail implements auth.UserStore.
func (m *UserStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return userResult(m.Called(ctx, email))
}

// FindByID implements auth.UserStore.
func (m *UserStore) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	return userResult(m.Called(ctx, id))
}

// Create implements auth.UserStore.
func (m *UserStore) Create(ctx context.Context, user *auth.User) error {
	return m.Called(ctx, user).Error(0)
}

// UpdatePasswordHash implements auth.UserStore.
func (m *UserStore) UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error {
	return m.Called(ctx, id, passwordHash).Error(0)
}

// ResetNotifier is a mock auth.ResetNotifier.
type ResetNotifier struct {
	mock.Mock
}

// NewResetNotifier creates a ResetNotifier whose expectations are asserted at cleanup.
func NewResetNotifier(t T) *ResetNotifier {
	m := &ResetNotifier{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// NotifyReset implements auth.ResetNotifier.
func (m *ResetNotifier) NotifyReset(ctx context.Context, notice auth.ResetNotice) error {
	return m.Called(ctx, notice).Error(0)
}

var (
	_ auth.UserStore     = (*UserStore)(nil)
	_ auth.ResetNotifier = (*ResetNotifier)(nil)
)
