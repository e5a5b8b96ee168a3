// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package auth

import (
	"context"
	"sync/atomic"

	"github.com/samber/oops"
)

// Backend names a UserStore implementation.
type Backend string

// Known backends.
const (
	BackendPostgres Backend = "postgres"
	BackendMemory   Backend = "memory"
)

// Selection modes for StoreSelector.
const (
	// ModeAuto uses postgres while it is reachable and memory otherwise.
	ModeAuto = "auto"
	// ModePostgres always uses postgres.
	ModePostgres = "postgres"
	// ModeMemory always uses memory.
	ModeMemory = "memory"
)

// Connectivity reports whether the durable backend is reachable.
type Connectivity interface {
	Connected() bool
}

// ConnectivityFlag is a Connectivity backed by an atomic bool.
type ConnectivityFlag struct {
	up atomic.Bool
}

// Set records the current reachability.
func (f *ConnectivityFlag) Set(connected bool) {
	f.up.Store(connected)
}

// Connected reports the last recorded reachability.
func (f *ConnectivityFlag) Connected() bool {
	return f.up.Load()
}

// StoreSelector picks the UserStore for a request. It is built once at
// startup; Select consults the connectivity flag once per call.
type StoreSelector struct {
	durable UserStore
	memory  UserStore
	conn    Connectivity
	mode    string
	observe func(Backend)
}

// SelectorOption customises a StoreSelector.
type SelectorOption func(*StoreSelector)

// WithSelectionObserver registers fn to be told which backend each Select
// chose.
func WithSelectionObserver(fn func(Backend)) SelectorOption {
	return func(s *StoreSelector) {
		s.observe = fn
	}
}

// NewStoreSelector creates a StoreSelector. durable and conn may be nil only
// in memory mode.
func NewStoreSelector(mode string, durable, memory UserStore, conn Connectivity, opts ...SelectorOption) (*StoreSelector, error) {
	if mode == "" {
		mode = ModeAuto
	}
	if memory == nil {
		return nil, oops.Code(CodeDependencyMissing).Errorf("memory store is required")
	}
	switch mode {
	case ModeMemory:
	case ModeAuto, ModePostgres:
		if durable == nil {
			return nil, oops.Code(CodeDependencyMissing).With("mode", mode).Errorf("durable store is required")
		}
		if conn == nil {
			return nil, oops.Code(CodeDependencyMissing).With("mode", mode).Errorf("connectivity source is required")
		}
	default:
		return nil, oops.Code(CodeValidation).With("mode", mode).Errorf("unknown store mode %q", mode)
	}

	s := &StoreSelector{
		durable: durable,
		memory:  memory,
		conn:    conn,
		mode:    mode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Select returns the backend to use for one request.
func (s *StoreSelector) Select(_ context.Context) (Backend, UserStore) {
	backend, store := s.choose()
	if s.observe != nil {
		s.observe(backend)
	}
	return backend, store
}

func (s *StoreSelector) choose() (Backend, UserStore) {
	switch s.mode {
	case ModeMemory:
		return BackendMemory, s.memory
	case ModePostgres:
		return BackendPostgres, s.durable
	default:
		if s.conn.Connected() {
			return BackendPostgres, s.durable
		}
		return BackendMemory, s.memory
	}
}

type storeKey struct{}

type pinnedStore struct {
	backend Backend
	store   UserStore
}

// WithStore pins store as the UserStore for everything running under ctx.
func WithStore(ctx context.Context, backend Backend, store UserStore) context.Context {
	return context.WithValue(ctx, storeKey{}, pinnedStore{backend: backend, store: store})
}

// StoreFrom returns the store pinned by WithStore.
func StoreFrom(ctx context.Context) (Backend, UserStore, bool) {
	p, ok := ctx.Value(storeKey{}).(pinnedStore)
	if !ok || p.store == nil {
		return "", nil, false
	}
	return p.backend, p.store, true
}

// Bind selects a store and pins it into ctx, unless one is already pinned.
func (s *StoreSelector) Bind(ctx context.Context) (context.Context, Backend) {
	if backend, _, ok := StoreFrom(ctx); ok {
		return ctx, backend
	}
	backend, store := s.Select(ctx)
	return WithStore(ctx, backend, store), backend
}

// resolve returns the pinned store, or selects one.
func (s *StoreSelector) resolve(ctx context.Context) (Backend, UserStore) {
	if backend, store, ok := StoreFrom(ctx); ok {
		return backend, store
	}
	return s.Select(ctx)
}
