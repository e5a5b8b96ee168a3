// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

// Package auth provides authentication for College Media.
//
// # Domain Types
//
// Users should be created with NewUser, which validates required fields and
// assigns an ID. Stores receive pre-validated users and hand back copies.
//
// # Tokens
//
// SessionTokens and ResetTokens are HS256 JWTs signed with an injected
// secret. Their audiences differ, so neither verifies as the other. Reset
// tokens carry the user's password version and stop verifying against the
// account once the password changes.
//
// # Stores
//
// UserStore has a postgres and an in-memory implementation. A StoreSelector
// picks one per request; Bind pins the choice into the request context so
// every call in that request sees the same backend.
//
// # Services
//
// Service coordinates registration, login and the password reset flow. Its
// errors classify through KindOf, and PublicMessage gives the text that is
// safe to show a client.
package auth
