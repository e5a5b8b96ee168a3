// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collegemedia/collegemedia/internal/auth"
	"github.com/collegemedia/collegemedia/pkg/errutil"
)

func TestNewResetTokens_RequiresSecret(t *testing.T) {
	_, err := auth.NewResetTokens([]byte{})
	errutil.AssertErrorCode(t, err, auth.CodeSigningKeyMissing)
}

func TestResetTokens_IssueVerify(t *testing.T) {
	clock := newClock()
	tokens, err := auth.NewResetTokens(testSecret, auth.WithTokenClock(clock.Now))
	require.NoError(t, err)
	assert.Equal(t, time.Hour, tokens.TTL())

	id := ulid.Make()
	token, err := tokens.Issue(id, "a@x.io", 3)
	require.NoError(t, err)

	claims, err := tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.Subject)
	assert.Equal(t, "a@x.io", claims.Email)
	assert.Equal(t, int64(3), claims.PasswordVersion)
	assert.WithinDuration(t, clock.Now().Add(time.Hour), claims.ExpiresAt, time.Second)
}

func TestResetTokens_Expiry(t *testing.T) {
	clock := newClock()
	tokens, err := auth.NewResetTokens(testSecret, auth.WithTokenClock(clock.Now))
	require.NoError(t, err)

	token, err := tokens.Issue(ulid.Make(), "a@x.io", 1)
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	_, err = tokens.Verify(token)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = tokens.Verify(token)
	require.Error(t, err)
	assert.Equal(t, auth.KindInvalidOrExpiredToken, auth.KindOf(err))
}

func TestResetTokens_Tampered(t *testing.T) {
	tokens, err := auth.NewResetTokens(testSecret)
	require.NoError(t, err)

	token, err := tokens.Issue(ulid.Make(), "a@x.io", 1)
	require.NoError(t, err)

	_, err = tokens.Verify(tamper(token))
	errutil.AssertErrorCode(t, err, auth.CodeInvalidToken)
}

func TestTokens_AudiencesAreDisjoint(t *testing.T) {
	sessions, err := auth.NewSessionTokens(testSecret)
	require.NoError(t, err)
	resets, err := auth.NewResetTokens(testSecret)
	require.NoError(t, err)

	id := ulid.Make()

	sessionToken, err := sessions.Issue(id)
	require.NoError(t, err)
	_, err = resets.Verify(sessionToken)
	assert.Error(t, err, "session token must not verify as reset token")

	resetToken, err := resets.Issue(id, "a@x.io", 1)
	require.NoError(t, err)
	_, err = sessions.Verify(resetToken)
	assert.Error(t, err, "reset token must not verify as session token")
}
