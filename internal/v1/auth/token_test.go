package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "this-is-a-test-secret-at-least-32-bytes-long"

func TestNewTokenService_RejectsShortSecret(t *testing.T) {
	_, err := NewTokenService("too-short", time.Hour)
	assert.ErrorIs(t, err, ErrSecretTooShort)
}

func TestTokenService_IssueAndVerify_RoundTrip(t *testing.T) {
	svc, err := NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := svc.Issue("user-1", "session-1", "tab-1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 2*time.Second)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "session-1", claims.SessionID)
	assert.Equal(t, "tab-1", claims.TabID)
}

func TestTokenService_Verify_RejectsExpired(t *testing.T) {
	svc, err := NewTokenService(testSecret, -time.Minute)
	require.NoError(t, err)

	token, _, err := svc.Issue("user-1", "session-1", "tab-1")
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.Error(t, err)
}

func TestTokenService_Verify_RejectsWrongSecret(t *testing.T) {
	svc1, err := NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)
	svc2, err := NewTokenService("a-different-secret-that-is-also-32-bytes", time.Hour)
	require.NoError(t, err)

	token, _, err := svc1.Issue("user-1", "session-1", "tab-1")
	require.NoError(t, err)

	_, err = svc2.Verify(token)
	assert.Error(t, err)
}

func TestTokenService_Verify_RejectsGarbage(t *testing.T) {
	svc, err := NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)

	_, err = svc.Verify("not-a-jwt")
	assert.Error(t, err)
}

func TestTokenService_DefaultLifetime(t *testing.T) {
	svc, err := NewTokenService(testSecret, 0)
	require.NoError(t, err)
	_, expiresAt, err := svc.Issue("u", "s", "t")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(DefaultTokenLifetime), expiresAt, 2*time.Second)
}
