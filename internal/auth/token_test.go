package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	m, err := NewTokenManager("test-secret")
	require.NoError(t, err)

	token, err := m.Issue("alice", "", time.Hour)
	require.NoError(t, err)

	claims, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.False(t, claims.IsAdmin())

	token, err = m.Issue("root", RoleAdmin, 0)
	require.NoError(t, err)
	claims, err = m.Parse(token)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin())
}

func TestParseRejects(t *testing.T) {
	m, err := NewTokenManager("test-secret")
	require.NoError(t, err)
	other, err := NewTokenManager("other-secret")
	require.NoError(t, err)

	foreign, err := other.Issue("alice", "", time.Hour)
	require.NoError(t, err)
	_, err = m.Parse(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := m.Issue("alice", "", time.Hour)
	require.NoError(t, err)
	m.now = time.Now
	_, err = m.Parse(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = m.Parse(noSubject)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Parse("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenManagerRequiresSecret(t *testing.T) {
	_, err := NewTokenManager("")
	assert.Error(t, err)
}
