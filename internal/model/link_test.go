package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkStatus(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name       string
		link       Link
		status     LinkStatus
		resolvable bool
	}{
		{"active without expiry", Link{Active: true}, StatusActive, true},
		{"active with future expiry", Link{Active: true, ExpiresAt: &future}, StatusActive, true},
		{"expired", Link{Active: true, ExpiresAt: &past}, StatusExpired, false},
		{"expires exactly now", Link{Active: true, ExpiresAt: &now}, StatusExpired, false},
		{"deactivated", Link{Active: false}, StatusDeactivated, false},
		{"deactivated and expired", Link{Active: false, ExpiresAt: &past}, StatusDeactivated, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.link.Status(now))
			assert.Equal(t, tt.resolvable, tt.link.IsResolvable(now))
		})
	}
}

func TestCreator(t *testing.T) {
	anon := Anonymous()
	assert.True(t, anon.IsAnonymous())
	assert.Equal(t, "", anon.Key())
	assert.Equal(t, "anonymous", anon.String())
	assert.Equal(t, anon, Identified(""))

	alice := Identified("alice")
	assert.False(t, alice.IsAnonymous())
	assert.Equal(t, "alice", alice.ID())
	assert.NotEqual(t, anon, alice)
}

func TestCreatorScanValue(t *testing.T) {
	v, err := Identified("u-1").Value()
	require.NoError(t, err)
	assert.Equal(t, "u-1", v)

	var c Creator
	require.NoError(t, c.Scan([]byte("u-2")))
	assert.Equal(t, Identified("u-2"), c)

	require.NoError(t, c.Scan(nil))
	assert.True(t, c.IsAnonymous())

	assert.Error(t, c.Scan(42))
}

func TestLinkOwnedBy(t *testing.T) {
	owned := Link{Creator: Identified("alice")}
	assert.True(t, owned.OwnedBy(Identified("alice")))
	assert.False(t, owned.OwnedBy(Identified("bob")))
	assert.False(t, owned.OwnedBy(Anonymous()))

	anon := Link{Creator: Anonymous()}
	assert.False(t, anon.OwnedBy(Anonymous()))
}
