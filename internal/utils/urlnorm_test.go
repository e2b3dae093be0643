package utils

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"adds https scheme", "example.com/x", "https://example.com/x"},
		{"lowercases scheme and host", "HTTPS://EXAMPLE.com/x", "https://example.com/x"},
		{"keeps path and query case", "http://Example.com/Path?Q=A", "http://example.com/Path?Q=A"},
		{"strips fragment", "https://example.com/page#section", "https://example.com/page"},
		{"trims whitespace", "  https://example.com  ", "https://example.com"},
		{"keeps port", "localhost:8080/health", "https://localhost:8080/health"},
		{"query containing a url", "example.com/?next=http://other.org", "https://example.com/?next=http://other.org"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURLRejects(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"ftp://example.com/file",
		"mailto:someone@example.com",
		"javascript:alert(1)",
		"https://",
		"https:///path-only",
	}

	for _, raw := range inputs {
		t.Run(raw, func(t *testing.T) {
			_, err := NormalizeURL(raw)
			assert.ErrorIs(t, err, ErrInvalidURL)
		})
	}
}

func TestNormalizeURLSchemelessIsAbsolute(t *testing.T) {
	for _, raw := range []string{"example.com", "sub.example.org/a/b?c=d", "example.net:8443/x"} {
		got, err := NormalizeURL(raw)
		require.NoError(t, err)
		assert.Equal(t, "https://"+raw, got)

		u, err := url.Parse(got)
		require.NoError(t, err)
		assert.True(t, u.IsAbs())
		assert.NotEmpty(t, u.Host)
	}
}

func TestNormalizeURLEquivalence(t *testing.T) {
	a, err := NormalizeURL("example.com/x")
	require.NoError(t, err)
	b, err := NormalizeURL("HTTPS://EXAMPLE.com/x#top")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := NormalizeURL("example.com/X")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
