package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 500; i++ {
		code, err := GenerateCode(DefaultCodeLength)
		require.NoError(t, err)
		assert.Len(t, code, DefaultCodeLength)
		assert.True(t, IsValidCodeFormat(code), "bad format: %s", code)
		assert.False(t, IsReserved(code))
		seen[code] = struct{}{}
	}
	// 64^6 possibilities; 500 draws should not collide in practice
	assert.Greater(t, len(seen), 490)
}

func TestGenerateCodeClampsLength(t *testing.T) {
	code, err := GenerateCode(1)
	require.NoError(t, err)
	assert.Len(t, code, MinCodeLength)

	code, err = GenerateCode(100)
	require.NoError(t, err)
	assert.Len(t, code, MaxCodeLength)
}

func TestValidateAlias(t *testing.T) {
	tests := []struct {
		alias string
		want  error
	}{
		{"my-link", nil},
		{"abc", nil},
		{"Under_Score_9", nil},
		{"ab", ErrAliasBadFormat},
		{"has space", ErrAliasBadFormat},
		{"slash/inside", ErrAliasBadFormat},
		{"unicodé", ErrAliasBadFormat},
		{"abcdefghijklmnopqrstuvwxyz0123456", ErrAliasBadFormat},
		{"admin", ErrAliasReserved},
		{"API", ErrAliasReserved},
		{"Health", ErrAliasReserved},
		{"login", ErrAliasReserved},
	}

	for _, tt := range tests {
		t.Run(tt.alias, func(t *testing.T) {
			err := ValidateAlias(tt.alias)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReserve(t *testing.T) {
	assert.NoError(t, ValidateAlias("promo-page"))
	Reserve(" Promo-Page ", "")
	assert.ErrorIs(t, ValidateAlias("PROMO-PAGE"), ErrAliasReserved)
	assert.True(t, IsReserved("promo-page"))
}
