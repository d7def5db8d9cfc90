package token

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	tok, hash, prefix, err := Generate()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(tok, Prefix))
	assert.Len(t, hash, 64, "SHA256 hex digest")
	assert.Equal(t, Prefix+strings.TrimPrefix(tok, Prefix)[:8], prefix)
	assert.NoError(t, ValidateFormat(tok))

	sum := sha256.Sum256([]byte(tok))
	assert.Equal(t, hex.EncodeToString(sum[:]), hash)
}

func TestGenerateUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, _, _, err := Generate()
		require.NoError(t, err)
		assert.False(t, seen[tok])
		seen[tok] = true
	}
}

func TestValidateFormat(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "valid", token: "dash_abc123DEF456-_789", wantErr: false},
		{name: "wrong prefix", token: "auth_abc123", wantErr: true},
		{name: "no prefix", token: "abc123", wantErr: true},
		{name: "prefix only", token: "dash_", wantErr: true},
		{name: "invalid base64url", token: "dash_!!!", wantErr: true},
		{name: "empty", token: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFormat(tt.token)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDisplayPrefix(t *testing.T) {
	assert.Equal(t, "dash_abcdefgh", DisplayPrefix("dash_abcdefghijklmnop"))
	assert.Equal(t, "dash_abc", DisplayPrefix("dash_abc"))
	assert.Equal(t, "", DisplayPrefix("other_abcdefgh"))
}

func TestHashPrefix(t *testing.T) {
	tok := "dash_abcdefghijklmnop"
	assert.Equal(t, Hash(tok)[:8], HashPrefix(tok))
	assert.Len(t, HashPrefix(tok), 8)
}
