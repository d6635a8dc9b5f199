package hasher

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword([]byte("s3cret"))
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)
	assert.True(t, PasswordCorrect("s3cret", hash))
	assert.False(t, PasswordCorrect("guess", hash))
	assert.False(t, PasswordCorrect("s3cret", "not-a-hash"))
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken(32)
	require.NoError(t, err)
	b, err := GenerateToken(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	raw, err := base64.URLEncoding.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}
