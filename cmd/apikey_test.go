package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/anicoll/homeconnect-integration/pkg/hasher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintAPIKey(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printAPIKey(&out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	key, ok := strings.CutPrefix(lines[0], "api key: ")
	require.True(t, ok)
	hash, ok := strings.CutPrefix(lines[1], "SERVER_API_KEY_HASH=")
	require.True(t, ok)

	assert.True(t, hasher.PasswordCorrect(key, hash))
	assert.False(t, hasher.PasswordCorrect(key+"x", hash))
}
