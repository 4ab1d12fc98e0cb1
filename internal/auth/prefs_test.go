package auth

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")

	p, err := NewPrefs(path)
	require.NoError(t, err)
	assert.Empty(t, p.Aliases("stream:T1"))

	require.NoError(t, p.SetAliases("stream:T1", []string{"zh", "home"}))
	require.NoError(t, p.SetLastChannel("stream:T1", "C42"))
	require.NoError(t, p.SetDebug(true))

	// A fresh instance reading the same file sees everything.
	p2, err := NewPrefs(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"zh", "home"}, p2.Aliases("stream:T1"))
	assert.Equal(t, "C42", p2.LastChannel("stream:T1"))
	assert.True(t, p2.Debug())
}

func TestPrefsOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	p, err := NewPrefs(path)
	require.NoError(t, err)

	require.NoError(t, p.SetAliases("poll:h", []string{"old"}))
	require.NoError(t, p.SetAliases("poll:h", []string{"new", "n"}))

	assert.Equal(t, []string{"new", "n"}, p.Aliases("poll:h"))
}
