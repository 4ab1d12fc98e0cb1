package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalith-99/crosstalk/internal/models"
)

func testStore(t *testing.T) *TokenStore {
	t.Helper()
	return NewTokenStore(filepath.Join(t.TempDir(), "tokens"))
}

func cred(kind models.BackendKind, teamID, name string) *models.Credential {
	return &models.Credential{Kind: kind, TeamID: teamID, TeamName: name, AccessToken: "tok-" + teamID}
}

func TestTokenStoreEmpty(t *testing.T) {
	s := testStore(t)
	creds, err := s.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestTokenStoreRoundTrip(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Save(cred(models.KindStream, "T1", "zarfhome")))
	require.NoError(t, s.Save(cred(models.KindPoll, "h.example.com", "h.example.com")))

	got, err := s.Load("stream:T1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tok-T1", got.AccessToken)

	missing, err := s.Load("stream:T9")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTokenStorePreservesOrder(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Save(cred(models.KindStream, "T1", "a")))
	require.NoError(t, s.Save(cred(models.KindStream, "T2", "b")))
	require.NoError(t, s.Save(cred(models.KindStream, "T3", "c")))

	// Re-saving T1 must keep it first: the file order is authorization
	// order and the manager uses it as the default team ordering.
	updated := cred(models.KindStream, "T1", "a-renamed")
	require.NoError(t, s.Save(updated))

	creds, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, creds, 3)
	assert.Equal(t, "a-renamed", creds[0].TeamName)
	assert.Equal(t, "b", creds[1].TeamName)
}

func TestTokenStoreDelete(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Save(cred(models.KindStream, "T1", "a")))
	require.NoError(t, s.Save(cred(models.KindStream, "T2", "b")))

	require.NoError(t, s.Delete("stream:T1"))
	require.NoError(t, s.Delete("stream:T9")) // absent key is a no-op

	creds, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "T2", creds[0].TeamID)
}

func TestTokenStoreFileMode(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Save(cred(models.KindStream, "T1", "a")))

	info, err := os.Stat(s.path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
