package keychain

import (
	"path/filepath"
	"testing"

	"github.com/docker/docker-credential-helpers/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHelperAddGetDelete(t *testing.T) {
	h := NewFileHelper(t.TempDir())

	require.NoError(t, h.Add(&credentials.Credentials{
		ServerURL: "https://srv.example/token",
		Username:  "oauth2",
		Secret:    "s3cr3t",
	}))

	user, secret, err := h.Get("https://srv.example/token")
	require.NoError(t, err)
	assert.Equal(t, "oauth2", user)
	assert.Equal(t, "s3cr3t", secret)

	require.NoError(t, h.Delete("https://srv.example/token"))
	_, _, err = h.Get("https://srv.example/token")
	assert.True(t, credentials.IsErrCredentialsNotFound(err))
}

func TestFileHelperList(t *testing.T) {
	h := NewFileHelper(t.TempDir())
	require.NoError(t, h.Add(&credentials.Credentials{ServerURL: "a", Username: "u1", Secret: "s1"}))
	require.NoError(t, h.Add(&credentials.Credentials{ServerURL: "b", Username: "u2", Secret: "s2"}))

	list, err := h.List()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "u1", "b": "u2"}, list)
}

func TestFileHelperPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewFileHelper(dir).Add(&credentials.Credentials{ServerURL: "a", Username: "u", Secret: "s"}))

	reopened := NewFileHelper(dir)
	_, secret, err := reopened.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "s", secret)
	assert.FileExists(t, filepath.Join(dir, "keychain.json"))
}
