package home

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSessionName(t *testing.T) {
	require.NoError(t, ValidateSessionName("@work"))
	require.NoError(t, ValidateSessionName("@a_b-9"))
	assert.Error(t, ValidateSessionName("work"))
	assert.Error(t, ValidateSessionName("@"))
	assert.Error(t, ValidateSessionName("@has space"))
	assert.Error(t, ValidateSessionName("@"+strings.Repeat("x", 65)))
}

func TestValidateProfileName(t *testing.T) {
	require.NoError(t, ValidateProfileName("default"))
	assert.Error(t, ValidateProfileName(""))
	assert.Error(t, ValidateProfileName("has space"))
}

func TestDirRespectsEnvOverride(t *testing.T) {
	t.Setenv("MCPC_HOME_DIR", "/tmp/custom-mcpc-home")
	dir, err := Dir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-mcpc-home", dir)
}

func TestEnsureDirsCreatesLayout(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("MCPC_HOME_DIR", tmp)

	dir, err := EnsureDirs()
	require.NoError(t, err)
	assert.Equal(t, tmp, dir)
	assert.DirExists(t, filepath.Join(tmp, "bridges"))
	assert.DirExists(t, filepath.Join(tmp, "logs"))
}

func TestSocketPathDerivation(t *testing.T) {
	got := SocketPath("/home/u/.mcpc", "@work")
	assert.Equal(t, "/home/u/.mcpc/bridges/@work.sock", got)
}

func TestPipePathIsStableAndNamespaced(t *testing.T) {
	a := PipePath("/home/u/.mcpc", "@work")
	b := PipePath("/home/v/.mcpc", "@work")
	assert.NotEqual(t, a, b, "different home dirs must namespace to different pipe names")
	assert.Equal(t, a, PipePath("/home/u/.mcpc", "@work"), "pipe path must be deterministic")
}
