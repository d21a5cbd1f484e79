package rfslog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpc-dev/mcpc/pkg/log"
)

func TestOpenCreatesFileAndRoutesLogPackage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge-@work.log")

	w := Open(path)
	defer w.Close()

	log.Log("hello from the bridge")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from the bridge")
}
