package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpc-dev/mcpc/pkg/mcpclient"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bridges"), 0o700))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "logs"), 0o700))
	return New(dir)
}

func testServerConfig() mcpclient.ServerConfig {
	return mcpclient.ServerConfig{HTTP: &mcpclient.HTTPConfig{URL: "https://srv.example"}}
}

func TestCreateRejectsInvalidName(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("work", testServerConfig(), "")
	require.Error(t, err)
}

func TestCreateAndGet(t *testing.T) {
	r := newTestRegistry(t)
	rec, err := r.Create("@work", testServerConfig(), "default")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, rec.Status)

	got, err := r.Get("@work")
	require.NoError(t, err)
	assert.Equal(t, "@work", got.Name)
	assert.Equal(t, "default", got.ProfileName)
}

func TestGetMissingIsClientError(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Get("@missing")
	require.Error(t, err)
}

func TestSetPIDAndStatusLive(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("@work", testServerConfig(), "")
	require.NoError(t, err)
	require.NoError(t, r.SetPID("@work", os.Getpid()))

	rec, err := r.Get("@work")
	require.NoError(t, err)
	assert.Equal(t, Live, r.Status(rec))
}

func TestStatusDeadForUnknownPID(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("@work", testServerConfig(), "")
	require.NoError(t, err)
	// A PID vanishingly unlikely to be alive in the test sandbox.
	require.NoError(t, r.SetPID("@work", 1<<30))

	rec, err := r.Get("@work")
	require.NoError(t, err)
	assert.Equal(t, Dead, r.Status(rec))
}

func TestMarkExpiredIsTerminal(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("@work", testServerConfig(), "")
	require.NoError(t, err)
	require.NoError(t, r.SetPID("@work", os.Getpid()))
	require.NoError(t, r.MarkExpired("@work"))

	rec, err := r.Get("@work")
	require.NoError(t, err)
	assert.Equal(t, Expired, r.Status(rec))
}

func TestDeleteIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("@work", testServerConfig(), "")
	require.NoError(t, err)
	require.NoError(t, r.Delete("@work"))
	require.NoError(t, r.Delete("@work"))

	_, err = r.Get("@work")
	require.Error(t, err)
}

func TestConsolidateRemovesExpiredAndSweepsSocket(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("@gone", testServerConfig(), "")
	require.NoError(t, err)
	require.NoError(t, r.SetPID("@gone", os.Getpid()))
	require.NoError(t, r.MarkExpired("@gone"))

	sockPath := filepath.Join(r.HomeDir, "bridges", "@gone.sock")
	require.NoError(t, os.WriteFile(sockPath, []byte{}, 0o600))

	result, err := r.Consolidate(false, nil)
	require.NoError(t, err)
	assert.NotContains(t, result, "@gone")
	assert.NoFileExists(t, sockPath)
}

func TestConsolidateLeavesDeadEntriesWithoutForce(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("@work", testServerConfig(), "")
	require.NoError(t, err)
	require.NoError(t, r.SetPID("@work", 1<<30))

	result, err := r.Consolidate(false, nil)
	require.NoError(t, err)
	entry, ok := result["@work"]
	require.True(t, ok)
	assert.Equal(t, Dead, entry.Status)

	_, err = r.Get("@work")
	require.NoError(t, err)
}

func TestConsolidateRemovesDeadEntriesWhenForced(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("@work", testServerConfig(), "")
	require.NoError(t, err)
	require.NoError(t, r.SetPID("@work", 1<<30))

	result, err := r.Consolidate(true, nil)
	require.NoError(t, err)
	assert.NotContains(t, result, "@work")

	_, err = r.Get("@work")
	require.Error(t, err)
}

func TestConsolidateIsFixedPoint(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("@work", testServerConfig(), "")
	require.NoError(t, err)
	require.NoError(t, r.SetPID("@work", os.Getpid()))

	first, err := r.Consolidate(false, nil)
	require.NoError(t, err)
	second, err := r.Consolidate(false, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestConsolidateSweepsOldOrphanLogsButKeepsRecent(t *testing.T) {
	r := newTestRegistry(t)
	logsDir := filepath.Join(r.HomeDir, "logs")

	oldLog := filepath.Join(logsDir, "bridge-@gone.log")
	require.NoError(t, os.WriteFile(oldLog, []byte("x"), 0o600))
	old := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(oldLog, old, old))

	recentLog := filepath.Join(logsDir, "bridge-@recent.log")
	require.NoError(t, os.WriteFile(recentLog, []byte("x"), 0o600))
	recent := time.Now().AddDate(0, 0, -1)
	require.NoError(t, os.Chtimes(recentLog, recent, recent))

	_, err := r.Consolidate(false, nil)
	require.NoError(t, err)

	assert.NoFileExists(t, oldLog)
	assert.FileExists(t, recentLog)
}
