// Package home locates the mcpc home directory and derives the
// filesystem identities (socket path, pipe path, log path) every other
// component keys off of a session name.
package home

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"

	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
)

var (
	sessionNameRE = regexp.MustCompile(`^@[A-Za-z0-9_-]{1,64}$`)
	profileNameRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// ValidateSessionName rejects names before any side effect occurs.
func ValidateSessionName(name string) error {
	if !sessionNameRE.MatchString(name) {
		return mcpcerr.NewClient(fmt.Sprintf("invalid session name %q: must match ^@[A-Za-z0-9_-]{1,64}$", name))
	}
	return nil
}

// ValidateProfileName rejects names before any side effect occurs.
func ValidateProfileName(name string) error {
	if !profileNameRE.MatchString(name) {
		return mcpcerr.NewClient(fmt.Sprintf("invalid profile name %q: must match ^[A-Za-z0-9_-]{1,64}$", name))
	}
	return nil
}

// Dir locates the mcpc home directory: MCPC_HOME_DIR if set, else
// ~/.mcpc. It does not create anything.
func Dir() (string, error) {
	if v := os.Getenv("MCPC_HOME_DIR"); v != "" {
		return v, nil
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", mcpcerr.WrapClient("resolving user home directory", err)
	}
	return filepath.Join(dir, ".mcpc"), nil
}

// EnsureDirs creates the home directory and its bridges/ and logs/
// subdirectories (mode 0700) if absent, and returns the home directory.
func EnsureDirs() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	for _, sub := range []string{"", "bridges", "logs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return "", mcpcerr.WrapClient("creating mcpc home directory", err)
		}
	}
	return dir, nil
}

// SessionsPath returns the path to sessions.json.
func SessionsPath(homeDir string) string { return filepath.Join(homeDir, "sessions.json") }

// ProfilesPath returns the path to profiles.json.
func ProfilesPath(homeDir string) string { return filepath.Join(homeDir, "profiles.json") }

// HistoryPath returns the path to the shell history file.
func HistoryPath(homeDir string) string { return filepath.Join(homeDir, "history") }

// LogPath returns the rotating log file path for a session's bridge.
func LogPath(homeDir, sessionName string) string {
	return filepath.Join(homeDir, "logs", fmt.Sprintf("bridge-%s.log", sessionName))
}

// SocketPath returns the Unix domain socket path for a session's bridge.
// Not meaningful on Windows; see PipePath.
func SocketPath(homeDir, sessionName string) string {
	return filepath.Join(homeDir, "bridges", sessionName+".sock")
}

// SocketParentDir returns the directory SocketPath's files live under.
func SocketParentDir(homeDir string) string {
	return filepath.Join(homeDir, "bridges")
}

// PipePath returns the Windows named-pipe path for a session's bridge,
// namespaced by an 8-hex-character SHA-256 prefix of the home directory
// so two mcpc home directories on the same machine never collide on
// Windows' global pipe namespace.
//
// The daemon transport built in pkg/bridge targets net.Listen("unix",
// ...) only; a Windows build would substitute winio.ListenPipe(PipePath(...))
// from github.com/Microsoft/go-winio here.
func PipePath(homeDir, sessionName string) string {
	sum := sha256.Sum256([]byte(homeDir))
	return fmt.Sprintf(`\\.\pipe\mcpc-%s-%s`, hex.EncodeToString(sum[:])[:8], sessionName)
}

// IsWindows reports whether the running binary targets the platform
// where PipePath (not SocketPath) is the daemon's bind address.
func IsWindows() bool { return runtime.GOOS == "windows" }
