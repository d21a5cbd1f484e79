package registry

import (
	"os"
	"syscall"
)

// IsProcessAlive reports whether pid answers to signal 0 — the
// standard liveness probe that does not actually signal the process on
// POSIX systems. A zero or negative pid is never alive.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
