//go:build windows

package bridge

import (
	"os"
	"os/exec"
)

// detach is a no-op on Windows: CREATE_NEW_PROCESS_GROUP is unnecessary
// because StopBridge never relies on signal propagation there (both
// sigterm and sigkill resolve to os.Kill).
func detach(cmd *exec.Cmd) {}

// Windows processes don't support POSIX signals; os.Process.Signal only
// accepts os.Kill there, so both escalation steps collapse to the same
// hard kill.
func sigterm() os.Signal { return os.Kill }
func sigkill() os.Signal { return os.Kill }
