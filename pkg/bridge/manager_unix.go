//go:build !windows

package bridge

import (
	"os"
	"os/exec"
	"syscall"
)

// detach puts the bridge daemon in its own session so it survives the
// spawning CLI process exiting (and isn't killed by the terminal's
// SIGHUP on shell exit).
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

func sigterm() os.Signal { return syscall.SIGTERM }
func sigkill() os.Signal { return syscall.SIGKILL }
