package bridge

import (
	"context"
	"os"

	"github.com/mcpc-dev/mcpc/pkg/home"
)

// readyPipeFD is the file descriptor at which the readiness pipe (the
// first entry of the manager's exec.Cmd.ExtraFiles) arrives in the
// child. Fd 0-2 are stdin/stdout/stderr, so the first extra file lands
// at fd 3.
const readyPipeFD = 3

// RunDaemonFromStdin is the hidden bridge-daemon entry point StartBridge
// re-execs into: it reads a HandshakeInput from stdin, treats fd 3 as the
// readiness pipe the manager is blocked reading, and runs the daemon
// until it shuts down. Intended to be called directly from a cobra RunE
// with no further argument parsing — all configuration travels over
// stdin and the inherited fd, never the command line, so a spawned
// bridge's session config and headers never show up in `ps`.
func RunDaemonFromStdin(ctx context.Context) error {
	in, err := ReadHandshake(os.Stdin)
	if err != nil {
		return err
	}

	homeDir, err := home.EnsureDirs()
	if err != nil {
		return err
	}

	readyPipe := os.NewFile(readyPipeFD, "bridge-ready-pipe")
	daemon := NewDaemon(homeDir, in, DefaultIdleTimeout)
	return daemon.Run(ctx, readyPipe)
}
