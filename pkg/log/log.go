// Package log is the ambient logger shared by the CLI and the bridge
// daemon: a swappable io.Writer, no levels, no structured fields. The
// bridge daemon points it at its rotating log file; the CLI leaves it on
// stderr.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
)

var logWriter io.Writer = os.Stderr

var verbose atomic.Bool

// SetLogWriter sets the log output destination.
func SetLogWriter(w io.Writer) {
	if w != nil {
		logWriter = w
	}
}

// SetVerbose toggles whether Verbosef actually writes anything.
func SetVerbose(v bool) {
	verbose.Store(v)
}

// Log prints a message to the log output.
func Log(a ...any) {
	_, _ = fmt.Fprintln(logWriter, a...)
}

// Logf prints a formatted message to the log output.
func Logf(format string, a ...any) {
	if !strings.HasSuffix(format, "\n") {
		format += "\n"
	}
	_, _ = fmt.Fprintf(logWriter, format, a...)
}

// Verbosef prints only when verbose output is enabled with
// SetVerbose(true); the bridge daemon sets it from its handshake's
// verbose flag.
func Verbosef(format string, a ...any) {
	if verbose.Load() {
		Logf(format, a...)
	}
}
