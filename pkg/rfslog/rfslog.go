// Package rfslog opens the per-bridge append-only log file with
// size-based rotation, and wires it into pkg/log as the active log
// writer for the lifetime of one bridge daemon process.
package rfslog

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mcpc-dev/mcpc/pkg/log"
)

const (
	maxSizeMB  = 10
	maxBackups = 5
)

// Open returns a rotating writer at path (default max size 10 MiB, up to
// 5 rotated files kept, timestamps in local time) and points pkg/log at
// it. Callers should defer Close on the returned writer as part of
// shutdown.
func Open(path string) io.WriteCloser {
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		LocalTime:  true,
	}
	log.SetLogWriter(w)
	return w
}
