// Package store implements the locked JSON store: atomic, file-locked
// read/modify/write for sessions.json and profiles.json. Every mutation
// of either file goes through WithFileLock so concurrent CLI processes
// never observe (or produce) a partially written file.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
)

const (
	lockRetries  = 5
	lockInitial  = 100 * time.Millisecond
	lockCap      = 5 * time.Second
	lockSuffix   = ".lock"
	fileMode     = 0o600
)

// WithFileLock ensures path exists (seeded with defaultContent if
// absent), acquires an exclusive advisory lock on a sibling .lock file
// with bounded retry, runs fn with the file's current bytes, and writes
// back whatever fn returns unless fn returns a nil result alongside a
// nil error (read-only use). The lock is released on every exit path.
//
// fn receives the raw bytes currently on disk and returns the bytes to
// persist. Callers don't need to special-case an unchanged result: the
// temp-file-then-rename write below is cheap and always correct, even
// when next is identical to current.
func WithFileLock(path string, defaultContent []byte, fn func(current []byte) (next []byte, err error)) error {
	if err := ensureSeeded(path, defaultContent); err != nil {
		return err
	}

	lk := flock.New(path + lockSuffix)
	locked, err := tryLockWithRetry(lk)
	if err != nil {
		return mcpcerr.WrapClient("acquiring file lock", err)
	}
	if !locked {
		return &mcpcerr.BusyError{Path: path}
	}
	defer lk.Unlock()

	current, err := os.ReadFile(path)
	if err != nil {
		return mcpcerr.WrapClient("reading "+path, err)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	return atomicWrite(path, next)
}

func ensureSeeded(path string, defaultContent []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return mcpcerr.WrapClient("creating directory for "+path, err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return atomicWrite(path, defaultContent)
	} else if err != nil {
		return mcpcerr.WrapClient("stat "+path, err)
	}
	return nil
}

func tryLockWithRetry(lk *flock.Flock) (bool, error) {
	wait := lockInitial
	for attempt := 0; attempt <= lockRetries; attempt++ {
		locked, err := lk.TryLock()
		if err != nil {
			return false, err
		}
		if locked {
			return true, nil
		}
		if attempt == lockRetries {
			return false, nil
		}
		time.Sleep(wait)
		wait *= 2
		if wait > lockCap {
			wait = lockCap
		}
	}
	return false, nil
}

// atomicWrite writes data to a temp file in path's directory (so the
// rename is same-filesystem) and renames it into place; a crash mid-write
// leaves the prior file at path untouched.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return mcpcerr.WrapClient("creating temp file for "+path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return mcpcerr.WrapClient("writing temp file for "+path, err)
	}
	if err := tmp.Close(); err != nil {
		return mcpcerr.WrapClient("closing temp file for "+path, err)
	}
	if err := os.Chmod(tmpName, fileMode); err != nil {
		return mcpcerr.WrapClient("chmod temp file for "+path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return mcpcerr.WrapClient("renaming into place "+path, err)
	}
	return nil
}

// ReadJSON loads path under WithFileLock and unmarshals it into v,
// seeding with defaultContent if the file doesn't exist yet.
func ReadJSON(path string, defaultContent []byte, v any) error {
	return WithFileLock(path, defaultContent, func(current []byte) ([]byte, error) {
		if err := json.Unmarshal(current, v); err != nil {
			return nil, mcpcerr.WrapClient("parsing "+path, err)
		}
		return nil, nil
	})
}

// ModifyJSON loads path, decodes it into a fresh value of type T, lets
// fn mutate it, then encodes and writes it back — all under
// one lock acquisition so the read-modify-write is atomic with respect
// to other processes.
func ModifyJSON[T any](path string, defaultContent []byte, fn func(doc *T) error) error {
	return WithFileLock(path, defaultContent, func(current []byte) ([]byte, error) {
		var doc T
		if err := json.Unmarshal(current, &doc); err != nil {
			return nil, mcpcerr.WrapClient("parsing "+path, err)
		}
		if err := fn(&doc); err != nil {
			return nil, err
		}
		next, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, mcpcerr.WrapClient("encoding "+path, err)
		}
		return next, nil
	})
}
