// Package mcpcerr defines the error taxonomy shared by every mcpc
// component: client, server, transport, and auth errors, each mapping to
// a fixed process exit code so the CLI root command never has to guess
// what went wrong from a string.
package mcpcerr

import (
	"errors"
	"fmt"
)

// Exit codes, stable across the whole program.
const (
	ExitOK        = 0
	ExitClient    = 1
	ExitServer    = 2
	ExitTransport = 3
	ExitAuth      = 4
)

// ClientError covers malformed input, unknown methods, invalid names, and
// registry entries that don't exist.
type ClientError struct {
	Msg string
	Err error
}

func (e *ClientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ClientError) Unwrap() error { return e.Err }
func (e *ClientError) ExitCode() int { return ExitClient }

func NewClient(msg string) *ClientError           { return &ClientError{Msg: msg} }
func WrapClient(msg string, err error) *ClientError { return &ClientError{Msg: msg, Err: err} }

// ServerError wraps an error response the upstream MCP server returned.
type ServerError struct {
	Code    int
	Msg     string
	Data    any
}

func (e *ServerError) Error() string { return e.Msg }
func (e *ServerError) ExitCode() int { return ExitServer }

func NewServer(code int, msg string, data any) *ServerError {
	return &ServerError{Code: code, Msg: msg, Data: data}
}

// TransportError covers socket/network failures: closed connections,
// refused connections, frame-size violations, IPC timeouts, and
// subprocess spawn failures. The session client treats this as the only
// kind eligible for one-shot reconnect-and-retry.
type TransportError struct {
	Msg string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *TransportError) Unwrap() error { return e.Err }
func (e *TransportError) ExitCode() int { return ExitTransport }

func NewTransport(msg string) *TransportError           { return &TransportError{Msg: msg} }
func WrapTransport(msg string, err error) *TransportError { return &TransportError{Msg: msg, Err: err} }

// AuthError covers discovery failure, refresh rejection, and missing
// client/token material. On the bridge's token path Reauth names the
// exact command the user should run next; errors raised by the
// interactive login flow itself leave it empty.
type AuthError struct {
	Msg    string
	Err    error
	Reauth string // e.g. "mcpc login https://srv.example --profile default"
}

func (e *AuthError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Reauth != "" {
		msg = fmt.Sprintf("%s (run: %s)", msg, e.Reauth)
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }
func (e *AuthError) ExitCode() int { return ExitAuth }

func NewAuth(msg, reauth string) *AuthError { return &AuthError{Msg: msg, Reauth: reauth} }
func WrapAuth(msg string, err error, reauth string) *AuthError {
	return &AuthError{Msg: msg, Err: err, Reauth: reauth}
}

// Busy signals that a file lock could not be acquired within its retry
// budget. It is distinct from a transport error: callers should not
// retry-and-reconnect, just surface "try again".
type BusyError struct {
	Path string
}

func (e *BusyError) Error() string { return fmt.Sprintf("%s: locked by another process", e.Path) }
func (e *BusyError) ExitCode() int { return ExitClient }

// ExitCoder is implemented by every error kind above.
type ExitCoder interface {
	error
	ExitCode() int
}

// CodeOf extracts the exit code for any error, defaulting to ExitClient
// for plain errors that don't carry a kind.
func CodeOf(err error) int {
	if err == nil {
		return ExitOK
	}
	var ec ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return ExitClient
}

// IsTransport reports whether err (or something it wraps) is a
// TransportError — the only kind the session client retries.
func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}
