package oauthflow

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mcpc-dev/mcpc/pkg/log"
)

// DefaultCallbackPort is the loopback port the redirect URI points at.
// Overridable via MCPC_OAUTH_CALLBACK_PORT for hosts where it's taken.
const DefaultCallbackPort = 5050

// callbackResult carries the redirect query parameters back to the
// goroutine driving the login flow.
type callbackResult struct {
	code  string
	state string
}

// CallbackServer is a short-lived loopback HTTP server that exists only
// for the duration of one login attempt: one /callback request, then
// shut down.
type CallbackServer struct {
	port     int
	listener net.Listener
	server   *http.Server
	resultCh chan callbackResult
	errCh    chan error
}

func callbackPort() int {
	if raw := os.Getenv("MCPC_OAUTH_CALLBACK_PORT"); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 1024 && port <= 65535 {
			return port
		}
		log.Logf("! ignoring invalid MCPC_OAUTH_CALLBACK_PORT %q, using default %d", raw, DefaultCallbackPort)
	}
	return DefaultCallbackPort
}

// NewCallbackServer binds the loopback listener without starting to serve.
func NewCallbackServer() (*CallbackServer, error) {
	port := callbackPort()
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf(
			"OAuth callback port %d is in use; stop whatever holds it or set MCPC_OAUTH_CALLBACK_PORT: %w",
			port, err,
		)
	}
	return &CallbackServer{
		port:     port,
		listener: listener,
		resultCh: make(chan callbackResult, 1),
		errCh:    make(chan error, 1),
	}, nil
}

// RedirectURI returns the URI to register and pass as the DCR redirect.
func (s *CallbackServer) RedirectURI() string {
	return fmt.Sprintf("http://127.0.0.1:%d/callback", s.port)
}

// Serve runs the HTTP server until Shutdown is called or the listener
// errors. Intended to run in its own goroutine.
func (s *CallbackServer) Serve() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", s.handleCallback)
	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("oauth callback server: %w", err)
	}
	return nil
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	state := q.Get("state")

	if code == "" {
		msg := "missing authorization code in callback"
		if errParam := q.Get("error"); errParam != "" {
			msg = fmt.Sprintf("authorization server returned error: %s", errParam)
			if desc := q.Get("error_description"); desc != "" {
				msg = fmt.Sprintf("%s (%s)", msg, desc)
			}
		}
		s.errCh <- fmt.Errorf("%s", msg)
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	if state == "" {
		msg := "missing state parameter in callback"
		s.errCh <- fmt.Errorf("%s", msg)
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	s.resultCh <- callbackResult{code: code, state: state}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>mcpc login</title></head>
<body style="font-family: system-ui, sans-serif; text-align: center; padding: 48px;">
<p style="font-size: 20px;">Authorization received.</p>
<p>You can close this tab and return to the terminal.</p>
</body>
</html>`)
}

// Wait blocks for a callback hit, a reported authorization error, or ctx
// cancellation, whichever comes first.
func (s *CallbackServer) Wait(ctx context.Context) (code, state string, err error) {
	select {
	case r := <-s.resultCh:
		return r.code, r.state, nil
	case err := <-s.errCh:
		return "", "", err
	case <-ctx.Done():
		return "", "", fmt.Errorf("timed out waiting for OAuth callback: %w", ctx.Err())
	}
}

// Shutdown stops the HTTP server. Safe to call even if Serve was never
// started.
func (s *CallbackServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return s.listener.Close()
	}
	return s.server.Shutdown(ctx)
}
