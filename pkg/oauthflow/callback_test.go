package oauthflow

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServing(t *testing.T, s *CallbackServer) {
	t.Helper()
	go func() {
		_ = s.Serve()
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	// give the goroutine a moment to start Serve before the test issues requests
	time.Sleep(10 * time.Millisecond)
}

func TestCallbackServerDeliversCodeAndState(t *testing.T) {
	s, err := NewCallbackServer()
	require.NoError(t, err)
	startServing(t, s)

	go func() {
		resp, err := http.Get(s.RedirectURI() + "?code=abc123&state=xyz")
		if err == nil {
			resp.Body.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, state, err := s.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc123", code)
	assert.Equal(t, "xyz", state)
}

func TestCallbackServerSurfacesAuthorizationError(t *testing.T) {
	s, err := NewCallbackServer()
	require.NoError(t, err)
	startServing(t, s)

	go func() {
		resp, err := http.Get(s.RedirectURI() + "?error=access_denied&error_description=user+cancelled")
		if err == nil {
			resp.Body.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err = s.Wait(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "access_denied")
}

func TestCallbackServerWaitTimesOut(t *testing.T) {
	s, err := NewCallbackServer()
	require.NoError(t, err)
	startServing(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = s.Wait(ctx)
	assert.Error(t, err)
}

func TestCallbackServerRedirectURIUsesBoundPort(t *testing.T) {
	s, err := NewCallbackServer()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	assert.Contains(t, s.RedirectURI(), "/callback")
	assert.Contains(t, s.RedirectURI(), "127.0.0.1")
	assert.Contains(t, s.RedirectURI(), s.listener.Addr().String()+"/callback")
}
