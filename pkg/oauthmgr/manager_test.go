package oauthmgr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
)

func newDiscoveryServer(t *testing.T, tokenHandler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var tokenURL string
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token_endpoint": tokenURL})
	})
	mux.HandleFunc("/token", tokenHandler)
	srv := httptest.NewServer(mux)
	tokenURL = srv.URL + "/token"
	t.Cleanup(srv.Close)
	return srv
}

func TestIsExpiredNoAccessToken(t *testing.T) {
	m := New("https://srv.example", "default", "client-id", Tokens{}, nil)
	assert.True(t, m.IsExpired())
}

func TestIsExpiredRespectsSixtySecondBuffer(t *testing.T) {
	m := New("https://srv.example", "default", "client-id", Tokens{
		AccessToken: "tok",
		ExpiresAt:   time.Now().Add(90 * time.Second),
	}, nil)
	assert.False(t, m.IsExpired(), "token 90s from expiry is still valid under a 60s buffer")

	m2 := New("https://srv.example", "default", "client-id", Tokens{
		AccessToken: "tok",
		ExpiresAt:   time.Now().Add(30 * time.Second),
	}, nil)
	assert.True(t, m2.IsExpired(), "token 30s from expiry is within the 60s buffer")
}

func TestGetValidAccessTokenReturnsCachedWhenFresh(t *testing.T) {
	m := New("https://srv.example", "default", "client-id", Tokens{
		AccessToken: "cached-token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}, nil)

	tok, err := m.GetValidAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached-token", tok)
}

func TestRefreshRotatesTokenAndPersists(t *testing.T) {
	var calls int32
	srv := newDiscoveryServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		assert.Equal(t, "old-refresh", r.FormValue("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    3600,
		})
	})

	var persisted Tokens
	m := New(srv.URL, "default", "client-id", Tokens{RefreshToken: "old-refresh"}, func(tok Tokens) error {
		persisted = tok
		return nil
	})

	tok, err := m.GetValidAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, "new-refresh", persisted.RefreshToken)
	assert.False(t, m.IsExpired())
}

func TestRefreshKeepsPriorRefreshTokenWhenNotRotated(t *testing.T) {
	srv := newDiscoveryServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "new-access", "expires_in": 3600})
	})

	m := New(srv.URL, "default", "client-id", Tokens{RefreshToken: "stable-refresh"}, nil)
	_, err := m.GetValidAccessToken(context.Background())
	require.NoError(t, err)

	m.mu.Lock()
	got := m.tokens.RefreshToken
	m.mu.Unlock()
	assert.Equal(t, "stable-refresh", got)
}

func TestRefreshOnHTTP401SurfacesAuthError(t *testing.T) {
	srv := newDiscoveryServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	m := New(srv.URL, "default", "client-id", Tokens{RefreshToken: "bad"}, nil)
	m.ReauthHint = "mcpc login " + srv.URL
	_, err := m.GetValidAccessToken(context.Background())

	var authErr *mcpcerr.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Contains(t, authErr.Error(), "mcpc login")
}

func TestRefreshOnServerErrorSurfacesTransportError(t *testing.T) {
	srv := newDiscoveryServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	m := New(srv.URL, "default", "client-id", Tokens{RefreshToken: "x"}, nil)
	_, err := m.GetValidAccessToken(context.Background())

	var transportErr *mcpcerr.TransportError
	require.True(t, errors.As(err, &transportErr))
}

func TestConcurrentRefreshCoalescesIntoOnePost(t *testing.T) {
	var calls int32
	srv := newDiscoveryServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond) // widen the race window
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "shared-token", "expires_in": 3600})
	})

	m := New(srv.URL, "default", "client-id", Tokens{RefreshToken: "x"}, nil)

	var wg sync.WaitGroup
	results := make([]string, 10)
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.GetValidAccessToken(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "ten concurrent expired reads must trigger exactly one refresh POST")
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared-token", results[i])
	}
}

func TestRefreshFailsWithoutRefreshToken(t *testing.T) {
	m := New("https://srv.example", "default", "client-id", Tokens{}, nil)
	_, err := m.GetValidAccessToken(context.Background())
	var authErr *mcpcerr.AuthError
	require.True(t, errors.As(err, &authErr))
}

func TestOnRefreshFailurePropagates(t *testing.T) {
	srv := newDiscoveryServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "a", "expires_in": 3600})
	})

	m := New(srv.URL, "default", "client-id", Tokens{RefreshToken: "x"}, func(Tokens) error {
		return errors.New("disk full")
	})
	_, err := m.GetValidAccessToken(context.Background())
	var authErr *mcpcerr.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Contains(t, authErr.Error(), "disk full")
}

func TestDiscoveryFallsBackToOpenIDConfiguration(t *testing.T) {
	mux := http.NewServeMux()
	var tokenURL string
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token_endpoint": tokenURL})
	})
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "a", "expires_in": 3600})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	tokenURL = srv.URL + "/token"

	m := New(srv.URL, "default", "client-id", Tokens{RefreshToken: "x"}, nil)
	tok, err := m.GetValidAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", tok)
}
