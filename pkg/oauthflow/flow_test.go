package oauthflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpc-dev/mcpc/pkg/home"
	"github.com/mcpc-dev/mcpc/pkg/keychain"
)

func newOAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		srv := "http://" + r.Host
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ServerMetadata{
			AuthorizationEndpoint: srv + "/authorize",
			TokenEndpoint:         srv + "/token",
			RegistrationEndpoint:  srv + "/register",
		})
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(registrationResponse{ClientID: "client-abc"})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.FormValue("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-xyz",
			"refresh_token": "refresh-xyz",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// redirectAndState parses an authorize URL built by buildAuthorizeURL and
// returns its redirect_uri and state query parameters.
func redirectAndState(t *testing.T, authorizeURL string) (redirectURI, state string) {
	t.Helper()
	u, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	q := u.Query()
	return q.Get("redirect_uri"), q.Get("state")
}

func deliverCallback(t *testing.T, redirectURI, state, code string) {
	t.Helper()
	go func() {
		time.Sleep(10 * time.Millisecond)
		resp, err := http.Get(redirectURI + "?code=" + code + "&state=" + state)
		if err == nil {
			resp.Body.Close()
		}
	}()
}

func TestFlowLoginRoundTrip(t *testing.T) {
	srv := newOAuthServer(t)
	dir := t.TempDir()
	kc := keychain.NewFileHelper(dir)
	f := NewFlow(dir, kc)

	authorizeURL, finish, err := f.BeginLogin(context.Background(), srv.URL, "default", []string{"tools.call"})
	require.NoError(t, err)
	assert.Contains(t, authorizeURL, "/authorize")
	assert.Contains(t, authorizeURL, "code_challenge=")

	redirectURI, state := redirectAndState(t, authorizeURL)
	deliverCallback(t, redirectURI, state, "auth-code-123")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	profile, err := finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, "default", profile.Name)
	assert.Equal(t, srv.URL, profile.ServerURL)
	assert.Equal(t, "oauth", profile.AuthType)
	assert.False(t, profile.AuthenticatedAt.IsZero())

	raw, err := os.ReadFile(home.ProfilesPath(dir))
	require.NoError(t, err)
	var doc profilesDoc
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc.Profiles[srv.URL], "default")

	_, secret, err := kc.Get(keychain.Key("profile-token", srv.URL+"/default"))
	require.NoError(t, err)
	var ts tokenSecret
	require.NoError(t, json.Unmarshal([]byte(secret), &ts))
	assert.Equal(t, "access-xyz", ts.AccessToken)
	assert.Equal(t, "refresh-xyz", ts.RefreshToken)
}

func TestFlowLoginReusesRegisteredClientOnSecondLogin(t *testing.T) {
	var registrations int
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		srv := "http://" + r.Host
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ServerMetadata{
			AuthorizationEndpoint: srv + "/authorize",
			TokenEndpoint:         srv + "/token",
			RegistrationEndpoint:  srv + "/register",
		})
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		registrations++
		w.WriteHeader(http.StatusCreated)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(registrationResponse{ClientID: "client-abc"})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "a", "refresh_token": "r", "expires_in": 3600})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	f := NewFlow(dir, keychain.NewFileHelper(dir))

	for i := 0; i < 2; i++ {
		authorizeURL, finish, err := f.BeginLogin(context.Background(), srv.URL, "default", nil)
		require.NoError(t, err)
		redirectURI, state := redirectAndState(t, authorizeURL)
		deliverCallback(t, redirectURI, state, "code")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err = finish(ctx)
		cancel()
		require.NoError(t, err)
	}

	assert.Equal(t, 1, registrations, "a second login for the same profile must reuse the registered client")
}

func TestFlowLogoutRemovesProfileAndSecrets(t *testing.T) {
	srv := newOAuthServer(t)
	dir := t.TempDir()
	kc := keychain.NewFileHelper(dir)
	f := NewFlow(dir, kc)

	authorizeURL, finish, err := f.BeginLogin(context.Background(), srv.URL, "default", nil)
	require.NoError(t, err)
	redirectURI, state := redirectAndState(t, authorizeURL)
	deliverCallback(t, redirectURI, state, "code1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = finish(ctx)
	require.NoError(t, err)

	require.NoError(t, f.Logout(srv.URL, "default"))

	raw, err := os.ReadFile(home.ProfilesPath(dir))
	require.NoError(t, err)
	var doc profilesDoc
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.NotContains(t, doc.Profiles[srv.URL], "default")

	_, _, err = kc.Get(keychain.Key("profile-token", srv.URL+"/default"))
	assert.Error(t, err)
}

func TestFlowBeginLoginRejectsInvalidProfileName(t *testing.T) {
	dir := t.TempDir()
	f := NewFlow(dir, keychain.NewFileHelper(dir))
	_, _, err := f.BeginLogin(context.Background(), "https://srv.example", "not a valid name!", nil)
	assert.Error(t, err)
}
