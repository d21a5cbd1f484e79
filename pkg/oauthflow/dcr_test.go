package oauthflow

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverServerMetadataPrefersAuthorizationServerPath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ServerMetadata{
			AuthorizationEndpoint: "https://srv.example/authorize",
			TokenEndpoint:         "https://srv.example/token",
			RegistrationEndpoint:  "https://srv.example/register",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	meta, err := DiscoverServerMetadata(t.Context(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "https://srv.example/register", meta.RegistrationEndpoint)
}

func TestDiscoverServerMetadataFallsBackToOpenIDConfiguration(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ServerMetadata{
			AuthorizationEndpoint: "https://srv.example/authorize",
			TokenEndpoint:         "https://srv.example/token",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	meta, err := DiscoverServerMetadata(t.Context(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "https://srv.example/token", meta.TokenEndpoint)
}

func TestDiscoverServerMetadataFailsWhenBothPathsMissing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	_, err := DiscoverServerMetadata(t.Context(), srv.Client(), srv.URL)
	assert.Error(t, err)
}

func TestRegisterPostsExpectedPayloadAndParsesClientID(t *testing.T) {
	var gotBody registrationRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(registrationResponse{ClientID: "new-client-id"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	meta := ServerMetadata{
		AuthorizationEndpoint: "https://srv.example/authorize",
		TokenEndpoint:         "https://srv.example/token",
		RegistrationEndpoint:  srv.URL + "/register",
	}

	client, err := Register(t.Context(), srv.Client(), meta, "srv", "http://127.0.0.1:9876/callback", []string{"tools.call", "resources.read"})
	require.NoError(t, err)
	assert.Equal(t, "new-client-id", client.ClientID)
	assert.Equal(t, "srv", client.ServerName)
	assert.Equal(t, meta.TokenEndpoint, client.TokenEndpoint)
	assert.Equal(t, []string{"tools.call", "resources.read"}, client.RequiredScopes)
	assert.False(t, client.RegisteredAt.IsZero())

	assert.Equal(t, "none", gotBody.TokenEndpointAuthMethod)
	assert.Equal(t, []string{"http://127.0.0.1:9876/callback"}, gotBody.RedirectURIs)
	assert.Contains(t, gotBody.GrantTypes, "refresh_token")
}

func TestRegisterFailsWithoutRegistrationEndpoint(t *testing.T) {
	meta := ServerMetadata{AuthorizationEndpoint: "https://srv.example/authorize", TokenEndpoint: "https://srv.example/token"}
	_, err := Register(t.Context(), http.DefaultClient, meta, "srv", "http://127.0.0.1/callback", nil)
	assert.Error(t, err)
}

func TestRegisterSurfacesNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	meta := ServerMetadata{AuthorizationEndpoint: "a", TokenEndpoint: "b", RegistrationEndpoint: srv.URL}
	_, err := Register(t.Context(), srv.Client(), meta, "srv", "http://127.0.0.1/callback", nil)
	assert.Error(t, err)
}
