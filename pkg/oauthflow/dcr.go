// Dynamic Client Registration (RFC 7591) against a server discovered via
// RFC 8414 authorization-server metadata. This package implements the
// protocol directly instead of depending on an internal helper library,
// since none of the retrieval pack's third-party dependencies cover DCR
// as a standalone importable module.
package oauthflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
)

// ServerMetadata is the subset of RFC 8414 metadata this client needs.
type ServerMetadata struct {
	AuthorizationEndpoint        string   `json:"authorization_endpoint"`
	TokenEndpoint                string   `json:"token_endpoint"`
	RegistrationEndpoint         string   `json:"registration_endpoint"`
	ScopesSupported               []string `json:"scopes_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
}

// DiscoverServerMetadata fetches RFC 8414 metadata, trying the OAuth
// authorization-server well-known path before the OIDC one.
func DiscoverServerMetadata(ctx context.Context, httpClient *http.Client, serverURL string) (ServerMetadata, error) {
	base := strings.TrimSuffix(serverURL, "/")
	var lastErr error
	for _, path := range wellKnownPaths {
		meta, err := fetchMetadata(ctx, httpClient, base+path)
		if err == nil {
			return meta, nil
		}
		lastErr = err
	}
	return ServerMetadata{}, mcpcerr.WrapAuth("discovering authorization server metadata", lastErr, "")
}

var wellKnownPaths = []string{
	"/.well-known/oauth-authorization-server",
	"/.well-known/openid-configuration",
}

func fetchMetadata(ctx context.Context, httpClient *http.Client, url string) (ServerMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ServerMetadata{}, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return ServerMetadata{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ServerMetadata{}, fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	var meta ServerMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return ServerMetadata{}, err
	}
	if meta.TokenEndpoint == "" || meta.AuthorizationEndpoint == "" {
		return ServerMetadata{}, fmt.Errorf("%s: incomplete metadata", url)
	}
	return meta, nil
}

// DCRClient is a dynamically registered OAuth client. Only its ClientID
// is persisted, in the profile's keychain client record (never in
// profiles.json); the other fields live only for the login that
// registered it.
type DCRClient struct {
	ServerName            string    `json:"serverName"`
	ServerURL             string    `json:"serverUrl"`
	ClientID              string    `json:"clientId"`
	AuthorizationEndpoint string    `json:"authorizationEndpoint"`
	TokenEndpoint         string    `json:"tokenEndpoint"`
	ScopesSupported       []string  `json:"scopesSupported,omitempty"`
	RequiredScopes        []string  `json:"requiredScopes,omitempty"`
	RegisteredAt          time.Time `json:"registeredAt"`
}

type registrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	Scope                   string   `json:"scope,omitempty"`
}

type registrationResponse struct {
	ClientID string `json:"client_id"`
}

// Register performs RFC 7591 dynamic client registration as a public
// client (no client secret, PKCE-only) against meta's registration
// endpoint.
func Register(ctx context.Context, httpClient *http.Client, meta ServerMetadata, serverName, redirectURI string, scopes []string) (DCRClient, error) {
	if meta.RegistrationEndpoint == "" {
		return DCRClient{}, mcpcerr.NewAuth(fmt.Sprintf("%s does not support dynamic client registration", serverName), "")
	}

	reqBody := registrationRequest{
		ClientName:              "mcpc",
		RedirectURIs:            []string{redirectURI},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
		Scope:                  strings.Join(scopes, " "),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return DCRClient{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, meta.RegistrationEndpoint, strings.NewReader(string(payload)))
	if err != nil {
		return DCRClient{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return DCRClient{}, mcpcerr.WrapTransport("posting client registration", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return DCRClient{}, mcpcerr.NewTransport(fmt.Sprintf("registration endpoint returned %d", resp.StatusCode))
	}

	var regResp registrationResponse
	if err := json.NewDecoder(resp.Body).Decode(&regResp); err != nil {
		return DCRClient{}, mcpcerr.WrapTransport("parsing registration response", err)
	}
	if regResp.ClientID == "" {
		return DCRClient{}, mcpcerr.NewTransport("registration response missing client_id")
	}

	return DCRClient{
		ServerName:            serverName,
		ClientID:              regResp.ClientID,
		AuthorizationEndpoint: meta.AuthorizationEndpoint,
		TokenEndpoint:         meta.TokenEndpoint,
		ScopesSupported:       meta.ScopesSupported,
		RequiredScopes:        scopes,
		RegisteredAt:          time.Now(),
	}, nil
}
