package oauthmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
)

// wellKnownPaths are tried in order, matching RFC 8414 (OAuth
// Authorization Server Metadata) and falling back to the older OIDC
// discovery document.
var wellKnownPaths = []string{
	"/.well-known/oauth-authorization-server",
	"/.well-known/openid-configuration",
}

type discoveryDoc struct {
	TokenEndpoint string `json:"token_endpoint"`
}

// discoverTokenEndpoint tries each well-known path against serverURL in
// order and returns the first token_endpoint it finds.
func discoverTokenEndpoint(ctx context.Context, httpClient *http.Client, serverURL string) (string, error) {
	base := strings.TrimSuffix(serverURL, "/")

	var lastErr error
	for _, path := range wellKnownPaths {
		endpoint, err := fetchTokenEndpoint(ctx, httpClient, base+path)
		if err == nil {
			return endpoint, nil
		}
		lastErr = err
	}
	return "", mcpcerr.WrapAuth("discovering OAuth token endpoint", lastErr, "")
}

func fetchTokenEndpoint(ctx context.Context, httpClient *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}

	var doc discoveryDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", err
	}
	if doc.TokenEndpoint == "" {
		return "", fmt.Errorf("%s: no token_endpoint in response", url)
	}
	return doc.TokenEndpoint, nil
}
