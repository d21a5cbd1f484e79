// Package oauthflow drives the interactive authorization-code login a
// human runs once per profile: discover the server's OAuth metadata,
// register a dynamic client if needed, hand back the authorization URL
// for the user to open in a browser (this package does not launch one),
// catch the redirect on a loopback listener, exchange the code, and persist the
// result. Everything downstream (the bridge's token manager) only ever
// consumes the refresh token this package produced.
package oauthflow

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker-credential-helpers/credentials"

	"github.com/mcpc-dev/mcpc/pkg/home"
	"github.com/mcpc-dev/mcpc/pkg/keychain"
	"github.com/mcpc-dev/mcpc/pkg/log"
	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
	"github.com/mcpc-dev/mcpc/pkg/store"
)

// Profile is the on-disk (profiles.json) record for one OAuth identity.
// It never carries secrets; those live in the keychain under
// keychain.Key("profile-client", ...) and keychain.Key("profile-token", ...).
type Profile struct {
	Name            string    `json:"name"`
	ServerURL       string    `json:"serverUrl"`
	AuthType        string    `json:"authType"`
	OAuthIssuer     string    `json:"oauthIssuer,omitempty"`
	Scopes          []string  `json:"scopes,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	AuthenticatedAt time.Time `json:"authenticatedAt,omitempty"`
	RefreshedAt     time.Time `json:"refreshedAt,omitempty"`
	UserEmail       string    `json:"userEmail,omitempty"`
	UserName        string    `json:"userName,omitempty"`
	UserSubject     string    `json:"userSubject,omitempty"`
}

type profilesDoc struct {
	Profiles map[string]map[string]Profile `json:"profiles"`
}

// clientSecret is the keychain record for a profile's DCR client.
type clientSecret struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

// tokenSecret is the keychain record for a profile's tokens.
type tokenSecret struct {
	AccessToken  string `json:"accessToken"`
	TokenType    string `json:"tokenType"`
	ExpiresAt    int64  `json:"expiresAt"`
	RefreshToken string `json:"refreshToken,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Flow bundles the dependencies BeginLogin and Logout need: the keychain
// helper, the home directory, and an HTTP client for discovery/token
// exchange.
type Flow struct {
	HomeDir    string
	Keychain   credentials.Helper
	HTTPClient *http.Client

	states *stateManager
}

// NewFlow constructs a Flow from the ambient home directory and
// keychain.
func NewFlow(homeDir string, kc credentials.Helper) *Flow {
	return &Flow{
		HomeDir:    homeDir,
		Keychain:   kc,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		states:     newStateManager(),
	}
}

// LoginResult pairs a logged-in profile with the authorization URL that
// produced it. BeginLogin and its finish function return these two
// values separately; nothing in this package returns a LoginResult.
type LoginResult struct {
	Profile      Profile
	AuthorizeURL string
}

// BeginLogin discovers the server's OAuth metadata, registers (or
// reuses) a dynamic client, starts the loopback callback server, and
// returns the URL the caller should open in a browser together with a
// Finish function that blocks for the redirect and completes the
// exchange.
func (f *Flow) BeginLogin(ctx context.Context, serverURL, profileName string, scopes []string) (authorizeURL string, finish func(context.Context) (Profile, error), err error) {
	if err := home.ValidateProfileName(profileName); err != nil {
		return "", nil, err
	}

	meta, err := DiscoverServerMetadata(ctx, f.HTTPClient, serverURL)
	if err != nil {
		return "", nil, err
	}

	cb, err := NewCallbackServer()
	if err != nil {
		return "", nil, mcpcerr.WrapTransport("starting OAuth callback listener", err)
	}
	go func() {
		if err := cb.Serve(); err != nil {
			log.Logf("! OAuth callback server: %v", err)
		}
	}()

	client, err := f.loadOrRegisterClient(ctx, meta, serverURL, profileName, cb.RedirectURI(), scopes)
	if err != nil {
		_ = cb.Shutdown(context.Background())
		return "", nil, err
	}

	verifier, challenge, err := newPKCEPair()
	if err != nil {
		_ = cb.Shutdown(context.Background())
		return "", nil, mcpcerr.WrapTransport("generating PKCE verifier", err)
	}
	state := f.states.Generate(serverURL, profileName, verifier)

	authorizeURL = buildAuthorizeURL(meta.AuthorizationEndpoint, client.ClientID, cb.RedirectURI(), state, challenge, scopes)

	finish = func(ctx context.Context) (Profile, error) {
		defer func() { _ = cb.Shutdown(context.Background()) }()
		return f.finishLogin(ctx, cb, serverURL, profileName, meta, client)
	}
	return authorizeURL, finish, nil
}

func (f *Flow) finishLogin(ctx context.Context, cb *CallbackServer, serverURL, profileName string, meta ServerMetadata, client DCRClient) (Profile, error) {
	code, state, err := cb.Wait(ctx)
	if err != nil {
		return Profile{}, mcpcerr.WrapAuth("waiting for OAuth callback", err, "")
	}

	pending, err := f.states.Validate(state)
	if err != nil {
		return Profile{}, mcpcerr.WrapAuth("validating OAuth state", err, "")
	}
	if pending.serverURL != serverURL || pending.profileName != profileName {
		return Profile{}, mcpcerr.NewAuth("OAuth state does not match the flow that was started", "")
	}

	tokens, err := exchangeCode(ctx, f.HTTPClient, meta.TokenEndpoint, client.ClientID, cb.RedirectURI(), code, pending.verifier)
	if err != nil {
		return Profile{}, err
	}

	now := time.Now()
	profile := Profile{
		Name:            profileName,
		ServerURL:       serverURL,
		AuthType:        "oauth",
		OAuthIssuer:     serverURL,
		Scopes:          client.RequiredScopes,
		CreatedAt:       now,
		AuthenticatedAt: now,
		RefreshedAt:     now,
	}

	if err := f.saveTokens(serverURL, profileName, tokens); err != nil {
		return Profile{}, err
	}
	if err := f.saveProfile(profile); err != nil {
		return Profile{}, err
	}

	log.Logf("- authenticated profile %s for %s", profileName, serverURL)
	return profile, nil
}

// Logout removes a profile's keychain records and its profiles.json
// entry. It is idempotent: logging out twice is not an error.
func (f *Flow) Logout(serverURL, profileName string) error {
	_ = f.Keychain.Delete(keychain.Key("profile-client", serverURL+"/"+profileName))
	_ = f.Keychain.Delete(keychain.Key("profile-token", serverURL+"/"+profileName))

	profilesPath := home.ProfilesPath(f.HomeDir)
	return store.ModifyJSON(profilesPath, []byte(`{"profiles":{}}`), func(doc *profilesDoc) error {
		if doc.Profiles == nil {
			return nil
		}
		if byProfile, ok := doc.Profiles[serverURL]; ok {
			delete(byProfile, profileName)
			if len(byProfile) == 0 {
				delete(doc.Profiles, serverURL)
			}
		}
		return nil
	})
}

func (f *Flow) loadOrRegisterClient(ctx context.Context, meta ServerMetadata, serverURL, profileName, redirectURI string, scopes []string) (DCRClient, error) {
	key := keychain.Key("profile-client", serverURL+"/"+profileName)
	if _, secret, err := f.Keychain.Get(key); err == nil && secret != "" {
		var cs clientSecret
		if err := json.Unmarshal([]byte(secret), &cs); err == nil && cs.ClientID != "" {
			return DCRClient{
				ServerName:            profileName,
				ClientID:              cs.ClientID,
				AuthorizationEndpoint: meta.AuthorizationEndpoint,
				TokenEndpoint:         meta.TokenEndpoint,
				RequiredScopes:        scopes,
			}, nil
		}
	}

	client, err := Register(ctx, f.HTTPClient, meta, profileName, redirectURI, scopes)
	if err != nil {
		return DCRClient{}, err
	}

	payload, err := json.Marshal(clientSecret{ClientID: client.ClientID})
	if err != nil {
		return DCRClient{}, err
	}
	if err := f.Keychain.Add(&credentials.Credentials{ServerURL: key, Username: profileName, Secret: string(payload)}); err != nil {
		return DCRClient{}, mcpcerr.WrapAuth("saving registered client to keychain", err, "")
	}
	return client, nil
}

func (f *Flow) saveTokens(serverURL, profileName string, tokens tokenExchangeResult) error {
	key := keychain.Key("profile-token", serverURL+"/"+profileName)
	payload, err := json.Marshal(tokenSecret{
		AccessToken:  tokens.AccessToken,
		TokenType:    tokens.TokenType,
		ExpiresAt:    tokens.ExpiresAt.Unix(),
		RefreshToken: tokens.RefreshToken,
		Scope:        tokens.Scope,
	})
	if err != nil {
		return err
	}
	if err := f.Keychain.Add(&credentials.Credentials{ServerURL: key, Username: profileName, Secret: string(payload)}); err != nil {
		return mcpcerr.WrapAuth("saving tokens to keychain", err, "")
	}
	return nil
}

func (f *Flow) saveProfile(p Profile) error {
	profilesPath := home.ProfilesPath(f.HomeDir)
	return store.ModifyJSON(profilesPath, []byte(`{"profiles":{}}`), func(doc *profilesDoc) error {
		if doc.Profiles == nil {
			doc.Profiles = make(map[string]map[string]Profile)
		}
		if doc.Profiles[p.ServerURL] == nil {
			doc.Profiles[p.ServerURL] = make(map[string]Profile)
		}
		doc.Profiles[p.ServerURL][p.Name] = p
		return nil
	})
}

type tokenExchangeResult struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	Scope        string
	ExpiresAt    time.Time
}

func exchangeCode(ctx context.Context, httpClient *http.Client, tokenEndpoint, clientID, redirectURI, code, verifier string) (tokenExchangeResult, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {clientID},
		"code_verifier": {verifier},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenExchangeResult{}, mcpcerr.WrapTransport("building token exchange request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		return tokenExchangeResult{}, mcpcerr.WrapTransport("posting token exchange request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return tokenExchangeResult{}, mcpcerr.NewAuth("authorization code rejected by token endpoint", "")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tokenExchangeResult{}, mcpcerr.NewTransport(fmt.Sprintf("token endpoint returned %d", resp.StatusCode))
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		RefreshToken string `json:"refresh_token"`
		Scope        string `json:"scope"`
		ExpiresIn    any    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return tokenExchangeResult{}, mcpcerr.WrapTransport("parsing token exchange response", err)
	}
	if payload.AccessToken == "" {
		return tokenExchangeResult{}, mcpcerr.NewTransport("token exchange response missing access_token")
	}

	expiresIn := 3600
	switch v := payload.ExpiresIn.(type) {
	case float64:
		expiresIn = int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			expiresIn = n
		}
	}

	return tokenExchangeResult{
		AccessToken:  payload.AccessToken,
		TokenType:    payload.TokenType,
		RefreshToken: payload.RefreshToken,
		Scope:        payload.Scope,
		ExpiresAt:    time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

func newPKCEPair() (verifier, challenge string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	verifier = base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}

func buildAuthorizeURL(endpoint, clientID, redirectURI, state, codeChallenge string, scopes []string) string {
	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {clientID},
		"redirect_uri":          {redirectURI},
		"state":                 {state},
		"code_challenge":        {codeChallenge},
		"code_challenge_method": {"S256"},
	}
	if len(scopes) > 0 {
		q.Set("scope", strings.Join(scopes, " "))
	}
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + q.Encode()
}
