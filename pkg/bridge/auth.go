package bridge

import (
	"net/http"

	"github.com/docker/docker-credential-helpers/credentials"

	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
	"github.com/mcpc-dev/mcpc/pkg/oauthflow"
	"github.com/mcpc-dev/mcpc/pkg/oauthmgr"
)

// AuthCoordinator owns one bridge's OAuth token manager and exposes it
// as an mcpclient.AuthDecorator. Sessions without a profile get a nil
// coordinator; BuildTransport is then called with a nil decorator and
// does no Authorization-header injection.
type AuthCoordinator struct {
	manager *oauthmgr.Manager
}

// NewAuthCoordinator loads client info and tokens for (serverURL,
// profileName) from the keychain and wires an oauthmgr.Manager whose
// onRefresh writes the new tokens back and stamps profiles.json. It
// refuses to start — an AuthError naming the login command, not a
// bridge crash — if the client registration, the tokens, or the refresh
// token are missing.
func NewAuthCoordinator(homeDir string, kc credentials.Helper, serverURL, profileName string) (*AuthCoordinator, error) {
	reauthHint := "mcpc login " + serverURL + " --profile " + profileName
	clientID, err := oauthflow.LoadClientID(kc, serverURL, profileName)
	if err != nil {
		return nil, mcpcerr.WrapAuth("loading OAuth client for profile "+profileName, err, reauthHint)
	}
	tokens, err := oauthflow.LoadTokens(kc, serverURL, profileName)
	if err != nil {
		return nil, mcpcerr.WrapAuth("loading OAuth tokens for profile "+profileName, err, reauthHint)
	}
	if tokens.RefreshToken == "" {
		return nil, mcpcerr.NewAuth("profile "+profileName+" has no refresh token", reauthHint)
	}

	onRefresh := func(t oauthmgr.Tokens) error {
		if err := oauthflow.SaveTokens(kc, serverURL, profileName, oauthflow.StoredTokens{
			AccessToken:  t.AccessToken,
			RefreshToken: t.RefreshToken,
			ExpiresAt:    t.ExpiresAt,
		}); err != nil {
			return err
		}
		return oauthflow.TouchRefreshed(homeDir, serverURL, profileName)
	}

	mgr := oauthmgr.New(serverURL, profileName, clientID, oauthmgr.Tokens{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	}, onRefresh)
	mgr.ReauthHint = reauthHint

	return &AuthCoordinator{manager: mgr}, nil
}

// Decorate injects "Authorization: Bearer <token>" using the wrapped
// manager's single-flight-refreshed access token.
func (a *AuthCoordinator) Decorate(req *http.Request) error {
	token, err := a.manager.GetValidAccessToken(req.Context())
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// SetRefreshToken installs a new refresh token pushed by a
// set-auth-credentials IPC message, e.g. after the CLI re-logs-in a
// still-running bridge without restarting it.
func (a *AuthCoordinator) SetRefreshToken(refreshToken string) {
	a.manager.SetRefreshToken(refreshToken)
}
