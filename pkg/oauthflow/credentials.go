package oauthflow

import (
	"encoding/json"
	"time"

	"github.com/docker/docker-credential-helpers/credentials"

	"github.com/mcpc-dev/mcpc/pkg/home"
	"github.com/mcpc-dev/mcpc/pkg/keychain"
	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
	"github.com/mcpc-dev/mcpc/pkg/store"
)

// StoredTokens is the exported shape of a profile's keychain token
// record, used by pkg/bridge to seed an oauthmgr.Manager and to persist
// its refreshed output back to the same record.
type StoredTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// LoadClientID returns the DCR client id registered for (serverURL,
// profileName), or a ClientError if the bridge has never logged in for
// this profile.
func LoadClientID(kc credentials.Helper, serverURL, profileName string) (string, error) {
	key := keychain.Key("profile-client", serverURL+"/"+profileName)
	_, secret, err := kc.Get(key)
	if err != nil || secret == "" {
		return "", mcpcerr.NewClient("no registered OAuth client for profile " + profileName + " at " + serverURL)
	}
	var cs clientSecret
	if err := json.Unmarshal([]byte(secret), &cs); err != nil || cs.ClientID == "" {
		return "", mcpcerr.NewClient("corrupt OAuth client record for profile " + profileName)
	}
	return cs.ClientID, nil
}

// LoadTokens returns the last-persisted access/refresh tokens for
// (serverURL, profileName), or a ClientError if none exist yet.
func LoadTokens(kc credentials.Helper, serverURL, profileName string) (StoredTokens, error) {
	key := keychain.Key("profile-token", serverURL+"/"+profileName)
	_, secret, err := kc.Get(key)
	if err != nil || secret == "" {
		return StoredTokens{}, mcpcerr.NewClient("no stored OAuth tokens for profile " + profileName + " at " + serverURL)
	}
	var ts tokenSecret
	if err := json.Unmarshal([]byte(secret), &ts); err != nil {
		return StoredTokens{}, mcpcerr.NewClient("corrupt OAuth token record for profile " + profileName)
	}
	return StoredTokens{
		AccessToken:  ts.AccessToken,
		RefreshToken: ts.RefreshToken,
		ExpiresAt:    time.Unix(ts.ExpiresAt, 0),
	}, nil
}

// SaveTokens persists refreshed tokens back to the keychain record a
// bridge's OAuthTokenManager.onRefresh calls into.
func SaveTokens(kc credentials.Helper, serverURL, profileName string, t StoredTokens) error {
	key := keychain.Key("profile-token", serverURL+"/"+profileName)
	payload, err := json.Marshal(tokenSecret{
		AccessToken:  t.AccessToken,
		ExpiresAt:    t.ExpiresAt.Unix(),
		RefreshToken: t.RefreshToken,
	})
	if err != nil {
		return err
	}
	if err := kc.Add(&credentials.Credentials{ServerURL: key, Username: profileName, Secret: string(payload)}); err != nil {
		return mcpcerr.WrapAuth("persisting refreshed OAuth tokens", err, "")
	}
	return nil
}

// TouchRefreshed stamps profiles.json's refreshedAt for (serverURL,
// profileName) to now, matching the spec's requirement that a silent
// refresh is reflected in the profile metadata the CLI can display.
func TouchRefreshed(homeDir, serverURL, profileName string) error {
	profilesPath := home.ProfilesPath(homeDir)
	return store.ModifyJSON(profilesPath, []byte(`{"profiles":{}}`), func(doc *profilesDoc) error {
		byProfile, ok := doc.Profiles[serverURL]
		if !ok {
			return nil
		}
		p, ok := byProfile[profileName]
		if !ok {
			return nil
		}
		p.RefreshedAt = time.Now()
		byProfile[profileName] = p
		return nil
	})
}
