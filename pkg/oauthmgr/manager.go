// Package oauthmgr implements the OAuth Token Manager: refresh-before-
// expiry with a mandatory 60-second buffer, refresh-token rotation, and
// single-flight coalescing of concurrent refreshes within one bridge.
package oauthmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mcpc-dev/mcpc/pkg/log"
	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
)

// refreshBuffer is the mandatory lead time before expiry at which a
// token is considered due for refresh.
const refreshBuffer = 60 * time.Second

// Tokens is the persistable snapshot handed to onRefresh after a
// successful refresh, and the seed state a Manager is constructed with.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // zero means "no access token yet"
}

// Manager holds one bridge's OAuth token state. A Manager instance
// must be used by exactly one bridge; independent bridges each get
// their own Manager and may refresh in parallel.
type Manager struct {
	ServerURL   string
	ProfileName string
	ClientID    string
	ReauthHint  string // e.g. "mcpc login https://srv.example --profile default"

	httpClient *http.Client
	onRefresh  func(Tokens) error

	mu     sync.Mutex
	tokens Tokens

	sf singleflight.Group
}

// New constructs a Manager seeded with the last-known tokens. onRefresh
// is invoked with the new tokens immediately after a successful refresh,
// before GetValidAccessToken returns, so persistence failures propagate
// to the caller rather than being silently lost.
func New(serverURL, profileName, clientID string, seed Tokens, onRefresh func(Tokens) error) *Manager {
	return &Manager{
		ServerURL:   serverURL,
		ProfileName: profileName,
		ClientID:    clientID,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		onRefresh:   onRefresh,
		tokens:      seed,
	}
}

// SetRefreshToken installs a new refresh token and forces the cached
// access token to be treated as expired, so the next
// GetValidAccessToken call refreshes with the new credential. Used when
// a running bridge receives a set-auth-credentials IPC push.
func (m *Manager) SetRefreshToken(refreshToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens.RefreshToken = refreshToken
	m.tokens.AccessToken = ""
	m.tokens.ExpiresAt = time.Time{}
}

// IsExpired reports whether the cached access token is absent or within
// refreshBuffer of its expiry.
func (m *Manager) IsExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isExpiredLocked()
}

func (m *Manager) isExpiredLocked() bool {
	if m.tokens.AccessToken == "" || m.tokens.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().After(m.tokens.ExpiresAt.Add(-refreshBuffer))
}

// GetValidAccessToken returns the cached access token if not expired,
// otherwise performs (or awaits an in-flight) refresh and returns the
// new token.
func (m *Manager) GetValidAccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	expired := m.isExpiredLocked()
	token := m.tokens.AccessToken
	m.mu.Unlock()

	if !expired {
		return token, nil
	}
	return m.refresh(ctx)
}

// refresh coalesces concurrent callers into exactly one HTTP round trip
// via singleflight, keyed by profile name (constant per Manager, but
// kept explicit since a Manager serves exactly one profile).
func (m *Manager) refresh(ctx context.Context) (string, error) {
	v, err, _ := m.sf.Do(m.ProfileName, func() (any, error) {
		return m.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	refreshToken := m.tokens.RefreshToken
	m.mu.Unlock()

	if refreshToken == "" {
		return "", mcpcerr.NewAuth("no refresh token available", m.ReauthHint)
	}

	endpoint, err := discoverTokenEndpoint(ctx, m.httpClient, m.ServerURL)
	if err != nil {
		return "", mcpcerr.WrapAuth("refreshing access token", err, m.ReauthHint)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {m.ClientID},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", mcpcerr.WrapTransport("building refresh request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", mcpcerr.WrapTransport("posting refresh request", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		return "", mcpcerr.NewAuth("refresh token invalid or expired", m.ReauthHint)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", mcpcerr.NewTransport(fmt.Sprintf("token endpoint returned %d", resp.StatusCode))
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    any    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", mcpcerr.WrapTransport("parsing token response", err)
	}
	if payload.AccessToken == "" {
		return "", mcpcerr.NewTransport("token response missing access_token")
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

	next := Tokens{
		AccessToken:  payload.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(expiresIn) * time.Second),
	}
	if payload.RefreshToken != "" {
		next.RefreshToken = payload.RefreshToken // rotation
	}

	m.mu.Lock()
	m.tokens = next
	m.mu.Unlock()

	if m.onRefresh != nil {
		if err := m.onRefresh(next); err != nil {
			return "", mcpcerr.WrapAuth("persisting refreshed tokens", err, m.ReauthHint)
		}
	}

	log.Verbosef("- refreshed OAuth token for %s/%s", m.ServerURL, m.ProfileName)
	return next.AccessToken, nil
}
