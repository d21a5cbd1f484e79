package keychain

import (
	"encoding/json"

	"github.com/docker/docker-credential-helpers/credentials"

	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
)

// SaveSessionHeaders persists a session's real (unredacted) HTTP headers
// under session:<name>:headers so a later restartBridge can rebuild the
// same request identity without asking the user to re-supply them.
func SaveSessionHeaders(kc credentials.Helper, sessionName string, headers map[string]string) error {
	if len(headers) == 0 {
		return nil
	}
	payload, err := json.Marshal(headers)
	if err != nil {
		return mcpcerr.WrapClient("encoding session headers", err)
	}
	key := Key("session", sessionName+":headers")
	if err := kc.Add(&credentials.Credentials{ServerURL: key, Username: sessionName, Secret: string(payload)}); err != nil {
		return mcpcerr.WrapClient("saving session headers", err)
	}
	return nil
}

// LoadSessionHeaders returns the headers SaveSessionHeaders last stored
// for sessionName, or an empty map if none were ever saved (a session
// with no custom headers at creation time is not an error).
func LoadSessionHeaders(kc credentials.Helper, sessionName string) (map[string]string, error) {
	key := Key("session", sessionName+":headers")
	_, secret, err := kc.Get(key)
	if err != nil || secret == "" {
		return nil, nil
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(secret), &headers); err != nil {
		return nil, mcpcerr.WrapClient("decoding stored session headers", err)
	}
	return headers, nil
}

// DeleteSessionHeaders removes the stored headers for sessionName,
// called when a session is removed from the registry.
func DeleteSessionHeaders(kc credentials.Helper, sessionName string) error {
	return kc.Delete(Key("session", sessionName+":headers"))
}
