package keychain

import (
	"path/filepath"
	"sync"

	"github.com/docker/docker-credential-helpers/credentials"

	"github.com/mcpc-dev/mcpc/pkg/store"
)

// fileHelper is a credentials.Helper backed by a single JSON file
// (mode 0600), guarded by the same locked-JSON-store primitive the
// session registry uses. Meant only for environments without an OS
// keychain; real deployments should always resolve an OS helper via
// Resolve/New.
type fileHelper struct {
	path string
	mu   sync.Mutex
}

type fileRecord struct {
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

type fileDoc struct {
	Credentials map[string]fileRecord `json:"credentials"`
}

// NewFileHelper returns a file-backed credentials.Helper rooted at
// dir/keychain.json.
func NewFileHelper(dir string) credentials.Helper {
	return &fileHelper{path: filepath.Join(dir, "keychain.json")}
}

func (h *fileHelper) Add(creds *credentials.Credentials) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return store.ModifyJSON(h.path, []byte(`{"credentials":{}}`), func(doc *fileDoc) error {
		if doc.Credentials == nil {
			doc.Credentials = map[string]fileRecord{}
		}
		doc.Credentials[creds.ServerURL] = fileRecord{Username: creds.Username, Secret: creds.Secret}
		return nil
	})
}

func (h *fileHelper) Delete(serverURL string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return store.ModifyJSON(h.path, []byte(`{"credentials":{}}`), func(doc *fileDoc) error {
		delete(doc.Credentials, serverURL)
		return nil
	})
}

func (h *fileHelper) Get(serverURL string) (string, string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var doc fileDoc
	if err := store.ReadJSON(h.path, []byte(`{"credentials":{}}`), &doc); err != nil {
		return "", "", err
	}
	rec, ok := doc.Credentials[serverURL]
	if !ok {
		return "", "", credentials.NewErrCredentialsNotFound()
	}
	return rec.Username, rec.Secret, nil
}

func (h *fileHelper) List() (map[string]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var doc fileDoc
	if err := store.ReadJSON(h.path, []byte(`{"credentials":{}}`), &doc); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(doc.Credentials))
	for url, rec := range doc.Credentials {
		out[url] = rec.Username
	}
	return out, nil
}

var _ credentials.Helper = (*fileHelper)(nil)
