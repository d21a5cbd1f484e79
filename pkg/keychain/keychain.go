// Package keychain adapts the OS-level secret store (Secret Service,
// macOS Keychain, Windows Credential Manager) behind the same
// credentials.Helper shape the docker-credential-helpers ecosystem uses,
// plus a file-backed fallback for headless environments where no OS
// keychain is reachable.
package keychain

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/docker/docker-credential-helpers/client"
	"github.com/docker/docker-credential-helpers/credentials"

	"github.com/mcpc-dev/mcpc/pkg/log"
)

// ServiceName namespaces every key this program stores so it never
// collides with another application's credentials in a shared helper.
const ServiceName = "mcpc"

// Key builds the namespaced credential key for a kind+discriminator
// pair, e.g. Key("session", "@work:headers") => "mcpc:session:@work:headers".
func Key(kind, discriminator string) string {
	return fmt.Sprintf("%s:%s:%s", ServiceName, kind, discriminator)
}

// candidateHelpers are tried in order to find an installed credential helper
// binary, mirroring the common docker-credential-helpers distribution
// names.
var candidateHelpers = []string{
	"docker-credential-secretservice",
	"docker-credential-osxkeychain",
	"docker-credential-wincred",
	"docker-credential-pass",
}

// Resolve returns the first installed credential helper binary name
// (without the "docker-credential-" prefix), or "" if none is found.
func Resolve() string {
	for _, bin := range candidateHelpers {
		if _, err := exec.LookPath(bin); err == nil {
			return bin[len("docker-credential-"):]
		}
	}
	return ""
}

// New returns an OS-backed credential helper if one is installed, or a
// file-backed fallback rooted at fallbackDir otherwise. The fallback
// makes the OAuth Token Manager and CLI usable in CI/containers without
// gnome-keyring or macOS Keychain, at the cost of storing secrets in a
// plain (mode 0600) file instead of the OS secret store.
func New(fallbackDir string) credentials.Helper {
	if name := Resolve(); name != "" {
		log.Verbosef("- using credential helper docker-credential-%s", name)
		return &shellHelper{program: newShellProgramFunc("docker-credential-" + name)}
	}
	log.Verbosef("- no OS credential helper found, using file-backed fallback under %s", fallbackDir)
	return NewFileHelper(fallbackDir)
}

// shellHelper is a full read-write credential helper speaking the
// docker-credential-helpers wire protocol to an external binary.
type shellHelper struct {
	program client.ProgramFunc
}

func (h *shellHelper) Add(creds *credentials.Credentials) error {
	return client.Store(h.program, creds)
}

func (h *shellHelper) Delete(serverURL string) error {
	return client.Erase(h.program, serverURL)
}

func (h *shellHelper) Get(serverURL string) (string, string, error) {
	creds, err := client.Get(h.program, serverURL)
	if err != nil {
		return "", "", err
	}
	return creds.Username, creds.Secret, nil
}

func (h *shellHelper) List() (map[string]string, error) {
	return client.List(h.program)
}

var _ credentials.Helper = (*shellHelper)(nil)

func newShellProgramFunc(name string) client.ProgramFunc {
	return func(args ...string) client.Program {
		return &shellProgram{cmd: exec.CommandContext(context.Background(), name, args...)}
	}
}

type shellProgram struct {
	cmd *exec.Cmd
}

func (s *shellProgram) Output() ([]byte, error) { return s.cmd.Output() }
func (s *shellProgram) Input(in io.Reader)      { s.cmd.Stdin = in }
