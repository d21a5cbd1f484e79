// Package bridge implements the per-session bridge daemon (the Bridge
// Server) and the CLI-side process supervisor that spawns, probes, and
// restarts it (the Bridge Manager).
package bridge

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
	"github.com/mcpc-dev/mcpc/pkg/mcpclient"
)

// readyToken is the single newline-terminated string the daemon writes
// to the handshake pipe once its socket is bound and accepting.
const readyToken = "ready"

// HandshakeInput is the compact JSON blob a spawned daemon reads from
// its stdin at startup.
type HandshakeInput struct {
	SessionName string                 `json:"sessionName"`
	Server      mcpclient.ServerConfig `json:"serverConfig"`
	Headers     map[string]string      `json:"headers,omitempty"`
	ProfileName string                 `json:"profileName,omitempty"`
	Verbose     bool                   `json:"verbose,omitempty"`
}

// WriteHandshake encodes in as JSON to w, used by the manager to hand a
// spawned child its startup configuration over stdin.
func WriteHandshake(w io.Writer, in HandshakeInput) error {
	if err := json.NewEncoder(w).Encode(in); err != nil {
		return mcpcerr.WrapTransport("writing bridge handshake", err)
	}
	return nil
}

// ReadHandshake decodes a HandshakeInput from r, used by the daemon
// entry point reading its own stdin.
func ReadHandshake(r io.Reader) (HandshakeInput, error) {
	var in HandshakeInput
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return HandshakeInput{}, mcpcerr.WrapTransport("reading bridge handshake", err)
	}
	return in, nil
}

// signalReady writes the readiness token to the handshake pipe and
// closes it, unblocking the manager's wait loop.
func signalReady(w io.WriteCloser) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(readyToken + "\n"); err != nil {
		return mcpcerr.WrapTransport("signalling bridge readiness", err)
	}
	if err := bw.Flush(); err != nil {
		return mcpcerr.WrapTransport("flushing bridge readiness signal", err)
	}
	return w.Close()
}

// waitReady blocks until a line arrives on r or ctx-equivalent deadline
// elapses (the caller enforces the deadline by closing r or via a
// time.AfterFunc); returns an error if the pipe closes without a token
// or the line doesn't match.
func waitReady(r io.Reader) error {
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil {
		return mcpcerr.WrapTransport("waiting for bridge readiness signal", err)
	}
	if line != readyToken+"\n" {
		return mcpcerr.NewTransport("bridge sent unexpected readiness token " + line)
	}
	return nil
}
