package bridge

import (
	"bytes"
	"context"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/docker/docker-credential-helpers/credentials"

	"github.com/mcpc-dev/mcpc/pkg/home"
	"github.com/mcpc-dev/mcpc/pkg/ipc"
	"github.com/mcpc-dev/mcpc/pkg/keychain"
	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
	"github.com/mcpc-dev/mcpc/pkg/mcpclient"
	"github.com/mcpc-dev/mcpc/pkg/registry"
)

// BridgeEntrypointArg is the hidden cobra subcommand argument the
// manager re-execs itself with to run as a bridge daemon. The command
// package wires this to a RunE that calls RunDaemonFromStdin.
const BridgeEntrypointArg = "__bridge-daemon"

const (
	startReadyTimeout    = 10 * time.Second
	probeDialTimeout     = 2 * time.Second
	stopGraceTimeout     = 2 * time.Second
	stopKillGraceTimeout = 3 * time.Second
)

// StartOptions bundles everything startBridge needs to spawn a daemon
// for one session.
type StartOptions struct {
	HomeDir     string
	SessionName string
	Server      mcpclient.ServerConfig
	Headers     map[string]string
	ProfileName string
	Verbose     bool
}

// StartBridge reuses a live bridge if one already answers a connect
// probe on the session's socket; otherwise it spawns a detached daemon
// process, waits for its readiness signal, and returns its PID.
func StartBridge(ctx context.Context, opts StartOptions) (int, error) {
	sockPath := home.SocketPath(opts.HomeDir, opts.SessionName)

	if dialProbe(sockPath, probeDialTimeout) {
		reg := registry.New(opts.HomeDir)
		if rec, err := reg.Get(opts.SessionName); err == nil && rec.PID != 0 {
			return rec.PID, nil
		}
	}

	self, err := os.Executable()
	if err != nil {
		return 0, mcpcerr.WrapTransport("resolving mcpc executable path", err)
	}

	handshake := HandshakeInput{
		SessionName: opts.SessionName,
		Server:      opts.Server,
		Headers:     opts.Headers,
		ProfileName: opts.ProfileName,
		Verbose:     opts.Verbose,
	}
	var stdin bytes.Buffer
	if err := WriteHandshake(&stdin, handshake); err != nil {
		return 0, err
	}

	logFile, err := os.OpenFile(home.LogPath(opts.HomeDir, opts.SessionName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, mcpcerr.WrapClient("opening bridge log file", err)
	}
	defer logFile.Close()

	readyR, readyW, err := os.Pipe()
	if err != nil {
		return 0, mcpcerr.WrapTransport("creating bridge handshake pipe", err)
	}
	defer readyR.Close()

	cmd := exec.Command(self, BridgeEntrypointArg)
	cmd.Stdin = &stdin
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.ExtraFiles = []*os.File{readyW}
	cmd.Env = append(os.Environ(), "MCPC_HOME_DIR="+opts.HomeDir)
	detach(cmd)

	if err := cmd.Start(); err != nil {
		readyW.Close()
		return 0, mcpcerr.WrapTransport("spawning bridge process", err)
	}
	readyW.Close() // parent's copy; the child keeps its own duplicate at fd 3

	if err := waitReadyTimeout(readyR, startReadyTimeout); err != nil {
		_ = cmd.Process.Kill()
		return 0, err
	}

	pid := cmd.Process.Pid
	_ = cmd.Process.Release() // detach: the CLI process does not reap the daemon
	return pid, nil
}

func waitReadyTimeout(r *os.File, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- waitReady(r) }()

	select {
	case err := <-errCh:
		return err
	case <-time.After(timeout):
		r.Close()
		return mcpcerr.NewTransport("timed out waiting for bridge readiness signal")
	}
}

// StopBridge is idempotent: it first attempts a graceful shutdown IPC,
// then escalates to SIGTERM and finally SIGKILL if the recorded PID is
// still alive, and always removes a leftover socket file.
func StopBridge(ctx context.Context, homeDir, sessionName string) error {
	sockPath := home.SocketPath(homeDir, sessionName)
	reg := registry.New(homeDir)
	rec, _ := reg.Get(sessionName)

	if sendShutdown(ctx, sockPath, stopGraceTimeout) == nil && rec != nil && rec.PID != 0 {
		waitForDeath(rec.PID, stopGraceTimeout)
	}

	if rec != nil && rec.PID != 0 && registry.IsProcessAlive(rec.PID) {
		if proc, err := os.FindProcess(rec.PID); err == nil {
			_ = proc.Signal(sigterm())
			if !waitForDeath(rec.PID, stopKillGraceTimeout) {
				_ = proc.Signal(sigkill())
			}
		}
	}

	_ = os.Remove(sockPath)
	return nil
}

func sendShutdown(ctx context.Context, sockPath string, timeout time.Duration) error {
	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	netConn, err := net.DialTimeout("unix", sockPath, timeout)
	if err != nil {
		return mcpcerr.WrapTransport("dialing bridge socket", err)
	}
	defer netConn.Close()

	conn := ipc.NewConn(netConn, nil)
	go func() { _ = conn.Serve(nil) }()
	defer conn.Close()

	_, err = conn.Call(ipc.NewShutdown(conn.NextID()), deadlineCtx.Done())
	return err
}

func waitForDeath(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !registry.IsProcessAlive(pid) {
			return true
		}
		time.Sleep(25 * time.Millisecond)
	}
	return !registry.IsProcessAlive(pid)
}

// PingSession reports whether sessionName's bridge answers a ping probe
// within the standard probe timeout, used by the registry's forced
// consolidation sweep to tell a merely-unresponsive bridge from a dead
// one.
func PingSession(ctx context.Context, homeDir, sessionName string) bool {
	return pingProbe(ctx, home.SocketPath(homeDir, sessionName), probeDialTimeout)
}

// EnsureBridgeReady returns the session's socket path if its recorded
// PID is alive and answers a ping within 2s; otherwise it performs a
// single restartBridge attempt and returns the (new) socket path.
// Restart failures propagate — this function never retries a restart.
// A session with status=expired is terminal and is never restarted;
// RestartBridge reports that case as an auth error naming the
// reconnect command to run.
func EnsureBridgeReady(ctx context.Context, homeDir, sessionName string, kc credentials.Helper) (string, error) {
	sockPath := home.SocketPath(homeDir, sessionName)
	reg := registry.New(homeDir)

	rec, err := reg.Get(sessionName)
	if err != nil {
		return "", err
	}
	if rec.PID != 0 && registry.IsProcessAlive(rec.PID) && pingProbe(ctx, sockPath, probeDialTimeout) {
		return sockPath, nil
	}

	if _, err := RestartBridge(ctx, homeDir, sessionName, kc); err != nil {
		return "", err
	}
	return sockPath, nil
}

// RestartBridge stops any existing bridge for sessionName and starts a
// fresh one from the stored session config, re-reading the session's
// HTTP headers from the keychain so a restarted HTTP session gets the
// real header values (the new daemon loads OAuth tokens itself). A session whose record carries status=expired is
// terminal (the upstream MCP server declared it permanently gone) and
// is never restarted; callers get an error naming the reconnect
// command to run instead.
func RestartBridge(ctx context.Context, homeDir, sessionName string, kc credentials.Helper) (int, error) {
	reg := registry.New(homeDir)
	rec, err := reg.Get(sessionName)
	if err != nil {
		return 0, err
	}
	if rec.Status == registry.StatusExpired {
		return 0, mcpcerr.NewAuth(sessionName+" has expired", reconnectHint(sessionName, rec))
	}

	_ = StopBridge(ctx, homeDir, sessionName)

	var headers map[string]string
	if rec.Server.HTTP != nil {
		headers, _ = keychain.LoadSessionHeaders(kc, sessionName)
	}

	pid, err := StartBridge(ctx, StartOptions{
		HomeDir:     homeDir,
		SessionName: sessionName,
		Server:      rec.Server,
		Headers:     headers,
		ProfileName: rec.ProfileName,
	})
	if err != nil {
		return 0, err
	}
	if err := reg.SetPID(sessionName, pid); err != nil {
		return 0, err
	}
	return pid, nil
}

// reconnectHint builds the exact command a caller should run to
// re-establish a session whose record is terminal, naming the
// session's original target so the user does not have to look it up.
func reconnectHint(sessionName string, rec *registry.SessionRecord) string {
	target := ""
	switch {
	case rec.Server.Stdio != nil:
		target = rec.Server.Stdio.Command
	case rec.Server.HTTP != nil:
		target = rec.Server.HTTP.URL
	}
	hint := "mcpc connect " + sessionName + " " + target
	if rec.ProfileName != "" {
		hint += " --profile " + rec.ProfileName
	}
	return hint
}

