package bridge

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mcpc-dev/mcpc/pkg/cliconfig"
	"github.com/mcpc-dev/mcpc/pkg/home"
	"github.com/mcpc-dev/mcpc/pkg/ipc"
	"github.com/mcpc-dev/mcpc/pkg/keychain"
	"github.com/mcpc-dev/mcpc/pkg/log"
	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
	"github.com/mcpc-dev/mcpc/pkg/mcpclient"
	"github.com/mcpc-dev/mcpc/pkg/registry"
	"github.com/mcpc-dev/mcpc/pkg/rfslog"
	"github.com/mcpc-dev/mcpc/pkg/telemetry"
)

// DefaultIdleTimeout is the time a bridge with zero connected clients
// waits before shutting itself down. The spec leaves the exact value
// implementation-chosen; 30 minutes matches its suggested default.
const DefaultIdleTimeout = 30 * time.Minute

// shutdownDrainTimeout bounds how long Run waits for in-flight requests
// to finish before forcibly closing connections during shutdown.
const shutdownDrainTimeout = 5 * time.Second

// defaultRequestTimeout is used when a session's ServerConfig carries no
// explicit timeout.
const defaultRequestTimeout = 30 * time.Second

// upstreamTerminalNotification is the notification method this
// implementation treats as "the upstream MCP server considers the
// session permanently gone" — the spec describes the condition
// abstractly ("e.g. session-gone") without naming a wire method, so this
// is a deliberate, documented convention rather than part of MCP core.
const upstreamTerminalNotification = "notifications/session_terminated"

// Daemon is the Bridge Server: it owns the upstream MCP connection for
// one session and multiplexes every locally connected CLI client over
// the session's Unix socket.
type Daemon struct {
	homeDir     string
	input       HandshakeInput
	idleTimeout time.Duration

	registry  *registry.Registry
	auth      *AuthCoordinator
	client    mcpclient.Client
	listener  net.Listener
	logger    io.Closer
	telemetry *telemetry.Recorder

	mu          sync.Mutex
	conns       map[*ipc.Conn]struct{}
	idleTimer   *time.Timer
	inFlight    int64

	shutdownOnce   sync.Once
	shutdownCh     chan struct{}
	shutdownReason string
	terminal       bool
}

// NewDaemon constructs a Daemon for in. idleTimeout of zero selects
// DefaultIdleTimeout.
func NewDaemon(homeDir string, in HandshakeInput, idleTimeout time.Duration) *Daemon {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Daemon{
		homeDir:     homeDir,
		input:       in,
		idleTimeout: idleTimeout,
		registry:    registry.New(homeDir),
		conns:       make(map[*ipc.Conn]struct{}),
		shutdownCh:  make(chan struct{}),
	}
}

// Run executes the full Bridge Server lifecycle from §4.G: open the log,
// build the auth coordinator and MCP client, bind the socket, signal
// readiness on handshakePipe, serve connections, and run until a
// shutdown trigger fires. It returns once shutdown has fully completed.
func (d *Daemon) Run(ctx context.Context, handshakePipe io.WriteCloser) (err error) {
	log.SetVerbose(d.input.Verbose)
	d.logger = rfslog.Open(home.LogPath(d.homeDir, d.input.SessionName))
	defer d.logger.Close()

	rec, err := telemetry.NewRecorder(cliconfig.OTelEnabled(os.LookupEnv))
	if err != nil {
		return err
	}
	d.telemetry = rec

	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if d.input.ProfileName != "" {
		serverURL := ""
		if d.input.Server.HTTP != nil {
			serverURL = d.input.Server.HTTP.URL
		}
		kc := keychain.New(d.homeDir)
		coord, err := NewAuthCoordinator(d.homeDir, kc, serverURL, d.input.ProfileName)
		if err != nil {
			return err
		}
		d.auth = coord
	}

	cfg := d.input.Server
	if cfg.HTTP != nil && len(d.input.Headers) > 0 {
		headersCopy := *cfg.HTTP
		headersCopy.Headers = d.input.Headers
		cfg.HTTP = &headersCopy
	}

	var decorator mcpclient.AuthDecorator
	if d.auth != nil {
		decorator = d.auth.Decorate
	}
	transport, err := mcpclient.BuildTransport(bgCtx, cfg, decorator)
	if err != nil {
		return err
	}

	direct, err := mcpclient.Connect(bgCtx, transport, d.handleUpstreamNotification)
	if err != nil {
		return err
	}
	d.client = direct

	sockPath := home.SocketPath(d.homeDir, d.input.SessionName)
	if err := d.bindSocket(sockPath); err != nil {
		_ = direct.Close()
		return err
	}

	log.Logf("- bridge for %s listening on %s", d.input.SessionName, sockPath)
	if err := signalReady(handshakePipe); err != nil {
		return err
	}

	go d.acceptLoop(bgCtx)
	d.armIdleTimer()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		d.requestShutdown("parent context canceled", false)
	case sig := <-sigCh:
		d.requestShutdown("received signal "+sig.String(), false)
	case <-d.shutdownCh:
	}

	return d.doShutdown(sockPath)
}

func (d *Daemon) bindSocket(sockPath string) error {
	if err := os.MkdirAll(home.SocketParentDir(d.homeDir), 0o700); err != nil {
		return mcpcerr.WrapClient("creating bridges directory", err)
	}
	if err := d.removeStaleSocket(sockPath); err != nil {
		return err
	}
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return mcpcerr.WrapTransport("binding bridge socket", err)
	}
	if err := os.Chmod(sockPath, 0o600); err != nil {
		ln.Close()
		return mcpcerr.WrapClient("chmod bridge socket", err)
	}
	d.listener = ln
	return nil
}

// removeStaleSocket deletes a leftover socket file only once it has
// verified the session's last-known PID is not a live process — never
// blind-deletes a socket a running bridge might still own.
func (d *Daemon) removeStaleSocket(sockPath string) error {
	if _, err := os.Stat(sockPath); os.IsNotExist(err) {
		return nil
	}
	rec, err := d.registry.Get(d.input.SessionName)
	if err == nil && rec.PID != 0 && registry.IsProcessAlive(rec.PID) {
		return mcpcerr.NewClient("a live bridge already owns the socket for " + d.input.SessionName)
	}
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return mcpcerr.WrapClient("removing stale bridge socket", err)
	}
	return nil
}

func (d *Daemon) acceptLoop(ctx context.Context) {
	for {
		netConn, err := d.listener.Accept()
		if err != nil {
			return
		}
		go d.handleConn(ctx, netConn)
	}
}

func (d *Daemon) handleConn(ctx context.Context, netConn net.Conn) {
	conn := ipc.NewConn(netConn, nil)
	d.addConn(conn)
	defer d.removeConn(conn)

	_ = conn.Serve(func(msg ipc.Message) {
		// Each message is dispatched on its own goroutine so a slow
		// request (e.g. a long callTool) never blocks the read loop
		// from picking up the next frame: a connection can have many
		// requests in flight at once, and responses may complete out
		// of the order their requests arrived in.
		go d.dispatchRequest(ctx, conn, msg)
	})
}

func (d *Daemon) addConn(c *ipc.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[c] = struct{}{}
	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}
}

func (d *Daemon) removeConn(c *ipc.Conn) {
	d.mu.Lock()
	delete(d.conns, c)
	empty := len(d.conns) == 0
	d.mu.Unlock()
	if empty {
		d.armIdleTimer()
	}
}

func (d *Daemon) armIdleTimer() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(d.idleTimeout, func() {
		d.requestShutdown("idle timeout", false)
	})
}

func (d *Daemon) dispatchRequest(ctx context.Context, conn *ipc.Conn, msg ipc.Message) {
	switch msg.Type {
	case ipc.TypeShutdown:
		_ = conn.Send(ipc.Message{Type: ipc.TypeResponse, ID: msg.ID})
		d.requestShutdown("client requested shutdown", false)

	case ipc.TypeSetAuthCredentials:
		if d.auth != nil && msg.RefreshToken != "" {
			d.auth.SetRefreshToken(msg.RefreshToken)
		}
		_ = conn.Send(ipc.Message{Type: ipc.TypeResponse, ID: msg.ID})

	case ipc.TypeRequest:
		d.handleRequest(ctx, conn, msg)
	}
}

func (d *Daemon) handleRequest(ctx context.Context, conn *ipc.Conn, msg ipc.Message) {
	atomic.AddInt64(&d.inFlight, 1)
	defer atomic.AddInt64(&d.inFlight, -1)

	reqCtx, cancel := context.WithTimeout(ctx, d.requestTimeout())
	defer cancel()

	start := time.Now()
	result, err := dispatch(reqCtx, d.client, msg.Method, msg.Params)
	d.telemetry.RecordRequest(ctx, msg.Method, err, time.Since(start))
	if err != nil {
		if isShutdownRace(err) {
			return
		}
		_ = conn.Send(ipc.NewError(msg.ID, errorPayload(err)))
		return
	}

	resp, err := ipc.NewResult(msg.ID, result)
	if err != nil {
		_ = conn.Send(ipc.NewError(msg.ID, errorPayload(mcpcerr.WrapTransport("encoding response", err))))
		return
	}
	_ = conn.Send(resp)
}

func (d *Daemon) requestTimeout() time.Duration {
	if d.input.Server.HTTP != nil && d.input.Server.HTTP.TimeoutS > 0 {
		return time.Duration(d.input.Server.HTTP.TimeoutS) * time.Second
	}
	return defaultRequestTimeout
}

// handleUpstreamNotification is installed as the MCP client's
// notification callback: every server-push is fanned out to every
// connected CLI, and the one convention-designated terminal method also
// triggers a terminal shutdown (status=expired).
func (d *Daemon) handleUpstreamNotification(method string, params []byte) {
	d.broadcastNotification(method, params)
	if method == upstreamTerminalNotification {
		d.requestShutdown("upstream signalled session terminated", true)
	}
}

func (d *Daemon) broadcastNotification(method string, params []byte) {
	d.mu.Lock()
	conns := make([]*ipc.Conn, 0, len(d.conns))
	for c := range d.conns {
		conns = append(conns, c)
	}
	d.mu.Unlock()

	msg := ipc.NewRawNotification(method, json.RawMessage(params))
	for _, c := range conns {
		_ = c.Send(msg)
	}
}

func (d *Daemon) requestShutdown(reason string, terminal bool) {
	d.shutdownOnce.Do(func() {
		d.shutdownReason = reason
		d.terminal = terminal
		close(d.shutdownCh)
	})
}

// doShutdown runs the idempotent shutdown sequence from §4.G step 8:
// stop accepting, drain in-flight requests for up to
// shutdownDrainTimeout, close every connection, close the MCP client,
// remove the socket file, and — for a terminal shutdown — mark the
// session record expired.
func (d *Daemon) doShutdown(sockPath string) error {
	log.Logf("- bridge for %s shutting down: %s", d.input.SessionName, d.shutdownReason)

	if d.listener != nil {
		_ = d.listener.Close()
	}

	deadline := time.Now().Add(shutdownDrainTimeout)
	for time.Now().Before(deadline) {
		if atomic.LoadInt64(&d.inFlight) == 0 {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}

	d.mu.Lock()
	conns := make([]*ipc.Conn, 0, len(d.conns))
	for c := range d.conns {
		conns = append(conns, c)
	}
	d.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}

	if d.client != nil {
		_ = d.client.Close()
	}
	_ = os.Remove(sockPath)

	if d.terminal {
		_ = d.registry.MarkExpired(d.input.SessionName)
	}

	return nil
}

// isShutdownRace recognizes the handful of error strings that show up
// only because the daemon and a client raced against a shutdown, so
// they should be swallowed rather than logged as real failures.
func isShutdownRace(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"not connected", "context canceled", "failed to send error response", "use of closed network connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// errorPayload classifies err into the IPC error taxonomy so the
// session client can decide retry eligibility without string matching.
func errorPayload(err error) ipc.ErrorPayload {
	switch e := err.(type) {
	case *mcpcerr.ServerError:
		return ipc.ErrorPayload{Code: e.Code, Message: e.Error(), Kind: "server", Data: e.Data}
	case *mcpcerr.TransportError:
		return ipc.ErrorPayload{Code: mcpcerr.ExitTransport, Message: e.Error(), Kind: "transport"}
	case *mcpcerr.AuthError:
		return ipc.ErrorPayload{Code: mcpcerr.ExitAuth, Message: e.Error(), Kind: "auth", Reauth: e.Reauth}
	case *mcpcerr.ClientError:
		return ipc.ErrorPayload{Code: mcpcerr.ExitClient, Message: e.Error(), Kind: "client"}
	default:
		return ipc.ErrorPayload{Code: mcpcerr.ExitClient, Message: err.Error(), Kind: "client"}
	}
}
