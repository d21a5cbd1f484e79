// Package sessionclient implements the IPC-backed MCP-client shim: every
// Client method is forwarded as a request to the session's bridge
// daemon, with one-shot reconnect-and-retry when (and only when) the
// failure is a transport error.
package sessionclient

import (
	"context"
	"encoding/json"
	"net"
	"sync"

	"github.com/docker/docker-credential-helpers/credentials"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpc-dev/mcpc/pkg/bridge"
	"github.com/mcpc-dev/mcpc/pkg/ipc"
	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
	"github.com/mcpc-dev/mcpc/pkg/mcpclient"
)

// Client is a session-bound mcpclient.Client backed by a bridge socket.
// It lazily dials on first use and re-dials once after a transport
// failure, matching §4.J's "never retried except transport" policy.
type Client struct {
	homeDir         string
	sessionName     string
	kc              credentials.Helper
	onNotification  mcpclient.NotificationHandler

	mu   sync.Mutex
	conn *ipc.Conn
}

var _ mcpclient.Client = (*Client)(nil)

// New returns a session client for sessionName. onNotification, if
// non-nil, receives every server-push the bridge fans out over this
// connection; it is re-installed transparently across a reconnect.
func New(homeDir, sessionName string, kc credentials.Helper, onNotification mcpclient.NotificationHandler) *Client {
	return &Client{homeDir: homeDir, sessionName: sessionName, kc: kc, onNotification: onNotification}
}

// Close tears down the underlying IPC connection, if any. It does not
// stop the bridge daemon — other clients or a later command may still
// want it running.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) getConn(ctx context.Context) (*ipc.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}

	sockPath, err := bridge.EnsureBridgeReady(ctx, c.homeDir, c.sessionName, c.kc)
	if err != nil {
		return nil, err
	}
	netConn, err := net.Dial("unix", sockPath)
	if err != nil {
		return nil, mcpcerr.WrapTransport("dialing bridge socket", err)
	}

	conn := ipc.NewConn(netConn, c.onNotification)
	go func() { _ = conn.Serve(nil) }()
	c.conn = conn
	return conn, nil
}

// dropConn discards a connection that just failed so the next call
// re-dials instead of reusing a dead stream.
func (c *Client) dropConn(failed *ipc.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == failed {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.callWithRetry(ctx, method, params, true)
}

func (c *Client) callWithRetry(ctx context.Context, method string, params any, allowRetry bool) (json.RawMessage, error) {
	conn, err := c.getConn(ctx)
	if err != nil {
		return nil, err
	}

	req, err := ipc.NewRequest(conn.NextID(), method, params)
	if err != nil {
		return nil, mcpcerr.WrapClient("encoding IPC request", err)
	}

	resp, err := conn.Call(req, ctx.Done())
	if err != nil {
		c.dropConn(conn)
		if allowRetry && mcpcerr.IsTransport(err) {
			if _, rerr := bridge.RestartBridge(ctx, c.homeDir, c.sessionName, c.kc); rerr != nil {
				return nil, rerr
			}
			return c.callWithRetry(ctx, method, params, false)
		}
		return nil, err
	}

	if resp.Error != nil {
		err := errFromPayload(*resp.Error)
		if allowRetry && mcpcerr.IsTransport(err) {
			c.dropConn(conn)
			if _, rerr := bridge.RestartBridge(ctx, c.homeDir, c.sessionName, c.kc); rerr != nil {
				return nil, rerr
			}
			return c.callWithRetry(ctx, method, params, false)
		}
		return nil, err
	}
	return resp.Result, nil
}

func errFromPayload(e ipc.ErrorPayload) error {
	switch e.Kind {
	case "server":
		return mcpcerr.NewServer(e.Code, e.Message, e.Data)
	case "transport":
		return mcpcerr.NewTransport(e.Message)
	case "auth":
		return mcpcerr.NewAuth(e.Message, e.Reauth)
	default:
		return mcpcerr.NewClient(e.Message)
	}
}

func decodeResult[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		var zero T
		return zero, mcpcerr.WrapTransport("decoding bridge response", err)
	}
	return out, nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "ping", nil)
	return err
}

func (c *Client) GetServerDetails(ctx context.Context) (mcpclient.ServerDetails, error) {
	raw, err := c.call(ctx, "getServerDetails", nil)
	if err != nil {
		return mcpclient.ServerDetails{}, err
	}
	return decodeResult[mcpclient.ServerDetails](raw)
}

func (c *Client) ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	raw, err := c.call(ctx, "listTools", params)
	if err != nil {
		return nil, err
	}
	return decodeResult[*mcp.ListToolsResult](raw)
}

func (c *Client) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	raw, err := c.call(ctx, "callTool", params)
	if err != nil {
		return nil, err
	}
	return decodeResult[*mcp.CallToolResult](raw)
}

func (c *Client) ListResources(ctx context.Context, params *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error) {
	raw, err := c.call(ctx, "listResources", params)
	if err != nil {
		return nil, err
	}
	return decodeResult[*mcp.ListResourcesResult](raw)
}

func (c *Client) ListResourceTemplates(ctx context.Context, params *mcp.ListResourceTemplatesParams) (*mcp.ListResourceTemplatesResult, error) {
	raw, err := c.call(ctx, "listResourceTemplates", params)
	if err != nil {
		return nil, err
	}
	return decodeResult[*mcp.ListResourceTemplatesResult](raw)
}

func (c *Client) ReadResource(ctx context.Context, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error) {
	raw, err := c.call(ctx, "readResource", params)
	if err != nil {
		return nil, err
	}
	return decodeResult[*mcp.ReadResourceResult](raw)
}

func (c *Client) SubscribeResource(ctx context.Context, params *mcp.SubscribeParams) error {
	_, err := c.call(ctx, "subscribeResource", params)
	return err
}

func (c *Client) UnsubscribeResource(ctx context.Context, params *mcp.UnsubscribeParams) error {
	_, err := c.call(ctx, "unsubscribeResource", params)
	return err
}

func (c *Client) ListPrompts(ctx context.Context, params *mcp.ListPromptsParams) (*mcp.ListPromptsResult, error) {
	raw, err := c.call(ctx, "listPrompts", params)
	if err != nil {
		return nil, err
	}
	return decodeResult[*mcp.ListPromptsResult](raw)
}

func (c *Client) GetPrompt(ctx context.Context, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error) {
	raw, err := c.call(ctx, "getPrompt", params)
	if err != nil {
		return nil, err
	}
	return decodeResult[*mcp.GetPromptResult](raw)
}

func (c *Client) SetLoggingLevel(ctx context.Context, params *mcp.SetLoggingLevelParams) error {
	_, err := c.call(ctx, "setLoggingLevel", params)
	return err
}

// PushAuthCredentials sends a set-auth-credentials message carrying
// headers and an OAuth refresh token to a live bridge without forcing a
// restart. The bridge installs a non-empty refresh token in its token
// manager; it does not apply the headers to its running transport.
func (c *Client) PushAuthCredentials(ctx context.Context, headers map[string]string, refreshToken string) error {
	conn, err := c.getConn(ctx)
	if err != nil {
		return err
	}
	return conn.Send(ipc.NewSetAuthCredentials(headers, refreshToken))
}
