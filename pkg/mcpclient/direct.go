package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
)

// DirectClient drives the upstream MCP connection directly; it is what
// a bridge daemon constructs from a ServerConfig via BuildTransport.
// Every Client method on it except GetServerDetails, which returns the
// snapshot taken at connect time, round-trips to the real remote server.
type DirectClient struct {
	session *mcp.ClientSession
	details ServerDetails
}

var _ Client = (*DirectClient)(nil)

// ClientName and ClientVersion identify this program to upstream MCP
// servers during initialize.
const (
	ClientName    = "mcpc"
	ClientVersion = "0.1.0"
)

// Connect builds an mcp.Client, connects it over transport, and snapshots
// the server's details. onNotification is invoked for every
// list-changed / logging-message push the upstream server emits.
func Connect(ctx context.Context, transport mcp.Transport, onNotification NotificationHandler) (*DirectClient, error) {
	var notifyMu sync.Mutex
	notify := func(method string, params any) {
		if onNotification == nil {
			return
		}
		raw, err := json.Marshal(params)
		if err != nil {
			return
		}
		notifyMu.Lock()
		defer notifyMu.Unlock()
		onNotification(method, raw)
	}

	client := mcp.NewClient(
		&mcp.Implementation{Name: ClientName, Version: ClientVersion},
		&mcp.ClientOptions{
			ToolListChangedHandler: func(_ context.Context, req *mcp.ToolListChangedRequest) {
				notify("notifications/tools/list_changed", req)
			},
			PromptListChangedHandler: func(_ context.Context, req *mcp.PromptListChangedRequest) {
				notify("notifications/prompts/list_changed", req)
			},
			ResourceListChangedHandler: func(_ context.Context, req *mcp.ResourceListChangedRequest) {
				notify("notifications/resources/list_changed", req)
			},
			LoggingMessageHandler: func(_ context.Context, req *mcp.LoggingMessageRequest) {
				notify("notifications/message", req)
			},
		},
	)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, mcpcerr.WrapTransport("connecting to MCP server", err)
	}

	dc := &DirectClient{session: session}
	dc.details = ServerDetails{
		ServerInfo:      session.InitializeResult().ServerInfo,
		Capabilities:    session.InitializeResult().Capabilities,
		Instructions:    session.InitializeResult().Instructions,
		ProtocolVersion: session.InitializeResult().ProtocolVersion,
	}
	return dc, nil
}

func (c *DirectClient) Ping(ctx context.Context) error {
	if err := c.session.Ping(ctx, nil); err != nil {
		return mcpcerr.WrapTransport("ping", err)
	}
	return nil
}

func (c *DirectClient) GetServerDetails(ctx context.Context) (ServerDetails, error) {
	return c.details, nil
}

func (c *DirectClient) ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	res, err := c.session.ListTools(ctx, params)
	return res, wrapUpstream("listTools", err)
}

func (c *DirectClient) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	res, err := c.session.CallTool(ctx, params)
	return res, wrapUpstream("callTool", err)
}

func (c *DirectClient) ListResources(ctx context.Context, params *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error) {
	res, err := c.session.ListResources(ctx, params)
	return res, wrapUpstream("listResources", err)
}

func (c *DirectClient) ListResourceTemplates(ctx context.Context, params *mcp.ListResourceTemplatesParams) (*mcp.ListResourceTemplatesResult, error) {
	res, err := c.session.ListResourceTemplates(ctx, params)
	return res, wrapUpstream("listResourceTemplates", err)
}

func (c *DirectClient) ReadResource(ctx context.Context, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error) {
	res, err := c.session.ReadResource(ctx, params)
	return res, wrapUpstream("readResource", err)
}

func (c *DirectClient) SubscribeResource(ctx context.Context, params *mcp.SubscribeParams) error {
	return wrapUpstream("subscribeResource", c.session.Subscribe(ctx, params))
}

func (c *DirectClient) UnsubscribeResource(ctx context.Context, params *mcp.UnsubscribeParams) error {
	return wrapUpstream("unsubscribeResource", c.session.Unsubscribe(ctx, params))
}

func (c *DirectClient) ListPrompts(ctx context.Context, params *mcp.ListPromptsParams) (*mcp.ListPromptsResult, error) {
	res, err := c.session.ListPrompts(ctx, params)
	return res, wrapUpstream("listPrompts", err)
}

func (c *DirectClient) GetPrompt(ctx context.Context, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error) {
	res, err := c.session.GetPrompt(ctx, params)
	return res, wrapUpstream("getPrompt", err)
}

func (c *DirectClient) SetLoggingLevel(ctx context.Context, params *mcp.SetLoggingLevelParams) error {
	return wrapUpstream("setLoggingLevel", c.session.SetLoggingLevel(ctx, params))
}

func (c *DirectClient) Close() error {
	return c.session.Close()
}

// wrapUpstream classifies an error returned by the go-sdk client
// session: anything the server itself rejected is a ServerError (never
// retried); anything else (closed connection, context deadline) is a
// TransportError eligible for the session client's one-shot reconnect.
func wrapUpstream(op string, err error) error {
	if err == nil {
		return nil
	}
	var jsonrpcErr *mcp.WireError
	if isJSONRPCError(err, &jsonrpcErr) {
		return mcpcerr.NewServer(jsonrpcErr.Code, jsonrpcErr.Message, jsonrpcErr.Data)
	}
	return mcpcerr.WrapTransport(op, err)
}

func isJSONRPCError(err error, target **mcp.WireError) bool {
	return errors.As(err, target)
}
