package mcpclient

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServerDetails is the cached snapshot gathered once at connect time:
// serverInfo, capabilities, instructions, and the negotiated protocol
// version. getServerDetails never round-trips to the upstream server.
type ServerDetails struct {
	ServerInfo      *mcp.Implementation    `json:"serverInfo,omitempty"`
	Capabilities    *mcp.ServerCapabilities `json:"capabilities,omitempty"`
	Instructions    string                 `json:"instructions,omitempty"`
	ProtocolVersion string                 `json:"protocolVersion,omitempty"`
}

// Client is the capability set every MCP-client implementation exposes,
// whether it drives the upstream connection directly (inside a bridge)
// or forwards each call over IPC to a bridge (the session client). This
// is deliberately a flat method set rather than a type hierarchy: a
// tagged-variant-over-interface shape, not inheritance.
type Client interface {
	Ping(ctx context.Context) error
	GetServerDetails(ctx context.Context) (ServerDetails, error)
	ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	ListResources(ctx context.Context, params *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error)
	ListResourceTemplates(ctx context.Context, params *mcp.ListResourceTemplatesParams) (*mcp.ListResourceTemplatesResult, error)
	ReadResource(ctx context.Context, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error)
	SubscribeResource(ctx context.Context, params *mcp.SubscribeParams) error
	UnsubscribeResource(ctx context.Context, params *mcp.UnsubscribeParams) error
	ListPrompts(ctx context.Context, params *mcp.ListPromptsParams) (*mcp.ListPromptsResult, error)
	GetPrompt(ctx context.Context, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error)
	SetLoggingLevel(ctx context.Context, params *mcp.SetLoggingLevelParams) error
	Close() error
}

// NotificationHandler is invoked for every server-push notification a
// Client's upstream connection delivers. Installed once per Client at
// construction time.
type NotificationHandler func(method string, params []byte)
