package bridge

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
	"github.com/mcpc-dev/mcpc/pkg/mcpclient"
)

// dispatch decodes params for method, invokes the matching Client
// method, and returns its result ready for JSON encoding. It is the one
// place that knows the full IPC method surface from §6.
func dispatch(ctx context.Context, client mcpclient.Client, method string, params json.RawMessage) (any, error) {
	switch method {
	case "ping":
		return nil, client.Ping(ctx)

	case "getServerDetails":
		return client.GetServerDetails(ctx)

	case "listTools":
		var p mcp.ListToolsParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return client.ListTools(ctx, &p)

	case "callTool":
		var p mcp.CallToolParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return client.CallTool(ctx, &p)

	case "listResources":
		var p mcp.ListResourcesParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return client.ListResources(ctx, &p)

	case "listResourceTemplates":
		var p mcp.ListResourceTemplatesParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return client.ListResourceTemplates(ctx, &p)

	case "readResource":
		var p mcp.ReadResourceParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return client.ReadResource(ctx, &p)

	case "subscribeResource":
		var p mcp.SubscribeParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return nil, client.SubscribeResource(ctx, &p)

	case "unsubscribeResource":
		var p mcp.UnsubscribeParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return nil, client.UnsubscribeResource(ctx, &p)

	case "listPrompts":
		var p mcp.ListPromptsParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return client.ListPrompts(ctx, &p)

	case "getPrompt":
		var p mcp.GetPromptParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return client.GetPrompt(ctx, &p)

	case "setLoggingLevel":
		var p mcp.SetLoggingLevelParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return nil, client.SetLoggingLevel(ctx, &p)

	default:
		return nil, mcpcerr.NewClient("unknown IPC method " + method)
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return mcpcerr.WrapClient("decoding params", err)
	}
	return nil
}
