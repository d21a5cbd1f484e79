package commands

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/mcpc-dev/mcpc/pkg/cliconfig"
	"github.com/mcpc-dev/mcpc/pkg/keychain"
	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
	"github.com/mcpc-dev/mcpc/pkg/output"
	"github.com/mcpc-dev/mcpc/pkg/sessionclient"
)

// callCommands returns the commands that talk to an already-connected
// session: ping, tools, resources, prompts. Each opens a short-lived
// sessionclient.Client for the one call and closes it before returning.
func callCommands(resolve resolveFunc) []*cobra.Command {
	return []*cobra.Command{
		pingCommand(resolve),
		toolsCommand(resolve),
		resourcesCommand(resolve),
		promptsCommand(resolve),
	}
}

func withSessionClient(resolve resolveFunc, sessionName string, fn func(cfg cliconfig.Config, client *sessionclient.Client) error) error {
	cfg, err := resolve()
	if err != nil {
		return err
	}
	kc := keychain.New(cfg.HomeDir)
	client := sessionclient.New(cfg.HomeDir, sessionName, kc, nil)
	defer client.Close()
	return fn(cfg, client)
}

func pingCommand(resolve resolveFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping <@session>",
		Short: "Ping a session's upstream MCP server through its bridge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionClient(resolve, args[0], func(_ cliconfig.Config, client *sessionclient.Client) error {
				if err := client.Ping(cmd.Context()); err != nil {
					return err
				}
				_, err := cmd.OutOrStdout().Write([]byte("pong\n"))
				return err
			})
		},
	}
	return cmd
}

func toolsCommand(resolve resolveFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "tools", Short: "List or call a session's tools"}
	cmd.AddCommand(toolsListCommand(resolve))
	cmd.AddCommand(toolsCallCommand(resolve))
	return cmd
}

func toolsListCommand(resolve resolveFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <@session>",
		Short: "List the tools a session's upstream server exposes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionClient(resolve, args[0], func(cfg cliconfig.Config, client *sessionclient.Client) error {
				res, err := client.ListTools(cmd.Context(), &mcp.ListToolsParams{})
				if err != nil {
					return err
				}
				if cfg.JSON {
					return output.JSONRenderer{}.Render(cmd.OutOrStdout(), res)
				}
				table := output.Table{Headers: []string{"NAME", "DESCRIPTION"}}
				for _, t := range res.Tools {
					table.Rows = append(table.Rows, []string{t.Name, t.Description})
				}
				return output.HumanRenderer{}.Render(cmd.OutOrStdout(), table)
			})
		},
	}
	return cmd
}

func toolsCallCommand(resolve resolveFunc) *cobra.Command {
	var argsJSON string
	cmd := &cobra.Command{
		Use:   "call <@session> <tool> [--args '{...}']",
		Short: "Call one tool on a session's upstream server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var toolArgs map[string]any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &toolArgs); err != nil {
					return mcpcerr.WrapClient("parsing --args as JSON", err)
				}
			}
			return withSessionClient(resolve, args[0], func(cfg cliconfig.Config, client *sessionclient.Client) error {
				res, err := client.CallTool(cmd.Context(), &mcp.CallToolParams{Name: args[1], Arguments: toolArgs})
				if err != nil {
					return err
				}
				return output.For(cfg.JSON).Render(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "", "Tool arguments as a JSON object")
	return cmd
}

func resourcesCommand(resolve resolveFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "resources", Short: "List or read a session's resources"}
	cmd.AddCommand(resourcesListCommand(resolve))
	cmd.AddCommand(resourcesReadCommand(resolve))
	return cmd
}

func resourcesListCommand(resolve resolveFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <@session>",
		Short: "List the resources a session's upstream server exposes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionClient(resolve, args[0], func(cfg cliconfig.Config, client *sessionclient.Client) error {
				res, err := client.ListResources(cmd.Context(), &mcp.ListResourcesParams{})
				if err != nil {
					return err
				}
				if cfg.JSON {
					return output.JSONRenderer{}.Render(cmd.OutOrStdout(), res)
				}
				table := output.Table{Headers: []string{"URI", "NAME", "MIME-TYPE"}}
				for _, r := range res.Resources {
					table.Rows = append(table.Rows, []string{r.URI, r.Name, r.MIMEType})
				}
				return output.HumanRenderer{}.Render(cmd.OutOrStdout(), table)
			})
		},
	}
	return cmd
}

func resourcesReadCommand(resolve resolveFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <@session> <uri>",
		Short: "Read one resource from a session's upstream server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionClient(resolve, args[0], func(cfg cliconfig.Config, client *sessionclient.Client) error {
				res, err := client.ReadResource(cmd.Context(), &mcp.ReadResourceParams{URI: args[1]})
				if err != nil {
					return err
				}
				return output.For(cfg.JSON).Render(cmd.OutOrStdout(), res)
			})
		},
	}
	return cmd
}

func promptsCommand(resolve resolveFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "prompts", Short: "List or get a session's prompts"}
	cmd.AddCommand(promptsListCommand(resolve))
	cmd.AddCommand(promptsGetCommand(resolve))
	return cmd
}

func promptsListCommand(resolve resolveFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <@session>",
		Short: "List the prompts a session's upstream server exposes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionClient(resolve, args[0], func(cfg cliconfig.Config, client *sessionclient.Client) error {
				res, err := client.ListPrompts(cmd.Context(), &mcp.ListPromptsParams{})
				if err != nil {
					return err
				}
				if cfg.JSON {
					return output.JSONRenderer{}.Render(cmd.OutOrStdout(), res)
				}
				table := output.Table{Headers: []string{"NAME", "DESCRIPTION"}}
				for _, p := range res.Prompts {
					table.Rows = append(table.Rows, []string{p.Name, p.Description})
				}
				return output.HumanRenderer{}.Render(cmd.OutOrStdout(), table)
			})
		},
	}
	return cmd
}

func promptsGetCommand(resolve resolveFunc) *cobra.Command {
	var argsJSON string
	cmd := &cobra.Command{
		Use:   "get <@session> <prompt> [--args '{...}']",
		Short: "Render one prompt from a session's upstream server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var promptArgs map[string]string
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &promptArgs); err != nil {
					return mcpcerr.WrapClient("parsing --args as JSON", err)
				}
			}
			return withSessionClient(resolve, args[0], func(cfg cliconfig.Config, client *sessionclient.Client) error {
				res, err := client.GetPrompt(cmd.Context(), &mcp.GetPromptParams{Name: args[1], Arguments: promptArgs})
				if err != nil {
					return err
				}
				return output.For(cfg.JSON).Render(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "", "Prompt arguments as a JSON object of strings")
	return cmd
}
