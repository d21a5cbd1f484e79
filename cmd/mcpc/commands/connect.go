package commands

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mcpc-dev/mcpc/pkg/bridge"
	"github.com/mcpc-dev/mcpc/pkg/cliconfig"
	"github.com/mcpc-dev/mcpc/pkg/home"
	"github.com/mcpc-dev/mcpc/pkg/keychain"
	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
	"github.com/mcpc-dev/mcpc/pkg/mcpclient"
	"github.com/mcpc-dev/mcpc/pkg/registry"
)

func connectCommand(resolve resolveFunc) *cobra.Command {
	var opts struct {
		command string
		headers []string
		profile string
	}

	cmd := &cobra.Command{
		Use:   "connect <@session> <command|url>",
		Short: "Open a named session against an MCP server, starting its bridge if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolve()
			if err != nil {
				return err
			}
			return runConnect(cmd, cfg, args[0], args[1], opts.command, opts.headers, opts.profile)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.command, "args", "", "Extra arguments to append to the stdio command, space-separated")
	addHeaderFlag(flags, &opts.headers)
	flags.StringVar(&opts.profile, "profile", "", "OAuth profile name to attach (see mcpc login)")
	return cmd
}

func addHeaderFlag(flags *pflag.FlagSet, p *[]string) {
	flags.StringArrayVar(p, "header", nil, "HTTP header to send, as Name: Value (repeatable)")
}

func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, mcpcerr.NewClient("invalid --header " + h + ": expected Name: Value")
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return headers, nil
}

func runConnect(cmd *cobra.Command, cfg cliconfig.Config, sessionName, target, extraArgs string, rawHeaders []string, profile string) error {
	if err := home.ValidateSessionName(sessionName); err != nil {
		return err
	}
	if _, err := home.EnsureDirs(); err != nil {
		return err
	}

	headers, err := parseHeaders(rawHeaders)
	if err != nil {
		return err
	}

	var server mcpclient.ServerConfig
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		server.HTTP = &mcpclient.HTTPConfig{URL: target, Headers: mcpclient.RedactedHeaders(headers)}
	} else {
		var args []string
		if extraArgs != "" {
			args = strings.Fields(extraArgs)
		}
		server.Stdio = &mcpclient.StdioConfig{Command: target, Args: args}
	}
	if err := server.Validate(); err != nil {
		return err
	}

	reg := registry.New(cfg.HomeDir)
	if _, err := reg.Create(sessionName, server, profile); err != nil {
		return err
	}

	if server.HTTP != nil && len(headers) > 0 {
		kc := keychain.New(cfg.HomeDir)
		if err := keychain.SaveSessionHeaders(kc, sessionName, headers); err != nil {
			return err
		}
	}

	pid, err := bridge.StartBridge(cmd.Context(), bridge.StartOptions{
		HomeDir:     cfg.HomeDir,
		SessionName: sessionName,
		Server:      server,
		Headers:     headers,
		ProfileName: profile,
		Verbose:     cfg.Verbose,
	})
	if err != nil {
		return err
	}
	if err := reg.SetPID(sessionName, pid); err != nil {
		return err
	}

	_, err = cmd.OutOrStdout().Write([]byte("connected " + sessionName + "\n"))
	return err
}
