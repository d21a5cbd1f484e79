package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcpc-dev/mcpc/pkg/home"
	"github.com/mcpc-dev/mcpc/pkg/keychain"
	"github.com/mcpc-dev/mcpc/pkg/oauthflow"
)

func loginCommand(resolve resolveFunc) *cobra.Command {
	var opts struct {
		profile string
		scopes  []string
	}

	cmd := &cobra.Command{
		Use:   "login <server-url>",
		Short: "Interactively authorize mcpc against an MCP server's OAuth issuer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolve()
			if err != nil {
				return err
			}
			return runLogin(cmd, cfg.HomeDir, args[0], opts.profile, opts.scopes)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.profile, "profile", "default", "Profile name to store the resulting credentials under")
	flags.StringSliceVar(&opts.scopes, "scope", nil, "OAuth scope to request (repeatable)")
	return cmd
}

func runLogin(cmd *cobra.Command, homeDir, serverURL, profile string, scopes []string) error {
	if _, err := home.EnsureDirs(); err != nil {
		return err
	}
	kc := keychain.New(homeDir)
	flow := oauthflow.NewFlow(homeDir, kc)

	authorizeURL, finish, err := flow.BeginLogin(cmd.Context(), serverURL, profile, scopes)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Open this URL to continue:\n\n  %s\n\nWaiting for authorization...\n", authorizeURL)

	prof, err := finish(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Authenticated profile %q for %s\n", prof.Name, prof.ServerURL)
	return nil
}

func logoutCommand(resolve resolveFunc) *cobra.Command {
	var profile string
	cmd := &cobra.Command{
		Use:   "logout <server-url>",
		Short: "Remove a profile's stored OAuth credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolve()
			if err != nil {
				return err
			}
			return runLogout(cmd, cfg.HomeDir, args[0], profile)
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "default", "Profile name to remove")
	return cmd
}

func runLogout(cmd *cobra.Command, homeDir, serverURL, profile string) error {
	kc := keychain.New(homeDir)
	flow := oauthflow.NewFlow(homeDir, kc)
	if err := flow.Logout(normalizeServerURL(serverURL), profile); err != nil {
		return err
	}
	_, err := cmd.OutOrStdout().Write([]byte("logged out " + profile + "@" + serverURL + "\n"))
	return err
}

func normalizeServerURL(s string) string { return strings.TrimSuffix(s, "/") }
