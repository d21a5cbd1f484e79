// Package commands wires the mcpc cobra command tree, one file per
// noun, the way the reference stack groups its own CLI subcommands.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpc-dev/mcpc/pkg/bridge"
	"github.com/mcpc-dev/mcpc/pkg/cliconfig"
)

// version is overwritten at build time via -ldflags "-X ...version=...".
var version = "dev"

type globalFlags struct {
	homeDir string
	verbose bool
	json    bool
}

// Execute builds the root command and runs it against os.Args.
func Execute() error {
	return newRootCommand().Execute()
}

func newRootCommand() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "mcpc",
		Short:         "Command-line client for the Model Context Protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.homeDir, "home-dir", "", "mcpc home directory (default $MCPC_HOME_DIR or ~/.mcpc)")
	pf.BoolVar(&flags.verbose, "verbose", false, "Verbose diagnostic logging")
	pf.BoolVar(&flags.json, "json", false, "Print machine-readable JSON instead of human text")

	resolve := func() (cliconfig.Config, error) {
		return cliconfig.Resolve(
			flags.homeDir, pf.Changed("home-dir"),
			flags.verbose, pf.Changed("verbose"),
			flags.json, pf.Changed("json"),
			os.LookupEnv,
		)
	}

	root.AddCommand(connectCommand(resolve))
	root.AddCommand(sessionsCommand(resolve))
	root.AddCommand(closeCommand(resolve))
	root.AddCommand(disconnectCommand(resolve))
	root.AddCommand(loginCommand(resolve))
	root.AddCommand(logoutCommand(resolve))
	root.AddCommand(callCommands(resolve)...)
	root.AddCommand(versionCommand())
	root.AddCommand(bridgeDaemonCommand())

	return root
}

// bridgeDaemonCommand is the hidden entry point startBridge re-execs
// itself into. It takes no flags or arguments: every bit of
// configuration travels over stdin (the handshake blob) and the
// inherited readiness pipe at fd 3, so a running bridge never shows
// session details on the process command line.
func bridgeDaemonCommand() *cobra.Command {
	return &cobra.Command{
		Use:    bridge.BridgeEntrypointArg,
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return bridge.RunDaemonFromStdin(cmd.Context())
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mcpc version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write([]byte(version + "\n"))
			return err
		},
	}
}

// resolveFunc is bound by each command's RunE to pick up --home-dir /
// --verbose / --json with flag > env > default precedence.
type resolveFunc func() (cliconfig.Config, error)
