package commands

import (
	"github.com/spf13/cobra"

	"github.com/mcpc-dev/mcpc/pkg/bridge"
	"github.com/mcpc-dev/mcpc/pkg/keychain"
	"github.com/mcpc-dev/mcpc/pkg/registry"
)

func closeCommand(resolve resolveFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <@session>",
		Short: "Stop a session's bridge and remove it from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolve()
			if err != nil {
				return err
			}
			return runClose(cmd, cfg.HomeDir, args[0])
		},
	}
	return cmd
}

// disconnectCommand stops a session's bridge without forgetting the
// session: unlike close, the registry entry survives, so a later
// command against the same name transparently restarts the bridge
// instead of requiring a fresh connect.
func disconnectCommand(resolve resolveFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disconnect <@session>",
		Short: "Stop a session's bridge, keeping the session registered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolve()
			if err != nil {
				return err
			}
			if err := bridge.StopBridge(cmd.Context(), cfg.HomeDir, args[0]); err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write([]byte("disconnected " + args[0] + "\n"))
			return err
		},
	}
	return cmd
}

// runClose is idempotent, matching the close(x) twice law: closing an
// already-closed or never-opened session is not an error.
func runClose(cmd *cobra.Command, homeDir, sessionName string) error {
	if err := bridge.StopBridge(cmd.Context(), homeDir, sessionName); err != nil {
		return err
	}
	reg := registry.New(homeDir)
	if err := reg.Delete(sessionName); err != nil {
		return err
	}
	kc := keychain.New(homeDir)
	_ = keychain.DeleteSessionHeaders(kc, sessionName)

	_, err := cmd.OutOrStdout().Write([]byte("closed " + sessionName + "\n"))
	return err
}
