// Command mcpc is the Model Context Protocol client: it talks to a
// remote or local MCP server either one-shot or through a persistent,
// named session backed by a background bridge daemon.
package main

import (
	"fmt"
	"os"

	"github.com/mcpc-dev/mcpc/cmd/mcpc/commands"
	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mcpc:", err)
		os.Exit(mcpcerr.CodeOf(err))
	}
}
