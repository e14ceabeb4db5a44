// Command stagegrade checks exercise files and serves attempts to agents
// over MCP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "stagegrade",
		Short: "Author and grade staged exercises",
		Long: `stagegrade works with exercise graphs of multiple choice, fill-in and
R code stages. The daemon (stagegraded) grades attempts; this tool checks
exercise files and runs an MCP server for agents.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newValidateCmd(), newFmtCmd(), newWeightsCmd(), newMCPCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
