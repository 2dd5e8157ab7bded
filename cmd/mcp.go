package cmd

import (
	"github.com/huangsam/tsmine/internal/iocache"
	"github.com/huangsam/tsmine/internal/mcp"
	"github.com/spf13/cobra"
)

// mcpCmd represents the mcp command.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the tsmine MCP server",
	Long: `Launch an MCP server over stdio that lets AI agents query the corpus,
the bug-fix records, detector progress and store health.

Logs stay on stderr so stdout carries only the protocol.`,
	PreRunE: sharedSetupWrapper,
	RunE: func(_ *cobra.Command, _ []string) error {
		return mcp.StartMCPServer(rootCtx, cfg, iocache.Manager)
	},
}
