package cmd

import (
	"runtime"

	"github.com/huangsam/tsmine/internal/imports"
	"github.com/huangsam/tsmine/internal/metrics"
	"github.com/spf13/cobra"
)

// versionCmd shows the build and the analysis versions behind a corpus.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of tsmine.",
	Long: `Display build information and the versions that shape corpus contents.

Shows:
- Release version, commit and build timestamp
- Go runtime version
- Metrics definition version, which keys the metrics cache
- Whether Python parsing was compiled in (requires CGO)

Record this output next to a published corpus. Two corpora are only
comparable when their metrics versions match.`,
	Run: func(cmd *cobra.Command, _ []string) {
		parser := "tree-sitter"
		if !imports.IsAvailable() {
			parser = "unavailable (built without CGO)"
		}
		cmd.Printf("tsmine CLI\n")
		cmd.Printf("  Version: %s\n", version)
		cmd.Printf("  Commit:  %s\n", commit)
		cmd.Printf("  Built:   %s\n", date)
		cmd.Printf("  Runtime: %s\n", runtime.Version())
		cmd.Printf("  Metrics: %s\n", metrics.NewTreeSitter().Version())
		cmd.Printf("  Parser:  %s\n", parser)
	},
}
