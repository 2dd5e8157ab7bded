package outwriter

import (
	"os"

	"github.com/huangsam/tsmine/internal/contract"
	"golang.org/x/term"
)

// Path column bounds for table output.
const (
	minPathWidth     = 15
	maxPathWidth     = 70
	defaultTermWidth = 80 // Conservative default for narrow terminals and CI
)

// GetMaxTablePathWidth calculates the maximum width of the name column in table
// output. fixedWidth is what the other columns need, borders included.
func GetMaxTablePathWidth(cfg *contract.Config, fixedWidth int) int {
	termWidth := cfg.Width
	if termWidth <= 0 {
		detectedWidth, _, err := term.GetSize(int(os.Stdout.Fd()))
		if err != nil || detectedWidth <= 0 {
			termWidth = defaultTermWidth
		} else {
			termWidth = detectedWidth
		}
	}

	// Separators and padding
	available := termWidth - fixedWidth - 10
	if available < minPathWidth {
		return minPathWidth
	}
	if available > maxPathWidth {
		return maxPathWidth
	}
	return available
}
