// Package detector runs the external test smell detector once per commit and
// keeps the ledger of commits it could not analyze.
package detector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Errors returned by a detector invocation.
var (
	ErrTimeout    = errors.New("detector timed out")
	ErrExitStatus = errors.New("detector exited with non-zero status")
)

// Detector analyzes the repository under repoParent with the script and
// writes <copy>.json and log.txt into outDir.
type Detector interface {
	Run(ctx context.Context, script, outDir, repoParent string) error
}

// Runner invokes the detector as `<python> <script> <outDir> <repoParent>`.
type Runner struct {
	Python  string
	Timeout time.Duration
}

var _ Detector = &Runner{} // Compile-time check

// stderrTail bounds how much detector stderr ends up in an error.
const stderrTail = 512

// Run implements Detector. Only the invocation carries the timeout.
func (r *Runner) Run(ctx context.Context, script, outDir, repoParent string) error {
	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, r.Python, script, outDir, repoParent)
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second
	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, r.Timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > stderrTail {
			msg = msg[len(msg)-stderrTail:]
		}
		return fmt.Errorf("%w %d: %s", ErrExitStatus, exitErr.ExitCode(), msg)
	}
	return fmt.Errorf("detector command failed: %w. Ensure %s is installed and available on your PATH", err, r.Python)
}
