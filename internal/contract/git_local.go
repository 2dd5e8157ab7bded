package contract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/huangsam/tsmine/schema"
)

// Record and field separators for the history format.
const (
	recordSep = "\x1e"
	fieldSep  = "\x1f"
)

// LocalGitClient implements the GitClient interface by executing the
// local 'git' binary installed on the machine.
type LocalGitClient struct{}

var _ GitClient = &LocalGitClient{} // Compile-time check

// NewLocalGitClient creates a new instance of the local Git client.
func NewLocalGitClient() *LocalGitClient {
	return &LocalGitClient{}
}

// Run executes a git command and returns its stdout output.
func (c *LocalGitClient) Run(ctx context.Context, repoPath string, args ...string) ([]byte, error) {
	fullArgs := append([]string{"-C", repoPath}, args...)
	cmd := exec.CommandContext(ctx, "git", fullArgs...)
	out, err := cmd.Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		stderr := strings.TrimSpace(string(exitErr.Stderr))
		return nil, fmt.Errorf("git %s failed in %q: %s", args[0], repoPath, stderr)
	} else if err != nil {
		return nil, fmt.Errorf("git command failed: %w. Ensure Git is installed and available on your PATH", err)
	}
	return out, nil
}

// ResolveTip returns the ref that history traversal should start from. Clones
// prefer the remote default branch, since the local HEAD is detached after any
// historical checkout.
func (c *LocalGitClient) ResolveTip(ctx context.Context, repoPath string) (string, error) {
	if out, err := c.Run(ctx, repoPath, "rev-parse", "--verify", "--quiet", "refs/remotes/origin/HEAD"); err == nil && len(bytes.TrimSpace(out)) > 0 {
		return "refs/remotes/origin/HEAD", nil
	}
	if out, err := c.Run(ctx, repoPath, "symbolic-ref", "--quiet", "HEAD"); err == nil {
		return strings.TrimSpace(string(out)), nil
	}
	if _, err := c.Run(ctx, repoPath, "rev-parse", "--verify", "HEAD"); err != nil {
		return "", err
	}
	return "HEAD", nil
}

// GetHistory implements the GitClient interface. Commits are returned oldest first.
func (c *LocalGitClient) GetHistory(ctx context.Context, repoPath string, ref string, until time.Time) ([]schema.Commit, error) {
	args := []string{
		"log",
		"--reverse",
		"--format=%H" + fieldSep + "%P" + fieldSep + "%ct" + fieldSep + "%B" + recordSep,
	}
	if !until.IsZero() {
		args = append(args, untilArg(until))
	}
	args = append(args, ref, "--")
	out, err := c.Run(ctx, repoPath, args...)
	if err != nil {
		return nil, err
	}
	return parseHistory(out)
}

// parseHistory decodes the output of GetHistory's log format.
func parseHistory(out []byte) ([]schema.Commit, error) {
	var commits []schema.Commit
	for record := range strings.SplitSeq(string(out), recordSep) {
		record = strings.TrimLeft(record, "\n")
		if record == "" {
			continue
		}
		fields := strings.SplitN(record, fieldSep, 4)
		if len(fields) != 4 {
			return nil, fmt.Errorf("malformed history record: %q", record)
		}
		ts, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed commit time %q: %w", fields[2], err)
		}
		commits = append(commits, schema.Commit{
			Hash:    fields[0],
			Parents: strings.Fields(fields[1]),
			Time:    time.Unix(ts, 0),
			Message: strings.TrimRight(fields[3], "\n"),
		})
	}
	return commits, nil
}

// untilArg renders a deadline as a raw epoch so git never reinterprets the zone.
func untilArg(until time.Time) string {
	return "--until=@" + strconv.FormatInt(until.Unix(), 10)
}

// GetParents implements the GitClient interface.
func (c *LocalGitClient) GetParents(ctx context.Context, repoPath string, hash string) ([]string, error) {
	out, err := c.Run(ctx, repoPath, "rev-list", "--parents", "-n", "1", hash)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return nil, fmt.Errorf("commit %s not found", hash)
	}
	return fields[1:], nil
}

// GetMergeBase implements the GitClient interface. It returns an empty hash when
// the two commits share no ancestor.
func (c *LocalGitClient) GetMergeBase(ctx context.Context, repoPath string, a, b string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", repoPath, "merge-base", a, b)
	out, err := cmd.Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		stderr := strings.TrimSpace(string(exitErr.Stderr))
		if exitErr.ExitCode() == 1 && stderr == "" {
			return "", nil // Unrelated histories
		}
		return "", fmt.Errorf("git merge-base failed in %q: %s", repoPath, stderr)
	} else if err != nil {
		return "", fmt.Errorf("git command failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// GetChangedFilesBetweenRefs implements the GitClient interface.
func (c *LocalGitClient) GetChangedFilesBetweenRefs(ctx context.Context, repoPath string, baseRef string, targetRef string) ([]string, error) {
	args := []string{
		"diff", "--name-only",
		fmt.Sprintf("%s..%s", baseRef, targetRef),
	}
	out, err := c.Run(ctx, repoPath, args...)
	if err != nil {
		return nil, err
	}
	var files []string
	for line := range strings.SplitSeq(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// CountPathCommits implements the GitClient interface.
func (c *LocalGitClient) CountPathCommits(ctx context.Context, repoPath string, ref string, path string, until time.Time) (int, error) {
	args := []string{"rev-list", "--count"}
	if !until.IsZero() {
		args = append(args, untilArg(until))
	}
	args = append(args, ref, "--", path)
	out, err := c.Run(ctx, repoPath, args...)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(out)))
}

// GetRemoteURL implements the GitClient interface.
func (c *LocalGitClient) GetRemoteURL(ctx context.Context, repoPath string) (string, error) {
	out, err := c.Run(ctx, repoPath, "config", "--get", "remote.origin.url")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Checkout implements the GitClient interface. Local modifications and untracked
// files are discarded so the tree matches the commit exactly.
func (c *LocalGitClient) Checkout(ctx context.Context, repoPath string, hash string) error {
	if _, err := c.Run(ctx, repoPath, "checkout", "--force", "--quiet", "--detach", hash); err != nil {
		return err
	}
	_, err := c.Run(ctx, repoPath, "clean", "-ffdq")
	return err
}

// Clone implements the GitClient interface.
func (c *LocalGitClient) Clone(ctx context.Context, url string, dest string) error {
	_, err := c.Run(ctx, filepath.Dir(dest), "clone", "--quiet", url, dest)
	return err
}
