// Package gittest builds small real git repositories for package tests.
package gittest

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Repo is a scratch repository driven through the git binary.
type Repo struct {
	t     testing.TB
	Dir   string
	clock time.Time
}

// SkipIfGitNotAvailable skips the test if git binary is not found in PATH.
func SkipIfGitNotAvailable(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skipf("git binary not found in PATH: %v", err)
	}
}

// Init creates an empty repository on branch main inside dir.
func Init(t testing.TB, dir string) *Repo {
	t.Helper()
	SkipIfGitNotAvailable(t)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	r := &Repo{t: t, Dir: dir, clock: time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)}
	r.Git("init", "--quiet", "--initial-branch=main")
	r.Git("config", "user.email", "dev@example.com")
	r.Git("config", "user.name", "Dev")
	r.Git("config", "commit.gpgsign", "false")
	return r
}

// Git runs a git command in the repository and returns trimmed stdout.
func (r *Repo) Git(args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", append([]string{"-C", r.Dir}, args...)...)
	stamp := fmt.Sprintf("%d +0000", r.clock.Unix())
	cmd.Env = append(os.Environ(), "GIT_AUTHOR_DATE="+stamp, "GIT_COMMITTER_DATE="+stamp)
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// Write writes files relative to the repository root, creating parents.
func (r *Repo) Write(files map[string]string) {
	r.t.Helper()
	for name, content := range files {
		path := filepath.Join(r.Dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			r.t.Fatalf("mkdir for %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			r.t.Fatalf("write %s: %v", name, err)
		}
	}
}

// Commit writes files, stages everything and commits. Each commit is one
// minute after the previous so history order is stable.
func (r *Repo) Commit(msg string, files map[string]string) string {
	r.t.Helper()
	r.Write(files)
	r.tick()
	r.Git("add", "--all")
	r.Git("commit", "--quiet", "--allow-empty", "-m", msg)
	return r.Head()
}

// Merge merges the branches into the current branch with a merge commit.
// More than one branch produces an octopus merge.
func (r *Repo) Merge(msg string, branches ...string) string {
	r.t.Helper()
	r.tick()
	args := append([]string{"merge", "--quiet", "--no-ff", "--allow-unrelated-histories", "-m", msg}, branches...)
	r.Git(args...)
	return r.Head()
}

// Head returns the hash of HEAD.
func (r *Repo) Head() string {
	r.t.Helper()
	return r.Git("rev-parse", "HEAD")
}

// Time returns the committer time of the most recent commit made through r.
func (r *Repo) Time() time.Time {
	return r.clock
}

func (r *Repo) tick() {
	r.clock = r.clock.Add(time.Minute)
}
