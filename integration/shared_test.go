//go:build integration || database

// Package integration drives the tsmine binary against scratch repositories.
// These tests are excluded from normal test runs due to build tags.
// To run these tests: go test -tags integration ./integration
// The database tests need docker: go test -tags database ./integration
package integration

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/huangsam/tsmine/internal/gittest"
)

var (
	// sharedBinaryPath holds the path to a tsmine binary built once for all tests.
	sharedBinaryPath string

	// buildOnce ensures we only build the binary once.
	buildOnce sync.Once

	// buildMutex protects the shared binary path.
	buildMutex sync.Mutex

	// tempDir holds the temp directory for cleanup.
	tempDir string
)

// TestMain handles setup and cleanup for all integration tests.
func TestMain(m *testing.M) {
	code := m.Run()

	// Cleanup the shared binary after all tests
	if tempDir != "" {
		_ = os.RemoveAll(tempDir)
	}

	os.Exit(code)
}

// getBinary returns the path to the tsmine binary, building it once if needed.
func getBinary() string {
	buildMutex.Lock()
	defer buildMutex.Unlock()

	buildOnce.Do(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "tsmine-integration-*")
		if err != nil {
			panic(fmt.Sprintf("failed to create temp dir: %v", err))
		}

		binPath := filepath.Join(tempDir, "tsmine")
		buildCmd := exec.Command("go", "build", "-o", binPath, ".")
		buildCmd.Dir = ".." // Build from parent directory (project root)
		if out, err := buildCmd.CombinedOutput(); err != nil {
			panic(fmt.Sprintf("failed to build tsmine: %v\n%s", err, out))
		}

		sharedBinaryPath = binPath
	})

	return sharedBinaryPath
}

// workspace is a scratch repos and results tree with an isolated home
// directory for the default SQLite files.
type workspace struct {
	ReposDir   string
	ResultsDir string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	return workspace{ReposDir: t.TempDir(), ResultsDir: t.TempDir()}
}

// addRepo creates the target [NNNN]/[NNNN]name under the repos dir.
func (w workspace) addRepo(t *testing.T, index int, name string) *gittest.Repo {
	t.Helper()
	prefix := fmt.Sprintf("[%04d]", index)
	return gittest.Init(t, filepath.Join(w.ReposDir, prefix, prefix+name))
}

// run executes tsmine with the workspace directories and returns stdout.
func (w workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	args = append(args, "--repos-dir", w.ReposDir, "--results-dir", w.ResultsDir)
	cmd := exec.Command(getBinary(), args...)
	var stdout, stderr []byte
	stdout, err := cmd.Output()
	if exitErr, ok := err.(*exec.ExitError); ok {
		stderr = exitErr.Stderr
	}
	if err != nil {
		t.Logf("Command failed: %s\nStderr: %s", cmd.String(), stderr)
	}
	return string(stdout), err
}
