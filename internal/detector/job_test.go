package detector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/internal/gittest"
	"github.com/huangsam/tsmine/internal/shard"
	"github.com/huangsam/tsmine/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDetector behaves according to mode.txt in the checked-out copy.
type fakeDetector struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeDetector) Run(_ context.Context, script, outDir, repoParent string) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if _, err := os.Stat(script); err != nil {
		return err
	}
	entries, err := os.ReadDir(repoParent)
	if err != nil {
		return err
	}
	if len(entries) != 1 {
		return fmt.Errorf("expected one repository copy, got %d", len(entries))
	}
	name := entries[0].Name()
	mode, err := os.ReadFile(filepath.Join(repoParent, name, "mode.txt"))
	if err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(outDir, logFile), []byte("log"), 0o644); err != nil {
		return err
	}
	switch strings.TrimSpace(string(mode)) {
	case "ok":
		return os.WriteFile(filepath.Join(outDir, name+".json"), []byte(`[]`), 0o644)
	case "timeout":
		return ErrTimeout
	case "exit":
		return fmt.Errorf("%w 1: boom", ErrExitStatus)
	}
	return nil
}

func (f *fakeDetector) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type detectorFixture struct {
	target  schema.Target
	hashes  []string
	opts    Options
	fake    *fakeDetector
	workDir string
}

func newDetectorFixture(t *testing.T, modes ...string) *detectorFixture {
	t.Helper()
	reposDir := t.TempDir()
	repo := gittest.Init(t, filepath.Join(reposDir, "[0001]", "[0001]demo"))
	var hashes []string
	for i, mode := range modes {
		hashes = append(hashes, repo.Commit(fmt.Sprintf("commit %d", i+1), map[string]string{
			"mode.txt":                   mode + "\n",
			"tests/test_" + mode + ".py": "import unittest\n",
		}))
	}

	toolDir := filepath.Join(t.TempDir(), "detector")
	require.NoError(t, os.MkdirAll(toolDir, 0o755))
	script := filepath.Join(toolDir, "runner.py")
	require.NoError(t, os.WriteFile(script, []byte("# runner\n"), 0o644))

	fake := &fakeDetector{}
	workDir := t.TempDir()
	return &detectorFixture{
		target: schema.Target{Index: 1, Name: "[0001]demo", Path: repo.Dir},
		hashes: hashes,
		fake:   fake,
		opts: Options{
			Layout:   shard.Layout{Root: t.TempDir()},
			Client:   contract.NewLocalGitClient(),
			Detector: fake,
			Script:   script,
			WorkDir:  workDir,
			Logger:   zerolog.Nop(),
		},
		workDir: workDir,
	}
}

func TestExecute(t *testing.T) {
	f := newDetectorFixture(t, "ok", "noresult", "timeout", "exit", "ok")
	layout := f.opts.Layout
	repo := f.target.Name
	ctx := context.Background()

	stats, err := Execute(ctx, f.opts, f.target, 2)
	require.NoError(t, err)
	assert.Equal(t, Stats{Analyzed: 2, Failed: 3}, stats)
	assert.Equal(t, 5, f.fake.Calls())

	assert.FileExists(t, layout.Path(schema.DetectorStage, repo, 1, f.hashes[0]))
	assert.FileExists(t, layout.Path(schema.DetectorStage, repo, 5, f.hashes[4]))
	assert.NoFileExists(t, layout.Path(schema.DetectorStage, repo, 2, f.hashes[1]))

	ledger, err := LoadLedger(LedgerPath(layout, repo))
	require.NoError(t, err)
	assert.Equal(t, schema.ErrorLedger{
		f.hashes[1]: schema.ReasonOnlyLogFile,
		f.hashes[2]: schema.ReasonTimeout,
		f.hashes[3]: schema.ReasonExitStatus,
	}, ledger)

	// Logs of failed commits are kept under their 0-based index
	dir := layout.RepoDir(schema.DetectorStage, repo)
	assert.FileExists(t, filepath.Join(dir, shard.Stem(repo, 1, f.hashes[1])+".txt"))
	assert.FileExists(t, filepath.Join(dir, shard.Stem(repo, 3, f.hashes[3])+".txt"))

	// Worker copies and scratch output are gone
	entries, err := os.ReadDir(f.workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoDirExists(t, filepath.Join(dir, "."+repo+"_00"))
	assert.NoDirExists(t, filepath.Join(dir, "."+repo+"_01"))

	// Every commit now has a shard or a ledger entry
	stats, err = Execute(ctx, f.opts, f.target, 3)
	require.NoError(t, err)
	assert.Equal(t, Stats{Skipped: 5}, stats)
	assert.Equal(t, 5, f.fake.Calls())
}

func TestJobPartition(t *testing.T) {
	f := newDetectorFixture(t, "ok", "ok", "ok", "ok", "ok")
	ledger, err := OpenLedger(LedgerPath(f.opts.Layout, f.target.Name))
	require.NoError(t, err)

	var commits []schema.Commit
	for _, h := range f.hashes {
		commits = append(commits, schema.Commit{Hash: h})
	}
	job := &Job{Options: f.opts, Target: f.target, Commits: commits, Ledger: ledger, Worker: 1, Div: 2}
	stats, err := job.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Analyzed)

	layout := f.opts.Layout
	for i, h := range f.hashes {
		exists := layout.Exists(schema.DetectorStage, f.target.Name, i+1, h)
		assert.Equal(t, i%2 == 1, exists, "commit index %d", i)
	}
}

func TestJobCanceledRemovesCopies(t *testing.T) {
	f := newDetectorFixture(t, "ok", "ok")
	ledger, err := OpenLedger(LedgerPath(f.opts.Layout, f.target.Name))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job := &Job{Options: f.opts, Target: f.target, Commits: []schema.Commit{{Hash: f.hashes[0]}}, Ledger: ledger, Worker: 0, Div: 1}
	_, err = job.Execute(ctx)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)

	entries, err := os.ReadDir(f.workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Zero(t, f.fake.Calls())
}

func TestExecuteRequiresScript(t *testing.T) {
	_, err := Execute(context.Background(), Options{}, schema.Target{}, 1)
	assert.Error(t, err)
}

func TestProgress(t *testing.T) {
	f := newDetectorFixture(t, "ok", "noresult", "ok")
	ctx := context.Background()
	targets := []schema.Target{f.target}

	rows, err := Progress(ctx, f.opts.Layout, f.opts.Client, targets, f.opts.Deadline, 2)
	require.NoError(t, err)
	assert.Equal(t, []schema.ProgressRow{{Repo: f.target.Name, Analyzed: 0, Total: 3}}, rows)
	assert.Len(t, Incomplete(rows), 1)

	_, err = Execute(ctx, f.opts, f.target, 1)
	require.NoError(t, err)

	rows, err = Progress(ctx, f.opts.Layout, f.opts.Client, targets, f.opts.Deadline, 2)
	require.NoError(t, err)
	assert.Equal(t, []schema.ProgressRow{{Repo: f.target.Name, Analyzed: 3, Total: 3}}, rows)
	assert.Empty(t, Incomplete(rows))
}

func TestRemoveAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, removeAll(context.Background(), dir))
	assert.NoDirExists(t, dir)
	require.NoError(t, removeAll(context.Background(), dir), "missing path is not an error")
}

func TestRemoveAllRetriesBusy(t *testing.T) {
	oldDelay, oldRemove := removeDelay, removePath
	t.Cleanup(func() { removeDelay, removePath = oldDelay, oldRemove })
	removeDelay = time.Millisecond

	tests := []struct {
		name      string
		failures  []error
		wantCalls int
		wantErr   error
	}{
		{"busy then free", []error{syscall.EBUSY, syscall.ENOTEMPTY}, 3, nil},
		{"always busy", []error{syscall.EBUSY, syscall.EBUSY, syscall.EBUSY, syscall.EBUSY, syscall.EBUSY, syscall.EBUSY}, 5, syscall.EBUSY},
		{"not retried", []error{syscall.EACCES}, 1, syscall.EACCES},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			removePath = func(string) error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			}
			err := removeAll(context.Background(), "/work/copy")
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
