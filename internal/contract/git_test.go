package contract

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/huangsam/tsmine/internal/gittest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMockGitClient_Run ensures the mock correctly records and returns
// expected values when its Run method is called.
func TestMockGitClient_Run(t *testing.T) {
	mockClient := new(MockGitClient)

	const expectedRepoPath = "/path/to/repo"
	expectedArgs := []string{"log", "-1", "--oneline"}
	expectedOutput := []byte("a1b2c3d commit message")
	expectedError := errors.New("mocked git error")

	// Run flattens ctx, repoPath and args into one m.Called() list
	var calledArgs []any
	ctx := context.Background()
	calledArgs = append(calledArgs, ctx, expectedRepoPath)
	for _, arg := range expectedArgs {
		calledArgs = append(calledArgs, arg)
	}

	mockClient.
		On("Run", calledArgs...).
		Return(expectedOutput, expectedError).
		Once()

	actualOutput, actualError := mockClient.Run(ctx, expectedRepoPath, expectedArgs...)

	assert.Equal(t, expectedOutput, actualOutput, "Run should return the programmed output")
	assert.Equal(t, expectedError, actualError, "Run should return the programmed error")
	mockClient.AssertExpectations(t)
}

// TestNewLocalGitClient tests the constructor for LocalGitClient.
func TestNewLocalGitClient(t *testing.T) {
	client := NewLocalGitClient()
	assert.NotNil(t, client, "NewLocalGitClient should return a non-nil client")
	assert.IsType(t, &LocalGitClient{}, client)
}

// TestLocalGitClient_Run tests the Run method with various scenarios.
func TestLocalGitClient_Run(t *testing.T) {
	repo := gittest.Init(t, t.TempDir())
	repo.Commit("init", map[string]string{"a.py": "x = 1\n"})

	client := NewLocalGitClient()
	ctx := context.Background()

	tests := []struct {
		name        string
		repoPath    string
		args        []string
		expectError bool
	}{
		{"valid command", repo.Dir, []string{"status", "--short"}, false},
		{"invalid repo path", "/nonexistent/path", []string{"status"}, true},
		{"invalid git command", repo.Dir, []string{"invalid-command"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Run(ctx, tt.repoPath, tt.args...)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestLocalGitClient_Run_Canceled checks that cancellation surfaces the context error.
func TestLocalGitClient_Run_Canceled(t *testing.T) {
	repo := gittest.Init(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocalGitClient().Run(ctx, repo.Dir, "status")
	require.Error(t, err)
}

// TestLocalGitClient_History covers history ordering, parents and the deadline.
func TestLocalGitClient_History(t *testing.T) {
	repo := gittest.Init(t, t.TempDir())
	c1 := repo.Commit("first\n\nbody line", map[string]string{"a.py": "x = 1\n"})
	firstTime := repo.Time()
	c2 := repo.Commit("second", map[string]string{"b.py": "y = 2\n"})

	client := NewLocalGitClient()
	ctx := context.Background()

	tip, err := client.ResolveTip(ctx, repo.Dir)
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/main", tip)

	commits, err := client.GetHistory(ctx, repo.Dir, tip, time.Time{})
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, c1, commits[0].Hash)
	assert.Equal(t, "first\n\nbody line", commits[0].Message)
	assert.Empty(t, commits[0].Parents)
	assert.Equal(t, c2, commits[1].Hash)
	assert.Equal(t, []string{c1}, commits[1].Parents)
	assert.True(t, commits[0].Time.Equal(firstTime))

	commits, err = client.GetHistory(ctx, repo.Dir, tip, firstTime)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, c1, commits[0].Hash)

	count, err := client.CountPathCommits(ctx, repo.Dir, tip, "a.py", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// TestLocalGitClient_Merges covers parents, merge-base and first-parent diffs.
func TestLocalGitClient_Merges(t *testing.T) {
	repo := gittest.Init(t, t.TempDir())
	base := repo.Commit("base", map[string]string{"a.py": "x = 1\n"})
	repo.Git("checkout", "--quiet", "-b", "fix")
	fix := repo.Commit("fix", map[string]string{"a.py": "x = 2\n"})
	repo.Git("checkout", "--quiet", "main")
	merge := repo.Merge("Merge pull request #7", "fix")

	client := NewLocalGitClient()
	ctx := context.Background()

	parents, err := client.GetParents(ctx, repo.Dir, merge)
	require.NoError(t, err)
	assert.Equal(t, []string{base, fix}, parents)

	mb, err := client.GetMergeBase(ctx, repo.Dir, parents[0], parents[1])
	require.NoError(t, err)
	assert.Equal(t, base, mb)

	files, err := client.GetChangedFilesBetweenRefs(ctx, repo.Dir, parents[0], merge)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py"}, files)
}

// TestLocalGitClient_MergeBaseUnrelated checks unrelated histories yield an empty base.
func TestLocalGitClient_MergeBaseUnrelated(t *testing.T) {
	repo := gittest.Init(t, t.TempDir())
	mainHash := repo.Commit("main", map[string]string{"a.py": "x = 1\n"})
	repo.Git("checkout", "--quiet", "--orphan", "other")
	repo.Git("rm", "-rf", "--quiet", ".")
	other := repo.Commit("other", map[string]string{"b.py": "y = 1\n"})

	mb, err := NewLocalGitClient().GetMergeBase(context.Background(), repo.Dir, mainHash, other)
	require.NoError(t, err)
	assert.Empty(t, mb)
}

// TestLocalGitClient_CheckoutAndClone covers detached checkouts and cloning.
func TestLocalGitClient_CheckoutAndClone(t *testing.T) {
	repo := gittest.Init(t, filepath.Join(t.TempDir(), "origin"))
	c1 := repo.Commit("one", map[string]string{"a.py": "x = 1\n"})
	repo.Commit("two", map[string]string{"b.py": "y = 1\n"})

	client := NewLocalGitClient()
	ctx := context.Background()

	dest := filepath.Join(t.TempDir(), "clone")
	require.NoError(t, client.Clone(ctx, repo.Dir, dest))

	url, err := client.GetRemoteURL(ctx, dest)
	require.NoError(t, err)
	assert.Equal(t, repo.Dir, url)

	tip, err := client.ResolveTip(ctx, dest)
	require.NoError(t, err)
	assert.Equal(t, "refs/remotes/origin/HEAD", tip)

	require.NoError(t, client.Checkout(ctx, dest, c1))
	assert.NoFileExists(t, filepath.Join(dest, "b.py"))

	// History still reaches the tip after a detached checkout
	commits, err := client.GetHistory(ctx, dest, tip, time.Time{})
	require.NoError(t, err)
	assert.Len(t, commits, 2)

	assert.Error(t, client.Checkout(ctx, dest, "deadbeef"))
}

func TestParseHistoryMalformed(t *testing.T) {
	_, err := parseHistory([]byte("abc" + fieldSep + "def" + recordSep))
	assert.Error(t, err)

	commits, err := parseHistory(nil)
	require.NoError(t, err)
	assert.Empty(t, commits)
}
