package contract

import (
	"context"
	"time"

	"github.com/huangsam/tsmine/schema"
	"github.com/stretchr/testify/mock"
)

// MockGitClient is a testify mock for the GitClient interface.
type MockGitClient struct {
	mock.Mock
}

var _ GitClient = &MockGitClient{} // Compile-time check

// Run implements the GitClient interface.
func (m *MockGitClient) Run(ctx context.Context, repoPath string, args ...string) ([]byte, error) {
	var mockArgs []any
	mockArgs = append(mockArgs, ctx, repoPath)
	for _, arg := range args {
		mockArgs = append(mockArgs, arg)
	}
	ret := m.Called(mockArgs...)
	output, _ := ret.Get(0).([]byte)
	return output, ret.Error(1)
}

// ResolveTip implements the GitClient interface.
func (m *MockGitClient) ResolveTip(ctx context.Context, repoPath string) (string, error) {
	ret := m.Called(ctx, repoPath)
	return ret.String(0), ret.Error(1)
}

// GetHistory implements the GitClient interface.
func (m *MockGitClient) GetHistory(ctx context.Context, repoPath string, ref string, until time.Time) ([]schema.Commit, error) {
	ret := m.Called(ctx, repoPath, ref, until)
	commits, _ := ret.Get(0).([]schema.Commit)
	return commits, ret.Error(1)
}

// GetParents implements the GitClient interface.
func (m *MockGitClient) GetParents(ctx context.Context, repoPath string, hash string) ([]string, error) {
	ret := m.Called(ctx, repoPath, hash)
	parents, _ := ret.Get(0).([]string)
	return parents, ret.Error(1)
}

// GetMergeBase implements the GitClient interface.
func (m *MockGitClient) GetMergeBase(ctx context.Context, repoPath string, a, b string) (string, error) {
	ret := m.Called(ctx, repoPath, a, b)
	return ret.String(0), ret.Error(1)
}

// GetChangedFilesBetweenRefs implements the GitClient interface.
func (m *MockGitClient) GetChangedFilesBetweenRefs(ctx context.Context, repoPath string, baseRef string, targetRef string) ([]string, error) {
	ret := m.Called(ctx, repoPath, baseRef, targetRef)
	files, _ := ret.Get(0).([]string)
	return files, ret.Error(1)
}

// CountPathCommits implements the GitClient interface.
func (m *MockGitClient) CountPathCommits(ctx context.Context, repoPath string, ref string, path string, until time.Time) (int, error) {
	ret := m.Called(ctx, repoPath, ref, path, until)
	return ret.Int(0), ret.Error(1)
}

// GetRemoteURL implements the GitClient interface.
func (m *MockGitClient) GetRemoteURL(ctx context.Context, repoPath string) (string, error) {
	ret := m.Called(ctx, repoPath)
	return ret.String(0), ret.Error(1)
}

// Checkout implements the GitClient interface.
func (m *MockGitClient) Checkout(ctx context.Context, repoPath string, hash string) error {
	return m.Called(ctx, repoPath, hash).Error(0)
}

// Clone implements the GitClient interface.
func (m *MockGitClient) Clone(ctx context.Context, url string, dest string) error {
	return m.Called(ctx, url, dest).Error(0)
}
