// Package contract provides interfaces and shared utilities for the tsmine CLI's internal architecture.
package contract

import (
	"context"
	"time"

	"github.com/huangsam/tsmine/schema"
)

// GitClient defines the git operations the pipeline needs. Every method takes the
// working tree path so one client can serve many repositories.
type GitClient interface {
	Run(ctx context.Context, repoPath string, args ...string) ([]byte, error)
	ResolveTip(ctx context.Context, repoPath string) (string, error)
	GetHistory(ctx context.Context, repoPath string, ref string, until time.Time) ([]schema.Commit, error)
	GetParents(ctx context.Context, repoPath string, hash string) ([]string, error)
	GetMergeBase(ctx context.Context, repoPath string, a, b string) (string, error)
	GetChangedFilesBetweenRefs(ctx context.Context, repoPath string, baseRef string, targetRef string) ([]string, error)
	CountPathCommits(ctx context.Context, repoPath string, ref string, path string, until time.Time) (int, error)
	GetRemoteURL(ctx context.Context, repoPath string) (string, error)
	Checkout(ctx context.Context, repoPath string, hash string) error
	Clone(ctx context.Context, url string, dest string) error
}

// CacheManager defines the interface for managing the persistence stores.
// This allows the cache layer to be mocked for testing.
type CacheManager interface {
	GetMetricsStore() CacheStore
	GetRunStore() RunStore
}

// CacheStore defines the interface for cache data storage.
// This allows mocking the store for testing.
type CacheStore interface {
	Get(key string) ([]byte, int, int64, error)
	Set(key string, value []byte, version int, timestamp int64) error
	GetStatus() (schema.CacheStatus, error)
	Close() error
}

// RunStore tracks aggregation runs and the corpus records each run produced.
// It is an audit trail only; shard files stay the resumability signal.
type RunStore interface {
	BeginRun(stage schema.Stage, startTime time.Time, configParams map[string]any) (string, error)
	EndRun(runID string, endTime time.Time, totalRecords int) error
	RecordCorpus(runID string, cloneURL string, prodPath string, revision string, rec schema.CorpusRecord) error
	GetStatus() (schema.RunStatus, error)
	GetAllRuns() ([]schema.RunRecord, error)
	GetAllCorpusRows() ([]schema.CorpusRowRecord, error)
	Close() error
}
