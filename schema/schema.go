// Package schema has the models shared by every stage of the tsmine pipeline.
package schema

import (
	"maps"
	"slices"
	"time"
)

// Commit is one node of a repository's history.
type Commit struct {
	Hash    string    // Full commit hash
	Message string    // Full commit message
	Parents []string  // Ordered parent hashes, first parent first
	Time    time.Time // Committer time
}

// Target is a cloned repository discovered under the repos directory.
// Name is the index-prefixed clone name such as "[0001]requests".
type Target struct {
	Index int    // 1-based position in the URL list
	Name  string // Index-prefixed clone name
	Path  string // Absolute path to the working tree
}

// Mapping relates a file to a list of files at one revision. The same type is
// used for test -> prod and prod -> test mappings.
type Mapping map[string][]string

// Keys returns the mapping keys in sorted order.
func (m Mapping) Keys() []string {
	return slices.Sorted(maps.Keys(m))
}

// BugFixRecord links a bug-referencing merge commit to its pre-fix base commit
// and the files it changed relative to its first parent.
type BugFixRecord struct {
	MergeCommit  string   `json:"merge_commit"`
	BaseCommit   string   `json:"base_commit"`
	ChangedFiles []string `json:"changed_files"`
}

// Touches reports whether the record changed the given repo-relative path.
func (r BugFixRecord) Touches(path string) bool {
	return slices.Contains(r.ChangedFiles, path)
}

// SmellCounts maps a smell name to its occurrence count.
type SmellCounts map[string]int

// Add merges other into c key-wise.
func (c SmellCounts) Add(other SmellCounts) {
	for smell, count := range other {
		c[smell] += count
	}
}

// SmellSummary maps a test file name to its smell counts.
type SmellSummary map[string]SmellCounts

// Metrics maps a metric key to its value.
type Metrics map[string]float64

// CorpusRecord is the joined dataset row for one production file.
type CorpusRecord struct {
	ProdMetrics Metrics     `json:"prod_metrics"`
	TestFiles   []string    `json:"test_files"`
	TestMetrics Metrics     `json:"test_metrics"`
	Smells      SmellCounts `json:"pynose_result"`
	Bug         int         `json:"bug"`
}

// RepoCorpus maps a production path to its corpus record.
type RepoCorpus map[string]CorpusRecord

// Corpus maps a clone URL to the repository's records.
type Corpus map[string]RepoCorpus

// Provenance records which commit a corpus record was measured at.
type Provenance struct {
	MergeCommit  string `json:"merge_commit,omitempty"`
	BaseCommit   string `json:"base_commit,omitempty"`
	LatestCommit string `json:"latest_commit_hash,omitempty"`
}

// ErrorLedger maps a commit hash to the reason the detector failed on it.
type ErrorLedger map[string]LedgerReason

// ProgressRow summarizes detector coverage for one repository.
type ProgressRow struct {
	Repo     string `json:"repo"`
	Analyzed int    `json:"analyzed"`
	Total    int    `json:"total"`
}

// Percent returns the analyzed share in percent.
func (p ProgressRow) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Analyzed) * 100 / float64(p.Total)
}

// Complete reports whether every commit was analyzed or ledgered.
func (p ProgressRow) Complete() bool {
	return p.Analyzed == p.Total
}
