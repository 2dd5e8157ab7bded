package linkage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/internal/gittest"
	"github.com/huangsam/tsmine/internal/history"
	"github.com/huangsam/tsmine/internal/shard"
	"github.com/huangsam/tsmine/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidates(t *testing.T) {
	commits := []schema.Commit{
		{Hash: "a", Message: "Merge pull request #7 from fork/fix"},
		{Hash: "b", Message: "see #70 and #700"},
		{Hash: "c", Message: "fixes #7, #8"},
		{Hash: "d", Message: "no reference"},
		{Hash: "a", Message: "Merge pull request #7 from fork/fix"},
		{Hash: "e", Message: "#8"},
	}
	got := Candidates(commits, map[string]string{}, []int{7, 8})
	assert.Equal(t, []string{"a", "c", "e"}, got)

	// Dumped messages take precedence over the in-memory message
	got = Candidates(commits[:1], map[string]string{"a": "unrelated"}, []int{7})
	assert.Empty(t, got)

	assert.Empty(t, Candidates(commits, nil, nil))
}

func TestLastTouching(t *testing.T) {
	records := []schema.BugFixRecord{
		{MergeCommit: "m1", ChangedFiles: []string{"a.py"}},
		{MergeCommit: "m2", ChangedFiles: []string{"b.py"}},
		{MergeCommit: "m3", ChangedFiles: []string{"a.py", "c.py"}},
	}
	rec, ok := LastTouching(records, "a.py")
	require.True(t, ok)
	assert.Equal(t, "m3", rec.MergeCommit)

	_, ok = LastTouching(records, "d.py")
	assert.False(t, ok)
}

// buildLinkageRepo creates a history with one linkable merge, one octopus
// merge and one merge of unrelated histories.
func buildLinkageRepo(t *testing.T, dir string) (repo *gittest.Repo, base string, fix string) {
	t.Helper()
	repo = gittest.Init(t, dir)
	base = repo.Commit("init", map[string]string{"a.py": "x = 1\n", "b.py": "y = 1\n"})

	repo.Git("checkout", "--quiet", "-b", "fix")
	repo.Commit("fix a", map[string]string{"a.py": "x = 2\n"})
	repo.Git("checkout", "--quiet", "main")
	fix = repo.Merge("Merge pull request #7 from fork/fix", "fix")

	repo.Git("checkout", "--quiet", "-b", "o1")
	repo.Commit("o1", map[string]string{"o1.py": ""})
	repo.Git("checkout", "--quiet", "main")
	repo.Git("checkout", "--quiet", "-b", "o2")
	repo.Commit("o2", map[string]string{"o2.py": ""})
	repo.Git("checkout", "--quiet", "main")
	repo.Merge("octopus for #8", "o1", "o2")

	repo.Git("checkout", "--quiet", "--orphan", "other")
	repo.Git("rm", "-rf", "--quiet", ".")
	repo.Commit("unrelated", map[string]string{"z.py": ""})
	repo.Git("checkout", "--quiet", "main")
	repo.Merge("graft for #9", "other")

	repo.Commit("mentions #70 only", map[string]string{"b.py": "y = 2\n"})
	return repo, base, fix
}

func newResolver(t *testing.T, layout shard.Layout, client contract.GitClient) *Resolver {
	t.Helper()
	return &Resolver{
		Layout:   layout,
		Client:   client,
		Issues:   FileIssueSource{Layout: layout},
		Messages: &history.Dumper{Layout: layout, Client: client, Logger: zerolog.Nop()},
		Logger:   zerolog.Nop(),
	}
}

func TestResolveRepository(t *testing.T) {
	repo, base, fix := buildLinkageRepo(t, filepath.Join(t.TempDir(), "[0001]demo"))
	target := schema.Target{Index: 1, Name: "[0001]demo", Path: repo.Dir}

	layout := shard.Layout{Root: t.TempDir()}
	require.NoError(t, shard.WriteJSON(layout.RepoFile(schema.BugIssuesStage, target.Name), []int{7, 8, 9}))
	r := newResolver(t, layout, contract.NewLocalGitClient())

	records, err := r.ResolveRepository(context.Background(), target)
	require.NoError(t, err)

	want := []schema.BugFixRecord{{MergeCommit: fix, BaseCommit: base, ChangedFiles: []string{"a.py"}}}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("ResolveRepository() mismatch (-want +got):\n%s", diff)
	}

	stored, err := LoadRecords(layout, target.Name)
	require.NoError(t, err)
	assert.Equal(t, want, stored)
}

func TestResolveRepositoryReusesOutput(t *testing.T) {
	layout := shard.Layout{Root: t.TempDir()}
	target := schema.Target{Name: "[0001]demo", Path: "/nowhere"}
	cached := []schema.BugFixRecord{{MergeCommit: "m", BaseCommit: "b", ChangedFiles: []string{"a.py"}}}
	require.NoError(t, shard.WriteJSON(layout.RepoFile(schema.BugFixesStage, target.Name), cached))

	// No expectations: any git call fails the test
	client := new(contract.MockGitClient)
	records, err := newResolver(t, layout, client).ResolveRepository(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, cached, records)
	client.AssertExpectations(t)
}

func TestRunAggregates(t *testing.T) {
	reposDir := t.TempDir()
	repo, base, fix := buildLinkageRepo(t, filepath.Join(reposDir, "[0001]", "[0001]demo"))
	gittest.Init(t, filepath.Join(reposDir, "[0002]", "[0002]noissues")).Commit("x", map[string]string{"x.py": ""})

	targets := []schema.Target{
		{Index: 1, Name: "[0001]demo", Path: repo.Dir},
		{Index: 2, Name: "[0002]noissues", Path: filepath.Join(reposDir, "[0002]", "[0002]noissues")},
	}
	layout := shard.Layout{Root: t.TempDir()}
	require.NoError(t, shard.WriteJSON(layout.RepoFile(schema.BugIssuesStage, "[0001]demo"), []int{7}))

	require.NoError(t, newResolver(t, layout, contract.NewLocalGitClient()).Run(context.Background(), targets, 2))

	var aggregated map[string][]schema.BugFixRecord
	require.NoError(t, shard.ReadJSON(layout.AggregatedFile(schema.BugFixesStage), &aggregated))
	assert.Equal(t, map[string][]schema.BugFixRecord{
		"[0001]demo": {{MergeCommit: fix, BaseCommit: base, ChangedFiles: []string{"a.py"}}},
	}, aggregated)

	// A rerun reuses every output and leaves the aggregate untouched
	aggregate := layout.AggregatedFile(schema.BugFixesStage)
	past := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(aggregate, past, past))
	require.NoError(t, newResolver(t, layout, contract.NewLocalGitClient()).Run(context.Background(), targets, 2))
	info, err := os.Stat(aggregate)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(past))
}

func TestResolveRepositoryLogsLabels(t *testing.T) {
	repo, _, _ := buildLinkageRepo(t, filepath.Join(t.TempDir(), "[0001]demo"))
	target := schema.Target{Index: 1, Name: "[0001]demo", Path: repo.Dir}

	layout := shard.Layout{Root: t.TempDir()}
	require.NoError(t, shard.WriteJSON(layout.RepoFile(schema.BugIssuesStage, target.Name), []int{7}))
	require.NoError(t, shard.WriteJSON(layout.RepoFile(schema.BugLabelsStage, target.Name), []string{"bug", "regression"}))

	var logs bytes.Buffer
	r := newResolver(t, layout, contract.NewLocalGitClient())
	r.Logger = zerolog.New(&logs)

	_, err := r.ResolveRepository(context.Background(), target)
	require.NoError(t, err)
	assert.Contains(t, logs.String(), `"labels":["bug","regression"]`)
}
