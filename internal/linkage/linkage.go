// Package linkage finds the merges that fixed referenced issues and the
// pre-fix state each one was based on.
package linkage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"time"

	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/internal/history"
	"github.com/huangsam/tsmine/internal/shard"
	"github.com/huangsam/tsmine/internal/vcs"
	"github.com/huangsam/tsmine/schema"
	"github.com/rs/zerolog"
)

// issueRefRe matches #N. The greedy digit run guarantees #12 never matches #123.
var issueRefRe = regexp.MustCompile(`#(\d+)`)

// IssueSource provides the bug issue numbers of a repository.
type IssueSource interface {
	Issues(repo string) ([]int, error)
}

// labelSource is an IssueSource that also knows the labels behind its issues.
type labelSource interface {
	Labels(repo string) ([]string, error)
}

// FileIssueSource reads the issue tracker exports from the results tree.
type FileIssueSource struct {
	Layout shard.Layout
}

var (
	_ IssueSource = FileIssueSource{} // Compile-time check
	_ labelSource = FileIssueSource{}
)

// Issues reads bug_issues/{repo}/{repo}.json.
func (s FileIssueSource) Issues(repo string) ([]int, error) {
	var issues []int
	if err := shard.ReadJSON(s.Layout.RepoFile(schema.BugIssuesStage, repo), &issues); err != nil {
		return nil, fmt.Errorf("issues of %s: %w", repo, err)
	}
	return issues, nil
}

// Labels reads bug_labels/{repo}/{repo}.json, the labels that selected the issues.
func (s FileIssueSource) Labels(repo string) ([]string, error) {
	var labels []string
	if err := shard.ReadJSON(s.Layout.RepoFile(schema.BugLabelsStage, repo), &labels); err != nil {
		return nil, fmt.Errorf("labels of %s: %w", repo, err)
	}
	return labels, nil
}

// Candidates returns the hashes, in history order, whose message references
// any of the issues.
func Candidates(commits []schema.Commit, messages map[string]string, issues []int) []string {
	wanted := make(map[int]struct{}, len(issues))
	for _, n := range issues {
		wanted[n] = struct{}{}
	}

	var hashes []string
	seen := make(map[string]struct{})
	for _, c := range commits {
		if _, dup := seen[c.Hash]; dup {
			continue
		}
		msg, ok := messages[c.Hash]
		if !ok {
			msg = c.Message
		}
		for _, m := range issueRefRe.FindAllStringSubmatch(msg, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			if _, ok := wanted[n]; ok {
				hashes = append(hashes, c.Hash)
				seen[c.Hash] = struct{}{}
				break
			}
		}
	}
	return hashes
}

// Resolver turns candidate commits into bug-fix records.
type Resolver struct {
	Layout   shard.Layout
	Client   contract.GitClient
	Issues   IssueSource
	Messages *history.Dumper
	Deadline time.Time
	Logger   zerolog.Logger
}

// ResolveRepository returns the bug-fix records of target, reusing the
// per-repository output when it already exists.
func (r *Resolver) ResolveRepository(ctx context.Context, target schema.Target) ([]schema.BugFixRecord, error) {
	out := r.Layout.RepoFile(schema.BugFixesStage, target.Name)
	if shard.Exists(out) {
		return LoadRecords(r.Layout, target.Name)
	}

	issues, err := r.Issues.Issues(target.Name)
	if err != nil {
		return nil, err
	}
	repo, err := vcs.Open(ctx, r.Client, target)
	if err != nil {
		return nil, err
	}
	commits, err := repo.History(ctx, r.Deadline)
	if err != nil {
		return nil, err
	}
	messages, err := r.Messages.LoadMessages(ctx, target)
	if err != nil {
		return nil, err
	}

	logger := r.Logger.With().Str("repo", target.Name).Logger()
	if ls, ok := r.Issues.(labelSource); ok {
		labels, err := ls.Labels(target.Name)
		switch {
		case err == nil:
			logger = logger.With().Strs("labels", labels).Logger()
		case !errors.Is(err, fs.ErrNotExist):
			logger.Warn().Err(err).Msg("unreadable label export")
		}
	}
	candidates := Candidates(commits, messages, issues)
	records := make([]schema.BugFixRecord, 0, len(candidates))
	for _, hash := range candidates {
		rec, ok, err := Resolve(ctx, repo, hash)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Warn().Err(err).Str("commit", hash).Msg("skipping candidate")
			continue
		}
		if ok {
			records = append(records, rec)
		}
	}

	if err := shard.WriteJSON(out, records); err != nil {
		return nil, err
	}
	logger.Info().Int("candidates", len(candidates)).Int("records", len(records)).Msg("linkage complete")
	return records, nil
}

// Resolve builds the record of one candidate. Only two-parent merges whose
// parents share an ancestor produce a record.
func Resolve(ctx context.Context, repo *vcs.Repository, hash string) (schema.BugFixRecord, bool, error) {
	parents, err := repo.Parents(ctx, hash)
	if err != nil {
		return schema.BugFixRecord{}, false, err
	}
	if len(parents) != 2 {
		return schema.BugFixRecord{}, false, nil
	}
	base, err := repo.MergeBase(ctx, parents[0], parents[1])
	if err != nil {
		return schema.BugFixRecord{}, false, err
	}
	if base == "" {
		return schema.BugFixRecord{}, false, nil
	}
	files, err := repo.ChangedFiles(ctx, hash)
	if err != nil {
		return schema.BugFixRecord{}, false, err
	}
	if files == nil {
		files = []string{}
	}
	return schema.BugFixRecord{MergeCommit: hash, BaseCommit: base, ChangedFiles: files}, true, nil
}

// Run resolves every target on a bounded pool, then rewrites the aggregate
// keyed by repository name.
func (r *Resolver) Run(ctx context.Context, targets []schema.Target, workers int) error {
	err := vcs.Each(ctx, targets, workers, r.Logger, func(ctx context.Context, target schema.Target) error {
		_, err := r.ResolveRepository(ctx, target)
		if errors.Is(err, fs.ErrNotExist) {
			r.Logger.Warn().Str("repo", target.Name).Msg("no issue export, skipping")
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	return Aggregate(r.Layout)
}

// Aggregate writes bug_fixes/aggregated.json from every per-repository output.
func Aggregate(layout shard.Layout) error {
	all, err := shard.CollectRepoFiles[[]schema.BugFixRecord](layout, schema.BugFixesStage)
	if err != nil {
		return err
	}
	return shard.WriteJSON(layout.AggregatedFile(schema.BugFixesStage), all)
}

// LoadRecords reads the bug-fix records of one repository.
func LoadRecords(layout shard.Layout, repo string) ([]schema.BugFixRecord, error) {
	var records []schema.BugFixRecord
	if err := shard.ReadJSON(layout.RepoFile(schema.BugFixesStage, repo), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// LastTouching returns the last record, in record order, that changed path.
func LastTouching(records []schema.BugFixRecord, path string) (schema.BugFixRecord, bool) {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Touches(path) {
			return records[i], true
		}
	}
	return schema.BugFixRecord{}, false
}
