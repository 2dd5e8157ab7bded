package corpus

import (
	"context"
	"fmt"
	"time"

	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/internal/linkage"
	"github.com/huangsam/tsmine/internal/shard"
	"github.com/huangsam/tsmine/internal/vcs"
	"github.com/huangsam/tsmine/schema"
	"github.com/rs/zerolog"
)

// ProvenanceWriter records which commit every corpus record was measured at.
type ProvenanceWriter struct {
	Layout   shard.Layout
	Client   contract.GitClient
	Deadline time.Time
	Logger   zerolog.Logger
}

// RepoProvenance returns the provenance of one repository's records. Buggy
// records carry the merge and base commit of the last matching bug fix;
// others carry the latest commit.
func RepoProvenance(records schema.RepoCorpus, fixes []schema.BugFixRecord, latest string) map[string]schema.Provenance {
	out := make(map[string]schema.Provenance, len(records))
	for prod, rec := range records {
		if rec.Bug == 1 {
			if fix, ok := linkage.LastTouching(fixes, prod); ok {
				out[prod] = schema.Provenance{MergeCommit: fix.MergeCommit, BaseCommit: fix.BaseCommit}
				continue
			}
		}
		out[prod] = schema.Provenance{LatestCommit: latest}
	}
	return out
}

// Run writes provenance/{repo}/{repo}.json for every target present in the
// corpus aggregate, then provenance/aggregated.json keyed by clone URL.
func (w *ProvenanceWriter) Run(ctx context.Context, targets []schema.Target) (map[string]map[string]schema.Provenance, error) {
	corpus, err := LoadAggregate(w.Layout)
	if err != nil {
		return nil, fmt.Errorf("load corpus aggregate: %w", err)
	}

	aggregated := make(map[string]map[string]schema.Provenance)
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		repo, err := vcs.Open(ctx, w.Client, target)
		if err != nil {
			return nil, err
		}
		cloneURL, err := repo.CloneURL(ctx)
		if err != nil {
			return nil, fmt.Errorf("clone url of %s: %w", target.Name, err)
		}
		records, ok := corpus[cloneURL]
		if !ok {
			continue
		}

		commits, err := repo.History(ctx, w.Deadline)
		if err != nil {
			return nil, err
		}
		if len(commits) == 0 {
			return nil, fmt.Errorf("%s: %w", target.Name, ErrNoHistory)
		}
		fixes, err := linkage.LoadRecords(w.Layout, target.Name)
		if err != nil {
			return nil, fmt.Errorf("bug-fix records of %s: %w", target.Name, err)
		}

		prov := RepoProvenance(records, fixes, commits[len(commits)-1].Hash)
		if err := shard.WriteJSONIndent(w.Layout.RepoFile(schema.ProvenanceStage, target.Name), prov); err != nil {
			return nil, err
		}
		aggregated[cloneURL] = prov
		w.Logger.Info().Str("repo", target.Name).Int("records", len(prov)).Msg("provenance written")
	}

	if err := shard.WriteJSONIndent(w.Layout.AggregatedFile(schema.ProvenanceStage), aggregated); err != nil {
		return nil, err
	}
	return aggregated, nil
}
