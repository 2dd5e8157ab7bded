// Package corpus joins mappings, bug-fix records, smell summaries and static
// metrics into the labeled dataset.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path"
	"slices"
	"sync"
	"time"

	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/internal/linkage"
	"github.com/huangsam/tsmine/internal/metrics"
	"github.com/huangsam/tsmine/internal/shard"
	"github.com/huangsam/tsmine/internal/vcs"
	"github.com/huangsam/tsmine/schema"
	"github.com/rs/zerolog"
)

// initFile is excluded from the corpus: package initializers carry no signal.
const initFile = "__init__.py"

// ErrNoHistory is returned for a repository without commits before the deadline.
var ErrNoHistory = errors.New("repository has no history")

// Aggregator builds corpus records one repository at a time.
type Aggregator struct {
	Layout    shard.Layout
	Client    contract.GitClient
	Extractor metrics.Extractor
	Runs      contract.RunStore // optional audit trail
	Deadline  time.Time
	Logger    zerolog.Logger
}

// RepoResult is the outcome of aggregating one repository.
type RepoResult struct {
	Target    schema.Target
	CloneURL  string
	Records   schema.RepoCorpus
	Revisions map[string]string // production path -> measured commit, fresh results only
	Reused    bool
}

// candidate is a production file that survived the shard joins and still
// needs metrics at its target revision.
type candidate struct {
	prod     string
	tests    []string
	smells   schema.SmellCounts
	bug      int
	revision string
}

// AggregateRepository returns the corpus records of target, reusing
// corpus/{repo}/{repo}.json when it exists. Fresh results are written before
// returning.
func (a *Aggregator) AggregateRepository(ctx context.Context, target schema.Target) (RepoResult, error) {
	repo, err := vcs.Open(ctx, a.Client, target)
	if err != nil {
		return RepoResult{}, err
	}
	cloneURL, err := repo.CloneURL(ctx)
	if err != nil {
		return RepoResult{}, fmt.Errorf("clone url of %s: %w", target.Name, err)
	}
	result := RepoResult{Target: target, CloneURL: cloneURL}

	out := a.Layout.RepoFile(schema.CorpusStage, target.Name)
	if shard.Exists(out) {
		if err := shard.ReadJSON(out, &result.Records); err != nil {
			return RepoResult{}, err
		}
		result.Reused = true
		return result, nil
	}

	candidates, latest, err := a.candidates(ctx, repo)
	if err != nil {
		return RepoResult{}, err
	}
	result.Records, result.Revisions, err = a.measure(ctx, repo, candidates, latest)
	if err != nil {
		return RepoResult{}, err
	}
	if err := shard.WriteJSONIndent(out, result.Records); err != nil {
		return RepoResult{}, err
	}
	a.Logger.Info().
		Str("repo", target.Name).
		Int("candidates", len(candidates)).
		Int("records", len(result.Records)).
		Msg("corpus repository complete")
	return result, nil
}

// candidates selects the target revision of every relevant production file
// and joins its test files and smell counts. Files lacking upstream coverage
// are dropped.
func (a *Aggregator) candidates(ctx context.Context, repo *vcs.Repository) ([]candidate, string, error) {
	name := repo.Name()
	latestMapping, err := a.loadMapping(a.Layout.Latest(schema.ProdToTestStage, name))
	if err != nil {
		return nil, "", err
	}
	records, err := linkage.LoadRecords(a.Layout, name)
	if err != nil {
		return nil, "", fmt.Errorf("bug-fix records of %s: %w", name, err)
	}
	commits, err := repo.History(ctx, a.Deadline)
	if err != nil {
		return nil, "", err
	}
	if len(commits) == 0 {
		return nil, "", fmt.Errorf("%s: %w", name, ErrNoHistory)
	}
	latest := commits[len(commits)-1].Hash

	j := &joiner{layout: a.Layout, repo: name, summaries: make(map[string]schema.SmellSummary), mappings: make(map[string]schema.Mapping)}
	logger := a.Logger.With().Str("repo", name).Logger()

	var out []candidate
	for _, prod := range latestMapping.Keys() {
		if path.Base(prod) == initFile {
			continue
		}
		changes, err := repo.ChangeCount(ctx, prod, a.Deadline)
		if err != nil {
			return nil, "", err
		}
		if changes == 1 {
			continue
		}

		c := candidate{prod: prod, revision: latest, tests: latestMapping[prod]}
		var smellsPath string
		var lookupErr error
		if rec, ok := linkage.LastTouching(records, prod); ok {
			c.bug = 1
			c.revision = rec.BaseCommit
			if c.tests, lookupErr = j.testsAt(rec.BaseCommit, prod); lookupErr == nil {
				smellsPath, lookupErr = a.Layout.FindByHash(schema.SmellsStage, name, rec.BaseCommit)
			}
		} else {
			smellsPath, lookupErr = a.Layout.Latest(schema.SmellsStage, name)
		}
		if errors.Is(lookupErr, shard.ErrNotFound) {
			logger.Debug().Str("prod", prod).Err(lookupErr).Msg("dropped: no shard at target revision")
			continue
		} else if lookupErr != nil {
			return nil, "", lookupErr
		}
		if len(c.tests) == 0 {
			logger.Debug().Str("prod", prod).Msg("dropped: no test files")
			continue
		}

		smells, ok, err := j.smells(smellsPath, c.tests)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			logger.Debug().Str("prod", prod).Msg("dropped: test file missing from smell summary")
			continue
		}
		c.smells = smells
		out = append(out, c)
	}
	return out, latest, nil
}

// measure checks out each distinct revision once and computes the metrics of
// every candidate targeting it. The latest revision goes last so the clone is
// left at the tip of the history it was mined from.
func (a *Aggregator) measure(ctx context.Context, repo *vcs.Repository, candidates []candidate, latest string) (schema.RepoCorpus, map[string]string, error) {
	var revisions []string
	byRevision := make(map[string][]candidate)
	for _, c := range candidates {
		if _, ok := byRevision[c.revision]; !ok && c.revision != latest {
			revisions = append(revisions, c.revision)
		}
		byRevision[c.revision] = append(byRevision[c.revision], c)
	}
	if len(revisions) > 0 || len(byRevision[latest]) > 0 {
		revisions = append(revisions, latest)
	}

	records := make(schema.RepoCorpus)
	measured := make(map[string]string)
	logger := a.Logger.With().Str("repo", repo.Name()).Logger()
	for _, revision := range revisions {
		err := repo.At(ctx, revision, func(tree *vcs.Tree) error {
			for _, c := range byRevision[revision] {
				prodMetrics, err := a.extract(ctx, tree, c.prod)
				if errors.Is(err, metrics.ErrUnusable) || errors.Is(err, fs.ErrNotExist) {
					logger.Debug().Str("prod", c.prod).Err(err).Msg("dropped: production file unusable")
					continue
				} else if err != nil {
					return err
				}
				testMetrics, err := a.combinedTestMetrics(ctx, tree, c.tests)
				if err != nil {
					return err
				}
				if testMetrics == nil {
					logger.Debug().Str("prod", c.prod).Msg("dropped: every test file unusable")
					continue
				}
				records[c.prod] = schema.CorpusRecord{
					ProdMetrics: prodMetrics,
					TestFiles:   c.tests,
					TestMetrics: testMetrics,
					Smells:      c.smells,
					Bug:         c.bug,
				}
				measured[c.prod] = revision
			}
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
	}
	return records, measured, nil
}

func (a *Aggregator) extract(ctx context.Context, tree *vcs.Tree, rel string) (schema.Metrics, error) {
	src, err := tree.ReadFile(rel)
	if err != nil {
		return nil, err
	}
	return a.Extractor.Extract(ctx, rel, src)
}

// combinedTestMetrics skips unusable test files and returns nil when none is usable.
func (a *Aggregator) combinedTestMetrics(ctx context.Context, tree *vcs.Tree, tests []string) (schema.Metrics, error) {
	var all []schema.Metrics
	for _, test := range tests {
		m, err := a.extract(ctx, tree, test)
		if errors.Is(err, metrics.ErrUnusable) || errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, err
		}
		all = append(all, m)
	}
	return metrics.Combine(all), nil
}

// loadMapping reads a mapping shard, passing through lookup errors.
func (a *Aggregator) loadMapping(path string, err error) (schema.Mapping, error) {
	if err != nil {
		return nil, err
	}
	var m schema.Mapping
	if err := shard.ReadJSON(path, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// joiner caches the shards read while selecting candidates of one repository.
type joiner struct {
	layout    shard.Layout
	repo      string
	summaries map[string]schema.SmellSummary
	mappings  map[string]schema.Mapping
}

// testsAt returns the test files mapped to prod in the prod_to_test shard of hash.
func (j *joiner) testsAt(hash, prod string) ([]string, error) {
	m, ok := j.mappings[hash]
	if !ok {
		p, err := j.layout.FindByHash(schema.ProdToTestStage, j.repo, hash)
		if err != nil {
			return nil, err
		}
		if err := shard.ReadJSON(p, &m); err != nil {
			return nil, err
		}
		j.mappings[hash] = m
	}
	return m[prod], nil
}

// smells sums the summaries of tests, looked up by base name. ok is false
// when any test file is absent from the summary.
func (j *joiner) smells(summaryPath string, tests []string) (schema.SmellCounts, bool, error) {
	summary, cached := j.summaries[summaryPath]
	if !cached {
		if err := shard.ReadJSON(summaryPath, &summary); err != nil {
			return nil, false, err
		}
		j.summaries[summaryPath] = summary
	}
	total := make(schema.SmellCounts)
	for _, test := range tests {
		counts, ok := summary[path.Base(test)]
		if !ok {
			return nil, false, nil
		}
		total.Add(counts)
	}
	return total, true, nil
}

// Run aggregates every target on a bounded pool, then rewrites
// corpus/aggregated.json keyed by clone URL. Empty results are omitted.
func (a *Aggregator) Run(ctx context.Context, targets []schema.Target, workers int) (schema.Corpus, error) {
	runID := a.beginRun(len(targets), workers)

	var (
		mu      sync.Mutex
		corpus  = make(schema.Corpus)
		written int
	)
	err := vcs.Each(ctx, targets, workers, a.Logger, func(ctx context.Context, target schema.Target) error {
		result, err := a.AggregateRepository(ctx, target)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		if len(result.Records) > 0 {
			corpus[result.CloneURL] = result.Records
		}
		written += a.recordRun(runID, result)
		return nil
	})
	a.endRun(runID, written)
	if err != nil {
		return nil, err
	}

	if err := shard.WriteJSONIndent(a.Layout.AggregatedFile(schema.CorpusStage), corpus); err != nil {
		return nil, err
	}
	a.Logger.Info().Int("repos", len(corpus)).Msg("corpus aggregate written")
	return corpus, nil
}

func (a *Aggregator) beginRun(targets, workers int) string {
	if a.Runs == nil {
		return ""
	}
	params := map[string]any{"targets": targets, "workers": workers}
	if !a.Deadline.IsZero() {
		params["deadline"] = a.Deadline.Format(time.RFC3339)
	}
	runID, err := a.Runs.BeginRun(schema.CorpusStage, time.Now(), params)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("run tracking disabled")
		return ""
	}
	return runID
}

// recordRun stores the fresh records of one repository and returns how many were stored.
func (a *Aggregator) recordRun(runID string, result RepoResult) int {
	if runID == "" || result.Reused {
		return 0
	}
	n := 0
	for _, prod := range slices.Sorted(maps.Keys(result.Records)) {
		err := a.Runs.RecordCorpus(runID, result.CloneURL, prod, result.Revisions[prod], result.Records[prod])
		if err != nil {
			a.Logger.Warn().Err(err).Str("prod", prod).Msg("failed to track corpus record")
			continue
		}
		n++
	}
	return n
}

func (a *Aggregator) endRun(runID string, written int) {
	if runID == "" {
		return
	}
	if err := a.Runs.EndRun(runID, time.Now(), written); err != nil {
		a.Logger.Warn().Err(err).Msg("failed to close run")
	}
}

// LoadAggregate reads corpus/aggregated.json.
func LoadAggregate(layout shard.Layout) (schema.Corpus, error) {
	var corpus schema.Corpus
	if err := shard.ReadJSON(layout.AggregatedFile(schema.CorpusStage), &corpus); err != nil {
		return nil, err
	}
	return corpus, nil
}
