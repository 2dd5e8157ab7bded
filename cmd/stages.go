package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/internal/corpus"
	"github.com/huangsam/tsmine/internal/detector"
	"github.com/huangsam/tsmine/internal/history"
	"github.com/huangsam/tsmine/internal/imports"
	"github.com/huangsam/tsmine/internal/iocache"
	"github.com/huangsam/tsmine/internal/linkage"
	"github.com/huangsam/tsmine/internal/mapping"
	"github.com/huangsam/tsmine/internal/metrics"
	"github.com/huangsam/tsmine/internal/outwriter"
	"github.com/huangsam/tsmine/internal/smells"
	"github.com/huangsam/tsmine/internal/vcs"
	"github.com/huangsam/tsmine/schema"
	"github.com/spf13/cobra"
)

// gitClient is shared by every stage; it holds no per-repository state.
var gitClient contract.GitClient = contract.NewLocalGitClient()

// cloneCmd clones a URL list into index-prefixed targets.
var cloneCmd = &cobra.Command{
	Use:   "clone <url-list>",
	Short: "Clone every repository of a URL list",
	Long: `Clone the repositories listed one per line in <url-list>.

URL i (1-based) is cloned into <repos-dir>/[i]/[i]name, with i zero-padded to
four digits. An existing clone is removed first. Failed clones are logged and
skipped. Blank lines and # comments are ignored.

Examples:
  tsmine clone urls.txt --repos-dir ./repos`,
	Args:    cobra.ExactArgs(1),
	PreRunE: sharedSetupWrapper,
	RunE: func(_ *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		urls, err := vcs.ReadURLList(f)
		_ = f.Close()
		if err != nil {
			return err
		}
		targets, err := vcs.Clone(rootCtx, gitClient, urls, cfg.ReposDir, cfg.Workers, logger)
		if err != nil {
			return err
		}
		fmt.Printf("Cloned %d of %d repositories into %s\n", len(targets), len(urls), cfg.ReposDir)
		return nil
	},
}

// commitsCmd dumps per-repository hash lists.
var commitsCmd = &cobra.Command{
	Use:   "commits [repo...]",
	Short: "Dump the oldest-first commit hashes of each repository",
	Long: `Write commits/{repo}/{repo}.json, the oldest-first hash list up to --deadline.

Positional arguments keep only repositories whose name contains one of them.`,
	PreRunE: sharedSetupWrapper,
	RunE: func(_ *cobra.Command, args []string) error {
		d := &history.Dumper{Layout: layout(), Client: gitClient, Deadline: cfg.Deadline, Logger: logger}
		return eachTarget(args, d.Commits)
	},
}

// messagesCmd dumps per-repository hash to message maps.
var messagesCmd = &cobra.Command{
	Use:   "messages [repo...]",
	Short: "Dump the commit messages of each repository",
	Long: `Write messages/{repo}/{repo}.json, the hash to message map up to --deadline.

The link stage reads these messages and dumps them itself when they are missing.`,
	PreRunE: sharedSetupWrapper,
	RunE: func(_ *cobra.Command, args []string) error {
		d := &history.Dumper{Layout: layout(), Client: gitClient, Deadline: cfg.Deadline, Logger: logger}
		return eachTarget(args, d.Messages)
	},
}

// mapCmd writes per-commit test to production mappings.
var mapCmd = &cobra.Command{
	Use:   "map [repo...]",
	Short: "Map test files to the production files they import, per commit",
	Long: `Check out every commit of each repository and write
test_to_prod/{repo}/{repo}_{index}_{hash}.json.

A test file is one whose imports reference unittest. Each import is resolved to
the unique file whose path ends with it; ambiguous imports map to nothing.
Existing shards are skipped. --exclude takes gitignore-style patterns.`,
	PreRunE: sharedSetupWrapper,
	RunE: func(_ *cobra.Command, args []string) error {
		if !imports.IsAvailable() {
			return imports.ErrUnavailable
		}
		targets, err := discoverTargets(args)
		if err != nil {
			return err
		}
		s := &mapping.Stage{Layout: layout(), Client: gitClient, Deadline: cfg.Deadline, Excludes: cfg.Excludes, Logger: logger}
		return s.Run(rootCtx, targets, cfg.Workers)
	},
}

// invertCmd turns test to production shards into production to test shards.
var invertCmd = &cobra.Command{
	Use:     "invert [repo...]",
	Short:   "Invert test-to-prod mappings into prod-to-test mappings",
	Long:    `Write prod_to_test/{repo}/<shard> for every test_to_prod shard that lacks one.`,
	PreRunE: sharedSetupWrapper,
	RunE: func(_ *cobra.Command, args []string) error {
		targets, err := discoverTargets(args)
		if err != nil {
			return err
		}
		s := &mapping.Stage{Layout: layout(), Client: gitClient, Logger: logger}
		return s.RunInvert(rootCtx, targets, cfg.Workers)
	},
}

// linkCmd resolves bug-fixing merges.
var linkCmd = &cobra.Command{
	Use:   "link [repo...]",
	Short: "Link bug issues to the merges that fixed them",
	Long: `Read bug_issues/{repo}/{repo}.json and find the merge commits whose
message references one of the issues as #N.

Only merges with exactly two parents and a common ancestor produce a record of
merge commit, base commit and files changed against the first parent. Output is
bug_fixes/{repo}/{repo}.json plus bug_fixes/aggregated.json.`,
	PreRunE: sharedSetupWrapper,
	RunE: func(_ *cobra.Command, args []string) error {
		targets, err := discoverTargets(args)
		if err != nil {
			return err
		}
		l := layout()
		r := &linkage.Resolver{
			Layout:   l,
			Client:   gitClient,
			Issues:   linkage.FileIssueSource{Layout: l},
			Messages: &history.Dumper{Layout: l, Client: gitClient, Deadline: cfg.Deadline, Logger: logger},
			Deadline: cfg.Deadline,
			Logger:   logger,
		}
		return r.Run(rootCtx, targets, cfg.Workers)
	},
}

// detectCmd runs the smell detector on every commit.
var detectCmd = &cobra.Command{
	Use:   "detect [repo...]",
	Short: "Run the test smell detector on every commit",
	Long: `Run <detector-python> <detector-runner> <out-dir> <repo-parent> once per
commit and store each report as detector_raw/{repo}/{repo}_{index}_{hash}.json.

--div splits one repository across that many workers, each on its own copy of
the repository and the detector under --work-dir. Worker r handles the commits
whose 0-based index i satisfies i % div == r. Timeouts, non-zero exits and
missing reports are recorded in the repository's error ledger and not retried.

Repositories are processed one at a time.`,
	PreRunE: sharedSetupWrapper,
	RunE: func(_ *cobra.Command, args []string) error {
		if cfg.DetectorRunner == "" {
			return errors.New("--detector-runner is required")
		}
		targets, err := discoverTargets(args)
		if err != nil {
			return err
		}
		opts := detector.Options{
			Layout:   layout(),
			Client:   gitClient,
			Detector: &detector.Runner{Python: cfg.DetectorPython, Timeout: cfg.DetectorTimeout},
			Script:   cfg.DetectorRunner,
			WorkDir:  cfg.WorkDir,
			Deadline: cfg.Deadline,
			Logger:   logger,
		}
		return vcs.Each(rootCtx, targets, 1, logger, func(ctx context.Context, target schema.Target) error {
			_, err := detector.Execute(ctx, opts, target, cfg.Div)
			return err
		})
	},
}

// progressCmd reports detector coverage.
var progressCmd = &cobra.Command{
	Use:   "progress [repo...]",
	Short: "Show repositories the detector has not finished",
	Long: `Count, for each repository, the commits that have a detector report or an
error ledger entry, and list the repositories with commits left.

Pass --all to list complete repositories too.`,
	PreRunE: sharedSetupWrapper,
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := discoverTargets(args)
		if err != nil {
			return err
		}
		rows, err := detector.Progress(rootCtx, layout(), gitClient, targets, cfg.Deadline, cfg.Workers)
		if err != nil {
			return err
		}
		if all, _ := cmd.Flags().GetBool("all"); !all {
			rows = detector.Incomplete(rows)
		}
		return outwriter.NewOutWriter().WriteProgress(rows, cfg)
	},
}

// compactCmd compacts raw detector reports.
var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Compact raw detector reports into per-file smell counts",
	Long: `Stream every detector_raw shard, sum each smell per test file and write
smells/{repo}/<same shard name>. Existing outputs are skipped and .json.zst
reports are decompressed on the fly. A corrupt report is deleted so the detect
stage regenerates it.`,
	PreRunE: sharedSetupWrapper,
	RunE: func(_ *cobra.Command, _ []string) error {
		c := &smells.Compactor{Layout: layout(), Workers: cfg.Workers, Logger: logger, Progress: progressPrinter("compact")}
		start := time.Now()
		result, err := c.Run(rootCtx)
		if err != nil {
			return err
		}
		return outwriter.NewOutWriter().WriteCompaction(os.Stdout, "Compacted", result, time.Since(start))
	},
}

// scanCmd deletes unreadable raw reports.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Delete raw detector reports that cannot be parsed",
	Long: `Parse every detector_raw shard without writing output and delete the ones
that fail, listing each deleted path.`,
	PreRunE: sharedSetupWrapper,
	RunE: func(_ *cobra.Command, _ []string) error {
		c := &smells.Compactor{Layout: layout(), Workers: cfg.Workers, Logger: logger, Progress: progressPrinter("scan")}
		start := time.Now()
		result, err := c.Scan(rootCtx)
		if err != nil {
			return err
		}
		return outwriter.NewOutWriter().WriteCompaction(os.Stdout, "Scanned", result, time.Since(start))
	},
}

// forgeCmd builds the corpus.
var forgeCmd = &cobra.Command{
	Use:   "forge [repo...]",
	Short: "Aggregate mappings, bug fixes, smells and metrics into the corpus",
	Long: `Build corpus/{repo}/{repo}.json for each repository and corpus/aggregated.json
keyed by clone URL.

A production file touched by a bug-fixing merge is labeled buggy and measured at
the merge's base commit; any other file is measured at the latest commit.
Metrics of unchanged content come from the metrics cache. When --run-backend is
set, the run and its records are tracked for export.

--output parquet with --output-file writes one row per production file.`,
	PreRunE: sharedSetupWrapper,
	RunE: func(_ *cobra.Command, args []string) error {
		if !metrics.IsAvailable() {
			return metrics.ErrUnavailable
		}
		targets, err := discoverTargets(args)
		if err != nil {
			return err
		}

		var extractor metrics.Extractor = metrics.NewTreeSitter()
		if store := iocache.Manager.GetMetricsStore(); store != nil {
			extractor = metrics.NewCached(extractor, store, logger)
		}
		a := &corpus.Aggregator{
			Layout:    layout(),
			Client:    gitClient,
			Extractor: extractor,
			Runs:      iocache.Manager.GetRunStore(),
			Deadline:  cfg.Deadline,
			Logger:    logger,
		}
		start := time.Now()
		result, err := a.Run(rootCtx, targets, cfg.Workers)
		if err != nil {
			return err
		}
		return outwriter.NewOutWriter().WriteCorpus(result, cfg, time.Since(start))
	},
}

// provenanceCmd records the commits behind every corpus record.
var provenanceCmd = &cobra.Command{
	Use:   "provenance [repo...]",
	Short: "Record the commit each corpus record was measured at",
	Long: `Write provenance/{repo}/{repo}.json and provenance/aggregated.json from the
corpus aggregate. Buggy records get the merge and base commit of their last bug
fix; the others get the latest commit hash.`,
	PreRunE: sharedSetupWrapper,
	RunE: func(_ *cobra.Command, args []string) error {
		targets, err := discoverTargets(args)
		if err != nil {
			return err
		}
		w := &corpus.ProvenanceWriter{Layout: layout(), Client: gitClient, Deadline: cfg.Deadline, Logger: logger}
		prov, err := w.Run(rootCtx, targets)
		if err != nil {
			return err
		}
		fmt.Printf("Wrote provenance for %d repositories\n", len(prov))
		return nil
	},
}

// eachTarget discovers the targets and runs fn over them on the worker pool.
func eachTarget(args []string, fn func(context.Context, schema.Target) error) error {
	targets, err := discoverTargets(args)
	if err != nil {
		return err
	}
	return vcs.Each(rootCtx, targets, cfg.Workers, logger, fn)
}

// progressPrinter logs completed/total every tenth of the work.
func progressPrinter(stage string) smells.ProgressFunc {
	return func(done, total int) {
		step := max(total/10, 1)
		if done%step == 0 || done == total {
			logger.Info().Str("stage", stage).Msgf("%d/%d", done, total)
		}
	}
}
