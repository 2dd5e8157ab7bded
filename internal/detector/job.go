package detector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/internal/shard"
	"github.com/huangsam/tsmine/internal/vcs"
	"github.com/huangsam/tsmine/schema"
	cp "github.com/otiai10/copy"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// Removal retry policy for worker copies whose files are still held open.
var (
	removeAttempts uint = 5
	removeDelay         = 500 * time.Millisecond
	removePath          = os.RemoveAll
)

// logFile is the log the detector writes next to its result.
const logFile = "log.txt"

// Options are shared by every worker of one repository.
type Options struct {
	Layout   shard.Layout
	Client   contract.GitClient
	Detector Detector
	Script   string // Detector entry point; its directory is copied per worker
	WorkDir  string // Scratch space for worker copies
	Deadline time.Time
	Logger   zerolog.Logger
}

// Stats counts what the workers of one repository did.
type Stats struct {
	Analyzed int // Commits with a new raw shard
	Skipped  int // Commits with a shard or ledger entry already present
	Failed   int // Commits newly recorded in the ledger
}

// Job is worker r of div over one repository. It owns private copies of the
// repository and of the detector, so workers never share a checkout.
type Job struct {
	Options
	Target  schema.Target
	Commits []schema.Commit
	Ledger  *Ledger
	Worker  int
	Div     int
}

// copyName returns {repo}_{r:02d}.
func (j *Job) copyName() string {
	return fmt.Sprintf("%s_%02d", j.Target.Name, j.Worker)
}

// Execute analyzes every commit at index i (0-based) with i % Div == Worker.
// Worker copies are removed on return, including on cancellation.
func (j *Job) Execute(ctx context.Context) (stats Stats, err error) {
	name := j.copyName()
	copyParent := filepath.Join(j.WorkDir, name)
	repoCopy := filepath.Join(copyParent, name)
	toolCopy := copyParent + "_tool"
	scratch := filepath.Join(j.Layout.RepoDir(schema.DetectorStage, j.Target.Name), "."+name)
	logger := j.Logger.With().Str("repo", j.Target.Name).Int("worker", j.Worker).Logger()

	for _, dir := range []string{copyParent, toolCopy, scratch} {
		if err := removeAll(ctx, dir); err != nil {
			return stats, err
		}
	}
	defer func() {
		// Copies are removed even when ctx was cancelled
		cleanupCtx := context.WithoutCancel(ctx)
		for _, dir := range []string{copyParent, toolCopy, scratch} {
			if rmErr := removeAll(cleanupCtx, dir); rmErr != nil {
				logger.Warn().Err(rmErr).Str("path", dir).Msg("failed to remove worker copy")
				err = errors.Join(err, rmErr)
			}
		}
	}()

	if err := cp.Copy(j.Target.Path, repoCopy); err != nil {
		return stats, fmt.Errorf("copy %s: %w", j.Target.Name, err)
	}
	if err := cp.Copy(filepath.Dir(j.Script), toolCopy); err != nil {
		return stats, fmt.Errorf("copy detector: %w", err)
	}
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return stats, fmt.Errorf("create %s: %w", scratch, err)
	}
	script := filepath.Join(toolCopy, filepath.Base(j.Script))

	repo, err := vcs.Open(ctx, j.Client, schema.Target{Index: j.Target.Index, Name: name, Path: repoCopy})
	if err != nil {
		return stats, err
	}

	for i, commit := range j.Commits {
		if i%j.Div != j.Worker {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		index := i + 1
		out := j.Layout.Path(schema.DetectorStage, j.Target.Name, index, commit.Hash)
		if shard.Exists(out) || j.Ledger.Has(commit.Hash) {
			stats.Skipped++
			continue
		}

		var runErr error
		err := repo.At(ctx, commit.Hash, func(*vcs.Tree) error {
			runErr = j.Detector.Run(ctx, script, scratch, copyParent)
			return nil
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stats, ctxErr
			}
			logger.Warn().Err(err).Str("commit", commit.Hash).Msg("skipping commit")
			continue
		}
		logger.Debug().Int("index", index).Int("total", len(j.Commits)).Str("commit", commit.Hash).Msg("detector finished")

		reason, err := j.collect(ctx, runErr, scratch, name, out, i, commit.Hash)
		if err != nil {
			return stats, err
		}
		if reason == "" {
			stats.Analyzed++
			continue
		}
		logger.Warn().Err(runErr).Str("commit", commit.Hash).Str("reason", string(reason)).Msg("recorded in ledger")
		if err := j.Ledger.Record(commit.Hash, reason); err != nil {
			return stats, err
		}
		stats.Failed++
	}
	return stats, nil
}

// collect moves the detector output of commit i into place. It returns the
// ledger reason when the commit produced no usable shard.
func (j *Job) collect(ctx context.Context, runErr error, scratch, name, out string, i int, hash string) (schema.LedgerReason, error) {
	result := filepath.Join(scratch, name+shard.JSONExt)
	log := filepath.Join(scratch, logFile)

	switch {
	case runErr == nil:
	case errors.Is(runErr, ErrTimeout):
		_ = os.Remove(result)
		_ = os.Remove(log)
		return schema.ReasonTimeout, nil
	case errors.Is(runErr, ErrExitStatus):
		_ = os.Remove(result)
		return schema.ReasonExitStatus, j.keepLog(log, i, hash)
	case ctx.Err() != nil:
		return "", ctx.Err()
	default:
		return "", runErr
	}

	err := os.Rename(result, out)
	if errors.Is(err, fs.ErrNotExist) {
		return schema.ReasonOnlyLogFile, j.keepLog(log, i, hash)
	} else if err != nil {
		return "", fmt.Errorf("move detector result: %w", err)
	}
	if err := os.Remove(log); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("remove detector log: %w", err)
	}
	return "", nil
}

// keepLog renames the detector log to {repo}_{i:06d}_{hash}.txt next to the shards.
func (j *Job) keepLog(log string, i int, hash string) error {
	dest := filepath.Join(j.Layout.RepoDir(schema.DetectorStage, j.Target.Name), shard.Stem(j.Target.Name, i, hash)+".txt")
	err := os.Rename(log, dest)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("keep detector log: %w", err)
	}
	return nil
}

// Execute runs div workers over target concurrently and sums their stats.
func Execute(ctx context.Context, opts Options, target schema.Target, div int) (Stats, error) {
	if opts.Script == "" {
		return Stats{}, errors.New("detector runner script is not configured")
	}
	if div < 1 {
		return Stats{}, fmt.Errorf("invalid div %d", div)
	}
	repo, err := vcs.Open(ctx, opts.Client, target)
	if err != nil {
		return Stats{}, err
	}
	commits, err := repo.History(ctx, opts.Deadline)
	if err != nil {
		return Stats{}, err
	}
	ledger, err := OpenLedger(LedgerPath(opts.Layout, target.Name))
	if err != nil {
		return Stats{}, err
	}

	var analyzed, skipped, failed atomic.Int64
	p := pool.New().WithContext(ctx)
	for r := range div {
		job := &Job{Options: opts, Target: target, Commits: commits, Ledger: ledger, Worker: r, Div: div}
		p.Go(func(ctx context.Context) error {
			stats, err := job.Execute(ctx)
			analyzed.Add(int64(stats.Analyzed))
			skipped.Add(int64(stats.Skipped))
			failed.Add(int64(stats.Failed))
			return err
		})
	}
	err = p.Wait()

	stats := Stats{Analyzed: int(analyzed.Load()), Skipped: int(skipped.Load()), Failed: int(failed.Load())}
	opts.Logger.Info().
		Str("repo", target.Name).
		Int("analyzed", stats.Analyzed).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Msg("detector pass complete")
	return stats, err
}

// removeAll removes path, retrying at a constant interval while the
// filesystem reports it busy.
func removeAll(ctx context.Context, path string) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := removePath(path)
		if err != nil && !isBusy(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(backoff.NewConstantBackOff(removeDelay)), backoff.WithMaxTries(removeAttempts))
	if err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func isBusy(err error) bool {
	return errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.ENOTEMPTY)
}
