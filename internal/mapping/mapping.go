// Package mapping produces the per-commit test -> production shards and their
// production -> test inversions.
package mapping

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/internal/imports"
	"github.com/huangsam/tsmine/internal/shard"
	"github.com/huangsam/tsmine/internal/vcs"
	"github.com/huangsam/tsmine/schema"
	"github.com/rs/zerolog"
)

// Invert turns a test -> production mapping into production -> test. Every
// value list is sorted and free of duplicates.
func Invert(m schema.Mapping) schema.Mapping {
	out := make(schema.Mapping)
	for test, prods := range m {
		for _, prod := range prods {
			out[prod] = append(out[prod], test)
		}
	}
	for prod, tests := range out {
		slices.Sort(tests)
		out[prod] = slices.Compact(tests)
	}
	return out
}

// Stage writes mapping shards for repositories.
type Stage struct {
	Layout   shard.Layout
	Client   contract.GitClient
	Deadline time.Time // Zero means the whole history
	Excludes []string
	Logger   zerolog.Logger
}

// MapRepository writes one test_to_prod shard per commit that lacks one and
// returns how many were written. Commits are visited oldest first through the
// repository's exclusive checkout.
func (s *Stage) MapRepository(ctx context.Context, target schema.Target) (int, error) {
	repo, err := vcs.Open(ctx, s.Client, target)
	if err != nil {
		return 0, err
	}
	commits, err := repo.History(ctx, s.Deadline)
	if err != nil {
		return 0, err
	}

	logger := s.Logger.With().Str("repo", target.Name).Logger()
	resolver := imports.NewResolver(s.Excludes, logger)
	written := 0
	for i, commit := range commits {
		index := i + 1
		path := s.Layout.Path(schema.TestToProdStage, target.Name, index, commit.Hash)
		if shard.Exists(path) {
			continue
		}
		err := repo.At(ctx, commit.Hash, func(tree *vcs.Tree) error {
			m, err := resolver.MapTree(ctx, tree)
			if err != nil {
				return err
			}
			return shard.WriteJSON(path, m)
		})
		if err != nil {
			return written, fmt.Errorf("map %s commit %d: %w", target.Name, index, err)
		}
		written++
		logger.Debug().Int("index", index).Int("total", len(commits)).Msg("mapped commit")
	}
	logger.Info().Int("written", written).Int("commits", len(commits)).Msg("mapping complete")
	return written, nil
}

// InvertRepository writes the prod_to_test counterpart of every test_to_prod
// shard of repo that lacks one and returns how many were written.
func (s *Stage) InvertRepository(repo string) (int, error) {
	names, err := s.Layout.List(schema.TestToProdStage, repo)
	if err != nil {
		return 0, err
	}
	written := 0
	for _, name := range names {
		out := filepath.Join(s.Layout.RepoDir(schema.ProdToTestStage, repo), name)
		if shard.Exists(out) {
			continue
		}
		var m schema.Mapping
		if err := shard.ReadJSON(filepath.Join(s.Layout.RepoDir(schema.TestToProdStage, repo), name), &m); err != nil {
			return written, err
		}
		if err := shard.WriteJSON(out, Invert(m)); err != nil {
			return written, err
		}
		written++
	}
	s.Logger.Info().Str("repo", repo).Int("written", written).Msg("inversion complete")
	return written, nil
}

// Run maps every target on a bounded pool.
func (s *Stage) Run(ctx context.Context, targets []schema.Target, workers int) error {
	return vcs.Each(ctx, targets, workers, s.Logger, func(ctx context.Context, target schema.Target) error {
		_, err := s.MapRepository(ctx, target)
		return err
	})
}

// RunInvert inverts the shards of every target on a bounded pool.
func (s *Stage) RunInvert(ctx context.Context, targets []schema.Target, workers int) error {
	return vcs.Each(ctx, targets, workers, s.Logger, func(_ context.Context, target schema.Target) error {
		_, err := s.InvertRepository(target.Name)
		return err
	})
}
