package detector

import (
	"context"
	"time"

	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/internal/shard"
	"github.com/huangsam/tsmine/internal/vcs"
	"github.com/huangsam/tsmine/schema"
	"github.com/sourcegraph/conc/pool"
)

// Progress counts, for every target, the commits that have a raw shard or a
// ledger entry. Rows keep the order of targets.
func Progress(ctx context.Context, layout shard.Layout, client contract.GitClient, targets []schema.Target, deadline time.Time, workers int) ([]schema.ProgressRow, error) {
	rows := make([]schema.ProgressRow, len(targets))
	p := pool.New().WithMaxGoroutines(max(workers, 1)).WithContext(ctx)
	for i, target := range targets {
		p.Go(func(ctx context.Context) error {
			row, err := progressOf(ctx, layout, client, target, deadline)
			if err != nil {
				return err
			}
			rows[i] = row
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

func progressOf(ctx context.Context, layout shard.Layout, client contract.GitClient, target schema.Target, deadline time.Time) (schema.ProgressRow, error) {
	repo, err := vcs.Open(ctx, client, target)
	if err != nil {
		return schema.ProgressRow{}, err
	}
	commits, err := repo.History(ctx, deadline)
	if err != nil {
		return schema.ProgressRow{}, err
	}
	ledger, err := LoadLedger(LedgerPath(layout, target.Name))
	if err != nil {
		return schema.ProgressRow{}, err
	}

	row := schema.ProgressRow{Repo: target.Name, Total: len(commits)}
	for i, c := range commits {
		_, failed := ledger[c.Hash]
		if failed || layout.Exists(schema.DetectorStage, target.Name, i+1, c.Hash) {
			row.Analyzed++
		}
	}
	return row, nil
}

// Incomplete keeps the rows with commits left to analyze.
func Incomplete(rows []schema.ProgressRow) []schema.ProgressRow {
	var out []schema.ProgressRow
	for _, row := range rows {
		if !row.Complete() {
			out = append(out, row)
		}
	}
	return out
}
