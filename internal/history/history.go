// Package history dumps the commit lists and commit messages of repositories
// for the stages that only need history, not checkouts.
package history

import (
	"context"
	"time"

	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/internal/shard"
	"github.com/huangsam/tsmine/internal/vcs"
	"github.com/huangsam/tsmine/schema"
	"github.com/rs/zerolog"
)

// Dumper writes commits/{repo}/{repo}.json and messages/{repo}/{repo}.json.
type Dumper struct {
	Layout   shard.Layout
	Client   contract.GitClient
	Deadline time.Time
	Logger   zerolog.Logger
}

// Commits writes the oldest-first hash list of target unless it exists.
func (d *Dumper) Commits(ctx context.Context, target schema.Target) error {
	path := d.Layout.RepoFile(schema.CommitsStage, target.Name)
	if shard.Exists(path) {
		return nil
	}
	repo, err := vcs.Open(ctx, d.Client, target)
	if err != nil {
		return err
	}
	commits, err := repo.History(ctx, d.Deadline)
	if err != nil {
		return err
	}
	hashes := make([]string, len(commits))
	for i, c := range commits {
		hashes[i] = c.Hash
	}
	d.Logger.Info().Str("repo", target.Name).Int("commits", len(hashes)).Msg("commits dumped")
	return shard.WriteJSON(path, hashes)
}

// Messages writes the hash -> message map of target unless it exists.
func (d *Dumper) Messages(ctx context.Context, target schema.Target) error {
	path := d.Layout.RepoFile(schema.MessagesStage, target.Name)
	if shard.Exists(path) {
		return nil
	}
	repo, err := vcs.Open(ctx, d.Client, target)
	if err != nil {
		return err
	}
	messages, err := repo.Messages(ctx, d.Deadline)
	if err != nil {
		return err
	}
	d.Logger.Info().Str("repo", target.Name).Int("messages", len(messages)).Msg("messages dumped")
	return shard.WriteJSON(path, messages)
}

// LoadMessages returns the dumped messages of repo, dumping them first when absent.
func (d *Dumper) LoadMessages(ctx context.Context, target schema.Target) (map[string]string, error) {
	if err := d.Messages(ctx, target); err != nil {
		return nil, err
	}
	var messages map[string]string
	if err := shard.ReadJSON(d.Layout.RepoFile(schema.MessagesStage, target.Name), &messages); err != nil {
		return nil, err
	}
	return messages, nil
}
