// Package shard addresses the per-commit outputs of every pipeline stage.
//
// A shard lives at <root>/<stage>/<repo>/<repo>_<index:06d>_<hash>.json. Its
// presence on disk is the only signal that a stage finished a commit.
package shard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/huangsam/tsmine/schema"
)

// Extensions accepted for shard files.
const (
	JSONExt = ".json"
	ZstdExt = ".json.zst"
)

// ErrNotFound is returned when no shard matches a lookup.
var ErrNotFound = errors.New("shard not found")

var nameRe = regexp.MustCompile(`^(.+)_(\d{6,})_([0-9a-f]{7,64})(\.json(?:\.zst)?)$`)

// Key identifies one shard.
type Key struct {
	Repo  string
	Index int
	Hash  string
}

// Name returns the canonical JSON file name of a shard.
func Name(repo string, index int, hash string) string {
	return Stem(repo, index, hash) + JSONExt
}

// Stem returns the shard name without an extension.
func Stem(repo string, index int, hash string) string {
	return fmt.Sprintf("%s_%06d_%s", repo, index, hash)
}

// Parse decodes a shard file name. Ledgers, logs and per-repo files do not parse.
func Parse(name string) (Key, bool) {
	m := nameRe.FindStringSubmatch(name)
	if m == nil {
		return Key{}, false
	}
	index, err := strconv.Atoi(m[2])
	if err != nil {
		return Key{}, false
	}
	return Key{Repo: m[1], Index: index, Hash: m[3]}, true
}

// Layout resolves stage paths under one results root.
type Layout struct {
	Root string
}

// StageDir returns <root>/<stage>.
func (l Layout) StageDir(stage schema.Stage) string {
	return filepath.Join(l.Root, string(stage))
}

// RepoDir returns <root>/<stage>/<repo>.
func (l Layout) RepoDir(stage schema.Stage, repo string) string {
	return filepath.Join(l.StageDir(stage), repo)
}

// Path returns the JSON shard path of one commit.
func (l Layout) Path(stage schema.Stage, repo string, index int, hash string) string {
	return filepath.Join(l.RepoDir(stage, repo), Name(repo, index, hash))
}

// RepoFile returns <root>/<stage>/<repo>/<repo>.json, the per-repository output.
func (l Layout) RepoFile(stage schema.Stage, repo string) string {
	return filepath.Join(l.RepoDir(stage, repo), repo+JSONExt)
}

// AggregatedFile returns <root>/<stage>/aggregated.json.
func (l Layout) AggregatedFile(stage schema.Stage) string {
	return filepath.Join(l.StageDir(stage), schema.AggregatedFile)
}

// Exists reports whether the shard of one commit is present.
func (l Layout) Exists(stage schema.Stage, repo string, index int, hash string) bool {
	return Exists(l.Path(stage, repo, index, hash))
}

// List returns the shard file names of a repository in name order. A missing
// directory yields an empty list.
func (l Layout) List(stage schema.Stage, repo string) ([]string, error) {
	entries, err := os.ReadDir(l.RepoDir(stage, repo))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("list %s shards of %s: %w", stage, repo, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), JSONExt) {
			if _, ok := Parse(entry.Name()); ok {
				names = append(names, entry.Name())
			}
		}
	}
	slices.Sort(names)
	return names, nil
}

// Latest returns the path of the last shard by name.
func (l Layout) Latest(stage schema.Stage, repo string) (string, error) {
	names, err := l.List(stage, repo)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("%s/%s: %w", stage, repo, ErrNotFound)
	}
	return filepath.Join(l.RepoDir(stage, repo), names[len(names)-1]), nil
}

// FindByHash returns the path of the shard whose name carries hash.
func (l Layout) FindByHash(stage schema.Stage, repo string, hash string) (string, error) {
	names, err := l.List(stage, repo)
	if err != nil {
		return "", err
	}
	for _, name := range names {
		if key, _ := Parse(name); key.Hash == hash {
			return filepath.Join(l.RepoDir(stage, repo), name), nil
		}
	}
	return "", fmt.Errorf("%s/%s@%s: %w", stage, repo, hash, ErrNotFound)
}

// Repos returns the repository directories present under a stage, sorted.
func (l Layout) Repos(stage schema.Stage) ([]string, error) {
	entries, err := os.ReadDir(l.StageDir(stage))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("list %s: %w", stage, err)
	}
	var repos []string
	for _, entry := range entries {
		if entry.IsDir() {
			repos = append(repos, entry.Name())
		}
	}
	return repos, nil
}

// Exists reports whether path is present.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteJSON encodes v compactly and atomically replaces path.
func WriteJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return WriteAtomic(path, data)
}

// WriteJSONIndent encodes v with indentation and atomically replaces path.
func WriteJSONIndent(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return WriteAtomic(path, data)
}

// WriteAtomic writes data to a temporary sibling and renames it over path, so
// readers never observe a partial shard. A file already holding data is left
// untouched.
func WriteAtomic(path string, data []byte) error {
	if current, err := os.ReadFile(path); err == nil && bytes.Equal(current, data) {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", filepath.Base(path), err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }() // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadJSON decodes the JSON file at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// CollectRepoFiles reads every <repo>/<repo>.json of a stage into a map keyed
// by repository name. Repositories without the file are skipped.
func CollectRepoFiles[T any](l Layout, stage schema.Stage) (map[string]T, error) {
	repos, err := l.Repos(stage)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(repos))
	for _, repo := range repos {
		var v T
		err := ReadJSON(l.RepoFile(stage, repo), &v)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, err
		}
		out[repo] = v
	}
	return out, nil
}
