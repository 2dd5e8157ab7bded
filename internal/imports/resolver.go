package imports

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/huangsam/tsmine/schema"
	"github.com/rs/zerolog"
	ignore "github.com/sabhiram/go-gitignore"
)

// Tree is a checked-out revision whose files can be walked.
type Tree interface {
	Root() (string, error)
}

// Resolver maps the test files of a tree to the production files they import.
// It owns a parser and is not safe for concurrent use.
type Resolver struct {
	parser   *Parser
	excludes *ignore.GitIgnore
	logger   zerolog.Logger
}

// NewResolver creates a resolver. Paths matching the gitignore-style excludes
// are neither indexed nor mapped.
func NewResolver(excludes []string, logger zerolog.Logger) *Resolver {
	r := &Resolver{parser: NewParser(), logger: logger}
	if len(excludes) > 0 {
		r.excludes = ignore.CompileIgnoreLines(excludes...)
	}
	return r
}

// MapTree returns the test -> production mapping of the checked-out revision.
// Test files whose imports resolve to nothing get no entry.
func (r *Resolver) MapTree(ctx context.Context, tree Tree) (schema.Mapping, error) {
	if !IsAvailable() {
		return nil, ErrUnavailable
	}
	root, err := tree.Root()
	if err != nil {
		return nil, err
	}
	files, err := r.pythonFiles(root)
	if err != nil {
		return nil, err
	}
	index := NewSuffixIndex(files)

	mapping := make(schema.Mapping)
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		refs, err := r.references(ctx, root, rel)
		if err != nil {
			r.logger.Debug().Err(err).Str("file", rel).Msg("skipping file")
			continue
		}
		if !IsTestFile(refs) {
			continue
		}
		if targets := resolveAll(index, refs); len(targets) > 0 {
			mapping[rel] = targets
		}
	}
	return mapping, nil
}

// references reads and parses one file.
func (r *Resolver) references(ctx context.Context, root string, rel string) ([]string, error) {
	src, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}
	refs, err := r.parser.References(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rel, err)
	}
	return refs, nil
}

// resolveAll resolves every reference, keeping first occurrences only.
func resolveAll(index *SuffixIndex, refs []string) []string {
	var targets []string
	for _, ref := range refs {
		if path, ok := index.Resolve(ref); ok && !slices.Contains(targets, path) {
			targets = append(targets, path)
		}
	}
	return targets
}

// pythonFiles lists the regular *.py files under root as sorted slash paths.
// Symlinks and the .git directory are skipped.
func (r *Resolver) pythonFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if d.Name() == ".git" || (r.excludes != nil && r.excludes.MatchesPath(rel+"/")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !strings.HasSuffix(d.Name(), ".py") {
			return nil
		}
		if r.excludes != nil && r.excludes.MatchesPath(rel) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	slices.Sort(files)
	return files, nil
}
