package vcs

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/schema"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// prefixRe matches the [NNNN] directory that holds one clone.
var prefixRe = regexp.MustCompile(`^\[(\d{4})\]$`)

// Prefix returns the bracketed index prefix for a 1-based index.
func Prefix(index int) string {
	return fmt.Sprintf("[%04d]", index)
}

// RepoNameFromURL derives the clone directory name from a repository URL.
func RepoNameFromURL(url string) string {
	name := path.Base(strings.TrimRight(strings.TrimSpace(url), "/"))
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, ".git")
}

// ReadURLList reads one repository URL per line. Blank lines and # comments are skipped.
func ReadURLList(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return urls, nil
}

// Discover enumerates the [NNNN]/[NNNN]name clones under reposDir, sorted by
// name. Prefix directories without a clone are reported and skipped.
func Discover(reposDir string, logger zerolog.Logger) ([]schema.Target, error) {
	entries, err := os.ReadDir(reposDir)
	if err != nil {
		return nil, fmt.Errorf("read repos dir: %w", err)
	}

	var targets []schema.Target
	for _, entry := range entries {
		m := prefixRe.FindStringSubmatch(entry.Name())
		if !entry.IsDir() || m == nil {
			continue
		}
		index, _ := strconv.Atoi(m[1])
		prefixDir := filepath.Join(reposDir, entry.Name())
		inner, err := os.ReadDir(prefixDir)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", prefixDir, err)
		}

		found := false
		for _, clone := range inner {
			if !clone.IsDir() || !strings.HasPrefix(clone.Name(), entry.Name()) {
				continue
			}
			found = true
			targets = append(targets, schema.Target{
				Index: index,
				Name:  clone.Name(),
				Path:  filepath.Join(prefixDir, clone.Name()),
			})
		}
		if !found {
			logger.Warn().Str("dir", prefixDir).Msg("empty repository directory")
		}
	}

	slices.SortFunc(targets, func(a, b schema.Target) int {
		return strings.Compare(a.Name, b.Name)
	})
	return targets, nil
}

// Filter keeps the targets whose name contains any of the given substrings.
// No names keeps everything.
func Filter(targets []schema.Target, names []string) []schema.Target {
	if len(names) == 0 {
		return targets
	}
	var kept []schema.Target
	for _, t := range targets {
		if slices.ContainsFunc(names, func(n string) bool { return strings.Contains(t.Name, n) }) {
			kept = append(kept, t)
		}
	}
	return kept
}

// Clone clones URL i (1-based) into [i]/[i]name under reposDir. An existing
// target is removed first. Failed clones are logged and skipped.
func Clone(ctx context.Context, client contract.GitClient, urls []string, reposDir string, workers int, logger zerolog.Logger) ([]schema.Target, error) {
	var (
		mu      sync.Mutex
		targets []schema.Target
	)

	p := pool.New().WithMaxGoroutines(max(workers, 1)).WithContext(ctx)
	for i, url := range urls {
		p.Go(func(ctx context.Context) error {
			prefix := Prefix(i + 1)
			name := prefix + RepoNameFromURL(url)
			dest := filepath.Join(reposDir, prefix, name)

			if err := os.RemoveAll(dest); err != nil {
				return fmt.Errorf("remove %s: %w", dest, err)
			}
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("create %s: %w", filepath.Dir(dest), err)
			}
			if err := client.Clone(ctx, url, dest); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Error().Err(err).Str("url", url).Msg("clone failed")
				return nil
			}
			logger.Info().Str("repo", name).Msg("cloned")

			mu.Lock()
			targets = append(targets, schema.Target{Index: i + 1, Name: name, Path: dest})
			mu.Unlock()
			return nil
		})
	}
	err := p.Wait()

	slices.SortFunc(targets, func(a, b schema.Target) int {
		return strings.Compare(a.Name, b.Name)
	})
	return targets, err
}

// Each runs fn for every target on a bounded pool. A failing repository is
// logged and does not stop the others; cancellation does.
func Each(ctx context.Context, targets []schema.Target, workers int, logger zerolog.Logger, fn func(ctx context.Context, target schema.Target) error) error {
	p := pool.New().WithMaxGoroutines(max(workers, 1)).WithContext(ctx)
	for _, target := range targets {
		p.Go(func(ctx context.Context) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := fn(ctx, target); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Error().Err(err).Str("repo", target.Name).Msg("repository failed")
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
