package smells

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/huangsam/tsmine/internal/shard"
	"github.com/huangsam/tsmine/schema"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// ProgressFunc receives the number of completed and total units of work.
type ProgressFunc func(done, total int)

// Result summarizes one compaction or scan pass.
type Result struct {
	Total   int      // Raw shards considered
	Written int      // Compacted outputs written
	Skipped int      // Sources whose output already existed
	Deleted []string // Corrupt sources removed
	Bytes   int64    // Raw bytes read
}

// source is one raw detector shard.
type source struct {
	repo string
	path string
	out  string
}

// Compactor turns detector_raw shards into smells shards.
type Compactor struct {
	Layout   shard.Layout
	Workers  int
	Logger   zerolog.Logger
	Progress ProgressFunc
}

// Run compacts every raw shard without an output on a bounded pool. Corrupt
// sources are deleted and produce no output.
func (c *Compactor) Run(ctx context.Context) (Result, error) {
	sources, err := c.sources()
	if err != nil {
		return Result{}, err
	}

	var pending []source
	result := Result{Total: len(sources)}
	for _, src := range sources {
		if shard.Exists(src.out) {
			result.Skipped++
			continue
		}
		pending = append(pending, src)
	}

	var (
		mu      sync.Mutex
		done    atomic.Int64
		written atomic.Int64
		read    atomic.Int64
	)
	p := pool.New().WithMaxGoroutines(max(c.Workers, 1)).WithContext(ctx)
	for _, src := range pending {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			defer c.report(&done, len(pending))

			summary, n, err := compactFile(src.path)
			read.Add(n)
			if errors.Is(err, ErrCorrupt) {
				if rmErr := os.Remove(src.path); rmErr != nil {
					return fmt.Errorf("remove corrupt %s: %w", src.path, rmErr)
				}
				c.Logger.Warn().Err(err).Str("path", src.path).Msg("deleted corrupt report")
				mu.Lock()
				result.Deleted = append(result.Deleted, src.path)
				mu.Unlock()
				return nil
			} else if err != nil {
				return err
			}
			if err := shard.WriteJSON(src.out, summary); err != nil {
				return err
			}
			written.Add(1)
			return nil
		})
	}
	err = p.Wait()

	result.Written = int(written.Load())
	result.Bytes = read.Load()
	c.Logger.Info().
		Int("total", result.Total).
		Int("written", result.Written).
		Int("skipped", result.Skipped).
		Int("deleted", len(result.Deleted)).
		Msg("compaction complete")
	return result, err
}

// Scan parses every raw shard and deletes the corrupt ones, without writing
// any output.
func (c *Compactor) Scan(ctx context.Context) (Result, error) {
	sources, err := c.sources()
	if err != nil {
		return Result{}, err
	}

	var (
		mu   sync.Mutex
		done atomic.Int64
		read atomic.Int64
	)
	result := Result{Total: len(sources)}
	p := pool.New().WithMaxGoroutines(max(c.Workers, 1)).WithContext(ctx)
	for _, src := range sources {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			defer c.report(&done, len(sources))

			_, n, err := compactFile(src.path)
			read.Add(n)
			if err == nil {
				return nil
			}
			if err := os.Remove(src.path); err != nil {
				return fmt.Errorf("remove corrupt %s: %w", src.path, err)
			}
			c.Logger.Warn().Err(err).Str("path", src.path).Msg("deleted unreadable report")
			mu.Lock()
			result.Deleted = append(result.Deleted, src.path)
			mu.Unlock()
			return nil
		})
	}
	err = p.Wait()
	result.Bytes = read.Load()
	return result, err
}

func (c *Compactor) report(done *atomic.Int64, total int) {
	n := int(done.Add(1))
	if c.Progress != nil {
		c.Progress(n, total)
	}
}

// sources lists the shard-named files under detector_raw/*/. Ledgers, logs
// and anything else in those directories is ignored.
func (c *Compactor) sources() ([]source, error) {
	repos, err := c.Layout.Repos(schema.DetectorStage)
	if err != nil {
		return nil, err
	}
	var sources []source
	for _, repo := range repos {
		dir := c.Layout.RepoDir(schema.DetectorStage, repo)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", dir, err)
		}
		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			key, ok := shard.Parse(entry.Name())
			if !ok {
				continue
			}
			sources = append(sources, source{
				repo: repo,
				path: filepath.Join(dir, entry.Name()),
				out:  c.Layout.Path(schema.SmellsStage, repo, key.Index, key.Hash),
			})
		}
	}
	return sources, nil
}

// compactFile opens a raw shard, transparently decompressing .zst files, and
// returns its summary and the number of bytes read from disk.
func compactFile(path string) (schema.SmellSummary, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = f.Close() }()

	counter := &countingReader{r: f}
	var r io.Reader = counter
	if strings.HasSuffix(path, shard.ZstdExt) {
		dec, err := zstd.NewReader(counter)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		defer dec.Close()
		r = dec
	}

	summary, err := Compact(r)
	if err != nil && !errors.Is(err, ErrCorrupt) {
		// zstd framing errors surface as plain read errors
		err = fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return summary, counter.n, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
