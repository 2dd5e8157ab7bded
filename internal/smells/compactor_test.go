package smells

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/huangsam/tsmine/internal/shard"
	"github.com/huangsam/tsmine/schema"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const repo = "[0001]demo"

func writeRaw(t *testing.T, layout shard.Layout, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(layout.RepoDir(schema.DetectorStage, repo), name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer func() { _ = enc.Close() }()
	return enc.EncodeAll(data, nil)
}

func newCompactor(layout shard.Layout) *Compactor {
	return &Compactor{Layout: layout, Workers: 2, Logger: zerolog.Nop()}
}

func TestCompactorRun(t *testing.T) {
	layout := shard.Layout{Root: t.TempDir()}
	writeRaw(t, layout, shard.Name(repo, 1, "aaaaaaa"), []byte(sampleReport))
	truncated := writeRaw(t, layout, shard.Name(repo, 2, "bbbbbbb"), []byte(sampleReport[:40]))
	writeRaw(t, layout, shard.Stem(repo, 3, "ccccccc")+shard.ZstdExt, zstdBytes(t, []byte(sampleReport)))
	writeRaw(t, layout, "error_ledger.json", []byte(`{"ddddddd": "Timeout"}`))
	writeRaw(t, layout, shard.Stem(repo, 4, "ddddddd")+".txt", []byte("log"))

	var mu sync.Mutex
	var calls []int
	c := newCompactor(layout)
	c.Progress = func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, done)
		assert.Equal(t, 3, total)
	}

	result, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Written)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, []string{truncated}, result.Deleted)
	assert.Positive(t, result.Bytes)
	assert.ElementsMatch(t, []int{1, 2, 3}, calls)

	var summary schema.SmellSummary
	require.NoError(t, shard.ReadJSON(layout.Path(schema.SmellsStage, repo, 1, "aaaaaaa"), &summary))
	assert.Equal(t, 2, summary["test_a.py"]["Assertion Roulette"])

	require.NoError(t, shard.ReadJSON(layout.Path(schema.SmellsStage, repo, 3, "ccccccc"), &summary))
	assert.Equal(t, 2, summary["test_a.py"]["Assertion Roulette"])

	assert.NoFileExists(t, truncated)
	assert.NoFileExists(t, layout.Path(schema.SmellsStage, repo, 2, "bbbbbbb"))
	assert.NoFileExists(t, layout.Path(schema.SmellsStage, repo, 4, "ddddddd"))
}

func TestCompactorRunSkipsExisting(t *testing.T) {
	layout := shard.Layout{Root: t.TempDir()}
	writeRaw(t, layout, shard.Name(repo, 1, "aaaaaaa"), []byte(sampleReport))
	existing := layout.Path(schema.SmellsStage, repo, 1, "aaaaaaa")
	require.NoError(t, shard.WriteJSON(existing, schema.SmellSummary{"kept.py": {}}))

	result, err := newCompactor(layout).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Written)

	var summary schema.SmellSummary
	require.NoError(t, shard.ReadJSON(existing, &summary))
	assert.Equal(t, schema.SmellSummary{"kept.py": {}}, summary)
}

func TestCompactorRunNoDetectorOutput(t *testing.T) {
	result, err := newCompactor(shard.Layout{Root: t.TempDir()}).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Total)
}

func TestCompactorScan(t *testing.T) {
	layout := shard.Layout{Root: t.TempDir()}
	good := writeRaw(t, layout, shard.Name(repo, 1, "aaaaaaa"), []byte(sampleReport))
	bad := writeRaw(t, layout, shard.Name(repo, 2, "bbbbbbb"), []byte(`[{"name":`))
	badZstd := writeRaw(t, layout, shard.Stem(repo, 3, "ccccccc")+shard.ZstdExt, []byte("not zstd"))

	result, err := newCompactor(layout).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.ElementsMatch(t, []string{bad, badZstd}, result.Deleted)
	assert.FileExists(t, good)
	assert.NoDirExists(t, layout.StageDir(schema.SmellsStage))
}

func TestCompactorRunCanceled(t *testing.T) {
	layout := shard.Layout{Root: t.TempDir()}
	writeRaw(t, layout, shard.Name(repo, 1, "aaaaaaa"), []byte(sampleReport))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newCompactor(layout).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, layout.Path(schema.SmellsStage, repo, 1, "aaaaaaa"))
}
