package outwriter

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/internal/smells"
	"github.com/huangsam/tsmine/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, output schema.OutputMode) *contract.Config {
	t.Helper()
	return &contract.Config{
		Output:     output,
		OutputFile: filepath.Join(t.TempDir(), "out"),
		Width:      120,
	}
}

func readOutput(t *testing.T, cfg *contract.Config) string {
	t.Helper()
	data, err := os.ReadFile(cfg.OutputFile)
	require.NoError(t, err)
	return string(data)
}

var progressRows = []schema.ProgressRow{
	{Repo: "[0001]alpha", Analyzed: 1, Total: 4},
	{Repo: "[0002]beta", Analyzed: 0, Total: 2},
}

func TestGetMaxTablePathWidth(t *testing.T) {
	tests := []struct {
		name     string
		width    int
		fixed    int
		expected int
	}{
		{"narrow terminal", 40, 45, minPathWidth},
		{"wide terminal", 300, 45, maxPathWidth},
		{"in between", 100, 45, 45},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &contract.Config{Width: tt.width}
			assert.Equal(t, tt.expected, GetMaxTablePathWidth(cfg, tt.fixed))
		})
	}
}

func TestWriteProgressResults(t *testing.T) {
	t.Run("csv", func(t *testing.T) {
		cfg := testConfig(t, schema.CSVOut)
		require.NoError(t, NewOutWriter().WriteProgress(progressRows, cfg))
		assert.Equal(t,
			"repo,analyzed,total,percent,label\n"+
				"[0001]alpha,1,4,25.00,Partial\n"+
				"[0002]beta,0,2,0.00,Pending\n",
			readOutput(t, cfg))
	})

	t.Run("json", func(t *testing.T) {
		cfg := testConfig(t, schema.JSONOut)
		require.NoError(t, NewOutWriter().WriteProgress(progressRows, cfg))
		var got []map[string]any
		require.NoError(t, json.Unmarshal([]byte(readOutput(t, cfg)), &got))
		require.Len(t, got, 2)
		assert.Equal(t, "[0001]alpha", got[0]["repo"])
		assert.InDelta(t, 25.0, got[0]["percent"], 1e-9)
		assert.Equal(t, "Pending", got[1]["label"])
	})

	t.Run("table", func(t *testing.T) {
		cfg := testConfig(t, schema.TextOut)
		require.NoError(t, NewOutWriter().WriteProgress(progressRows, cfg))
		out := readOutput(t, cfg)
		assert.Contains(t, out, "[0001]alpha")
		assert.Contains(t, out, "25.0%")
		assert.Contains(t, out, "Partial")
		assert.Contains(t, out, "1 of 6 commits analyzed across 2 repositories")
	})

	t.Run("table without rows", func(t *testing.T) {
		cfg := testConfig(t, schema.TextOut)
		require.NoError(t, NewOutWriter().WriteProgress(nil, cfg))
		assert.Equal(t, "Every repository is fully analyzed.\n", readOutput(t, cfg))
	})
}

func testCorpus() schema.Corpus {
	return schema.Corpus{
		"https://example.com/b.git": {
			"pkg/x.py": {
				ProdMetrics: schema.Metrics{"loc": 10},
				TestFiles:   []string{"tests/test_x.py"},
				TestMetrics: schema.Metrics{"loc": 4},
				Smells:      schema.SmellCounts{"Empty Test": 1},
				Bug:         0,
			},
		},
		"https://example.com/a.git": {
			"a.py": {
				ProdMetrics: schema.Metrics{"loc": 2},
				TestFiles:   []string{"t1.py", "t2.py"},
				TestMetrics: schema.Metrics{"loc": 3},
				Smells:      schema.SmellCounts{"Empty Test": 2, "Assertion Roulette": 1},
				Bug:         1,
			},
			"b.py": {
				ProdMetrics: schema.Metrics{"loc": 5},
				TestFiles:   []string{"t3.py"},
				TestMetrics: schema.Metrics{"loc": 1},
				Smells:      schema.SmellCounts{},
				Bug:         0,
			},
		},
	}
}

func TestSummarizeCorpus(t *testing.T) {
	got := SummarizeCorpus(testCorpus())
	assert.Equal(t, []CorpusSummary{
		{CloneURL: "https://example.com/a.git", Records: 2, Buggy: 1, BugRate: 50, TestFiles: 3, SmellTotal: 3},
		{CloneURL: "https://example.com/b.git", Records: 1, Buggy: 0, BugRate: 0, TestFiles: 1, SmellTotal: 1},
	}, got)
	assert.Empty(t, SummarizeCorpus(schema.Corpus{}))
}

func TestCorpusRows(t *testing.T) {
	at := time.Unix(1000, 0).UTC()
	rows, err := CorpusRows(testCorpus(), at)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	paths := make([]string, len(rows))
	for i, r := range rows {
		paths[i] = r.ProdPath
	}
	assert.Equal(t, []string{"a.py", "b.py", "pkg/x.py"}, paths)

	first := rows[0]
	assert.Equal(t, "https://example.com/a.git", first.CloneURL)
	assert.Equal(t, at, first.RecordTime)
	assert.Equal(t, int32(1), first.Bug)
	assert.Equal(t, int32(2), first.TestFiles)
	assert.Equal(t, int32(3), first.SmellTotal)
	assert.JSONEq(t, `{"loc": 2}`, first.ProdMetrics)
	assert.JSONEq(t, `{"Empty Test": 2, "Assertion Roulette": 1}`, first.SmellCounts)
	assert.Empty(t, first.RunID)
}

func TestWriteCorpusResults(t *testing.T) {
	t.Run("csv", func(t *testing.T) {
		cfg := testConfig(t, schema.CSVOut)
		require.NoError(t, NewOutWriter().WriteCorpus(testCorpus(), cfg, time.Second))
		lines := strings.Split(strings.TrimSpace(readOutput(t, cfg)), "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, "clone_url,records,buggy,bug_rate,test_files,smell_total", lines[0])
		assert.Equal(t, "https://example.com/a.git,2,1,50.00,3,3", lines[1])
	})

	t.Run("table", func(t *testing.T) {
		cfg := testConfig(t, schema.TextOut)
		require.NoError(t, NewOutWriter().WriteCorpus(testCorpus(), cfg, 1500*time.Millisecond))
		out := readOutput(t, cfg)
		assert.Contains(t, out, "https://example.com/b.git")
		assert.Contains(t, out, "50.0%")
		assert.Contains(t, out, "3 records (1 buggy) from 2 repositories in 1.5s")
	})

	t.Run("parquet", func(t *testing.T) {
		cfg := testConfig(t, schema.ParquetOut)
		require.NoError(t, NewOutWriter().WriteCorpus(testCorpus(), cfg, time.Second))
		info, err := os.Stat(cfg.OutputFile)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	})

	t.Run("parquet without file", func(t *testing.T) {
		cfg := &contract.Config{Output: schema.ParquetOut}
		err := NewOutWriter().WriteCorpus(testCorpus(), cfg, time.Second)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--output-file")
	})
}

func TestWriteCacheStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   schema.CacheStatus
		contains []string
		absent   []string
	}{
		{
			name:     "disconnected",
			status:   schema.CacheStatus{Backend: "none"},
			contains: []string{"Cache Backend: none", "Connected: false"},
			absent:   []string{"Total Entries"},
		},
		{
			name: "connected",
			status: schema.CacheStatus{
				Backend:         "sqlite",
				Connected:       true,
				TotalEntries:    1234,
				LastEntryTime:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
				OldestEntryTime: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
				TableSizeBytes:  2048,
			},
			contains: []string{
				"Total Entries: 1,234",
				"Last Entry: 2024-05-01 10:00:00",
				"Oldest Entry: 2024-01-01 09:00:00",
				"Table Size: 2.0 kB",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, NewOutWriter().WriteCacheStatus(&buf, tt.status))
			for _, s := range tt.contains {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestWriteRunStatus(t *testing.T) {
	status := schema.RunStatus{
		Backend:       "sqlite",
		Connected:     true,
		TotalRuns:     2,
		LastRunID:     "run-2",
		LastRunTime:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		OldestRunTime: time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC),
		TotalRecords:  1500,
		BuggyRecords:  12,
		TableSizes:    map[string]int64{"tsmine_runs": 2, "tsmine_corpus_records": 1500},
	}
	var buf bytes.Buffer
	require.NoError(t, NewOutWriter().WriteRunStatus(&buf, status))
	out := buf.String()
	assert.Contains(t, out, "Last Run ID: run-2")
	assert.Contains(t, out, "Corpus Records: 1,500 (12 buggy)")
	// Tables print in name order
	assert.Less(t, strings.Index(out, "tsmine_corpus_records: 1,500 rows"), strings.Index(out, "tsmine_runs: 2 rows"))
}

func TestWriteCompactionSummary(t *testing.T) {
	result := smells.Result{
		Total:   5,
		Written: 3,
		Skipped: 1,
		Deleted: []string{"/r/detector_raw/x/x_000001_a.json"},
		Bytes:   3000,
	}
	var buf bytes.Buffer
	require.NoError(t, NewOutWriter().WriteCompaction(&buf, "Compacted", result, 2*time.Second))
	assert.Equal(t,
		"Compacted 3 of 5 shards (1 skipped, 1 deleted), read 3.0 kB in 2s\n"+
			"  deleted /r/detector_raw/x/x_000001_a.json\n",
		buf.String())
}
