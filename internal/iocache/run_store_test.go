package iocache

import (
	"bytes"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/huangsam/tsmine/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newSQLiteRunStore(t *testing.T) (*RunStoreImpl, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	store, err := NewRunStore(schema.SQLiteBackend, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store.(*RunStoreImpl), dbPath
}

func TestRunStoreLifecycle(t *testing.T) {
	store, _ := newSQLiteRunStore(t)

	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	runID, err := store.BeginRun(schema.CorpusStage, start, map[string]any{"workers": 4})
	require.NoError(t, err)
	_, err = uuid.Parse(runID)
	require.NoError(t, err)

	buggy := schema.CorpusRecord{
		ProdMetrics: schema.Metrics{"loc": 10},
		TestFiles:   []string{"tests/test_a.py", "tests/test_b.py"},
		TestMetrics: schema.Metrics{"loc": 4},
		Smells:      schema.SmellCounts{"Empty Test": 2, "Assertion Roulette": 1},
		Bug:         1,
	}
	clean := schema.CorpusRecord{
		ProdMetrics: schema.Metrics{"loc": 3},
		TestFiles:   []string{"tests/test_c.py"},
		TestMetrics: schema.Metrics{"loc": 2},
		Smells:      schema.SmellCounts{"Empty Test": 0},
	}
	require.NoError(t, store.RecordCorpus(runID, "https://example.com/demo.git", "pkg/a.py", "base1", buggy))
	require.NoError(t, store.RecordCorpus(runID, "https://example.com/demo.git", "pkg/c.py", "tip1", clean))
	require.NoError(t, store.EndRun(runID, start.Add(1500*time.Millisecond), 2))

	runs, err := store.GetAllRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, runID, run.RunID)
	assert.Equal(t, "corpus", run.Stage)
	assert.True(t, start.Equal(run.StartTime))
	require.NotNil(t, run.EndTime)
	require.NotNil(t, run.RunDurationMs)
	assert.Equal(t, int32(1500), *run.RunDurationMs)
	assert.Equal(t, int32(2), run.TotalRecords)
	require.NotNil(t, run.ConfigParams)
	assert.JSONEq(t, `{"workers":4}`, *run.ConfigParams)

	rows, err := store.GetAllCorpusRows()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "pkg/a.py", rows[0].ProdPath)
	assert.Equal(t, int32(1), rows[0].Bug)
	assert.Equal(t, "base1", rows[0].Revision)
	assert.Equal(t, int32(2), rows[0].TestFiles)
	assert.Equal(t, int32(3), rows[0].SmellTotal)
	assert.JSONEq(t, `{"Empty Test":2,"Assertion Roulette":1}`, rows[0].SmellCounts)
	assert.Equal(t, int32(0), rows[1].SmellTotal)

	status, err := store.GetStatus()
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.Equal(t, 1, status.TotalRuns)
	assert.Equal(t, runID, status.LastRunID)
	assert.True(t, start.Equal(status.LastRunTime))
	assert.Equal(t, 2, status.TotalRecords)
	assert.Equal(t, 1, status.BuggyRecords)
	assert.Equal(t, int64(2), status.TableSizes[corpusRecordsTable])
}

func TestRunStoreOpenRun(t *testing.T) {
	store, _ := newSQLiteRunStore(t)
	_, err := store.BeginRun(schema.CorpusStage, time.Now(), nil)
	require.NoError(t, err)

	runs, err := store.GetAllRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].EndTime)
	assert.Nil(t, runs[0].RunDurationMs)

	assert.Error(t, store.EndRun("no-such-run", time.Now(), 0))
}

func TestRunStoreReopen(t *testing.T) {
	store, dbPath := newSQLiteRunStore(t)
	_, err := store.BeginRun(schema.CorpusStage, time.Now(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewRunStore(schema.SQLiteBackend, dbPath)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	status, err := reopened.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, status.TotalRuns)
}

func TestRunStoreNone(t *testing.T) {
	store, err := NewRunStore(schema.NoneBackend, "")
	require.NoError(t, err)

	runID, err := store.BeginRun(schema.CorpusStage, time.Now(), nil)
	require.NoError(t, err)
	assert.Empty(t, runID)
	assert.NoError(t, store.RecordCorpus(runID, "u", "p", "r", schema.CorpusRecord{}))
	assert.NoError(t, store.EndRun(runID, time.Now(), 0))

	runs, err := store.GetAllRuns()
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, store.Close())
}

func TestMigrateRuns(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	result, err := MigrateRuns(schema.SQLiteBackend, dbPath, -1)
	require.NoError(t, err)
	assert.Equal(t, MigrationResult{From: 0, To: 2, Changed: true}, result)

	result, err = MigrateRuns(schema.SQLiteBackend, dbPath, -1)
	require.NoError(t, err)
	assert.Equal(t, MigrationResult{From: 2, To: 2}, result)

	result, err = MigrateRuns(schema.SQLiteBackend, dbPath, 1)
	require.NoError(t, err)
	assert.Equal(t, MigrationResult{From: 2, To: 1, Changed: true}, result)
	assert.False(t, tableExists(t, dbPath, corpusRecordsTable))
	assert.True(t, tableExists(t, dbPath, runsTable))

	result, err = MigrateRuns(schema.SQLiteBackend, dbPath, 0)
	require.NoError(t, err)
	assert.Equal(t, MigrationResult{From: 1, To: 0, Changed: true}, result)
	assert.False(t, tableExists(t, dbPath, runsTable))

	_, err = MigrateRuns(schema.NoneBackend, "", -1)
	assert.Error(t, err)
}

func tableExists(t *testing.T, dbPath, table string) bool {
	t.Helper()
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n))
	return n == 1
}

func TestExportRuns(t *testing.T) {
	store, _ := newSQLiteRunStore(t)
	runID, err := store.BeginRun(schema.CorpusStage, time.Now(), nil)
	require.NoError(t, err)
	require.NoError(t, store.RecordCorpus(runID, "u", "a.py", "h", schema.CorpusRecord{Bug: 1}))
	require.NoError(t, store.EndRun(runID, time.Now(), 1))

	var out bytes.Buffer
	prefix := filepath.Join(t.TempDir(), "export")
	result, err := ExportRuns(store, prefix, &out)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Runs)
	assert.Equal(t, 1, result.Records)
	assert.FileExists(t, prefix+".runs.parquet")
	assert.FileExists(t, prefix+".corpus_records.parquet")
	assert.Contains(t, out.String(), "Exported 1 runs")
}

func TestExportRunsErrors(t *testing.T) {
	_, err := ExportRuns(new(MockRunStore), "", &bytes.Buffer{})
	assert.Error(t, err)

	_, err = ExportRuns(nil, "out", &bytes.Buffer{})
	assert.Error(t, err)

	empty := new(MockRunStore)
	empty.On("GetStatus").Return(schema.RunStatus{Backend: "sqlite", Connected: true}, nil)
	_, err = ExportRuns(empty, "out", &bytes.Buffer{})
	assert.ErrorContains(t, err, "no run data")
	empty.AssertExpectations(t)
	empty.AssertNotCalled(t, "GetAllRuns", mock.Anything)
}
