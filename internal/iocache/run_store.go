package iocache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/schema"
)

// Table names for run tracking.
const (
	runsTable          = "tsmine_runs"
	corpusRecordsTable = "tsmine_corpus_records"
)

// RunStoreImpl implements the RunStore interface.
type RunStoreImpl struct {
	db      *sql.DB
	backend schema.DatabaseBackend
	connStr string
}

var _ contract.RunStore = &RunStoreImpl{} // Compile-time check

// NewRunStore migrates the run-tracking schema to the latest version and opens the store.
func NewRunStore(backend schema.DatabaseBackend, connStr string) (contract.RunStore, error) {
	if backend == schema.NoneBackend {
		// Return a no-op store for disabled tracking
		return &RunStoreImpl{backend: backend}, nil
	}

	if _, err := MigrateRuns(backend, connStr, -1); err != nil {
		return nil, fmt.Errorf("failed to migrate run tables: %w", err)
	}
	db, err := openDB(backend, connStr, contract.GetRunDBFilePath())
	if err != nil {
		return nil, err
	}
	return &RunStoreImpl{db: db, backend: backend, connStr: connStr}, nil
}

// BeginRun creates a new run and returns its unique ID.
func (rs *RunStoreImpl) BeginRun(stage schema.Stage, startTime time.Time, configParams map[string]any) (string, error) {
	if rs.db == nil {
		return "", nil
	}

	configJSON, err := json.Marshal(configParams)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config params: %w", err)
	}

	runID := uuid.NewString()
	query := fmt.Sprintf(`INSERT INTO %s (run_id, stage, start_time, config_params) VALUES (%s)`,
		quoteTableName(runsTable, rs.backend), placeholders(rs.backend, 4))
	if _, err := rs.db.Exec(query, runID, string(stage), formatTime(startTime, rs.backend), string(configJSON)); err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return runID, nil
}

// EndRun updates the run with completion data.
func (rs *RunStoreImpl) EndRun(runID string, endTime time.Time, totalRecords int) error {
	if rs.db == nil {
		return nil
	}

	quotedTableName := quoteTableName(runsTable, rs.backend)
	var start dbTime
	query := fmt.Sprintf(`SELECT start_time FROM %s WHERE run_id = %s`, quotedTableName, placeholders(rs.backend, 1))
	if err := rs.db.QueryRow(query, runID).Scan(&start); err != nil {
		return fmt.Errorf("failed to get start_time for run %s: %w", runID, err)
	}
	durationMs := endTime.Sub(start.Time).Milliseconds()

	var update string
	if rs.backend == schema.PostgreSQLBackend {
		update = fmt.Sprintf(`UPDATE %s SET end_time = $1, run_duration_ms = $2, total_records = $3 WHERE run_id = $4`, quotedTableName)
	} else {
		update = fmt.Sprintf(`UPDATE %s SET end_time = ?, run_duration_ms = ?, total_records = ? WHERE run_id = ?`, quotedTableName)
	}
	if _, err := rs.db.Exec(update, formatTime(endTime, rs.backend), durationMs, totalRecords, runID); err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

// RecordCorpus stores one corpus record produced by a run.
func (rs *RunStoreImpl) RecordCorpus(runID string, cloneURL string, prodPath string, revision string, rec schema.CorpusRecord) error {
	if rs.db == nil {
		return nil
	}

	prodJSON, err := json.Marshal(rec.ProdMetrics)
	if err != nil {
		return fmt.Errorf("failed to marshal production metrics: %w", err)
	}
	testJSON, err := json.Marshal(rec.TestMetrics)
	if err != nil {
		return fmt.Errorf("failed to marshal test metrics: %w", err)
	}
	smellsJSON, err := json.Marshal(rec.Smells)
	if err != nil {
		return fmt.Errorf("failed to marshal smell counts: %w", err)
	}

	smellTotal := 0
	for _, n := range rec.Smells {
		smellTotal += n
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (run_id, clone_url, prod_path, record_time, bug, revision,
		                test_files, smell_total, prod_metrics, test_metrics, smell_counts)
		VALUES (%s)
	`, quoteTableName(corpusRecordsTable, rs.backend), placeholders(rs.backend, 11))
	_, err = rs.db.Exec(query,
		runID, cloneURL, prodPath, formatTime(time.Now(), rs.backend), rec.Bug, revision,
		len(rec.TestFiles), smellTotal, string(prodJSON), string(testJSON), string(smellsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert corpus record %s: %w", prodPath, err)
	}
	return nil
}

// Close closes the underlying connection.
func (rs *RunStoreImpl) Close() error {
	if rs.db != nil {
		return rs.db.Close()
	}
	return nil
}

// GetStatus returns status information about the run store.
func (rs *RunStoreImpl) GetStatus() (schema.RunStatus, error) {
	status := schema.RunStatus{
		Backend:    string(rs.backend),
		Connected:  rs.db != nil,
		TableSizes: make(map[string]int64),
	}
	if rs.db == nil {
		return status, nil
	}

	quotedRuns := quoteTableName(runsTable, rs.backend)
	if err := rs.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", quotedRuns)).Scan(&status.TotalRuns); err != nil {
		return status, fmt.Errorf("failed to get total runs: %w", err)
	}

	if status.TotalRuns > 0 {
		var last, oldest dbTime
		row := rs.db.QueryRow(fmt.Sprintf("SELECT run_id, start_time FROM %s ORDER BY start_time DESC LIMIT 1", quotedRuns))
		if err := row.Scan(&status.LastRunID, &last); err != nil {
			return status, fmt.Errorf("failed to get last run info: %w", err)
		}
		row = rs.db.QueryRow(fmt.Sprintf("SELECT start_time FROM %s ORDER BY start_time ASC LIMIT 1", quotedRuns))
		if err := row.Scan(&oldest); err != nil {
			return status, fmt.Errorf("failed to get oldest run time: %w", err)
		}
		status.LastRunTime = last.Time
		status.OldestRunTime = oldest.Time
	}

	quotedRecords := quoteTableName(corpusRecordsTable, rs.backend)
	row := rs.db.QueryRow(fmt.Sprintf("SELECT COUNT(*), COALESCE(SUM(bug), 0) FROM %s", quotedRecords))
	if err := row.Scan(&status.TotalRecords, &status.BuggyRecords); err != nil {
		return status, fmt.Errorf("failed to count corpus records: %w", err)
	}

	status.TableSizes[runsTable] = int64(status.TotalRuns)
	status.TableSizes[corpusRecordsTable] = int64(status.TotalRecords)
	return status, nil
}

// GetAllRuns retrieves all runs ordered by start time.
func (rs *RunStoreImpl) GetAllRuns() ([]schema.RunRecord, error) {
	if rs.db == nil {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT run_id, stage, start_time, end_time, run_duration_ms, total_records, config_params FROM %s ORDER BY start_time",
		quoteTableName(runsTable, rs.backend))
	rows, err := rs.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []schema.RunRecord
	for rows.Next() {
		var record schema.RunRecord
		var start, end dbTime
		if err := rows.Scan(&record.RunID, &record.Stage, &start, &end, &record.RunDurationMs, &record.TotalRecords, &record.ConfigParams); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		record.StartTime = start.Time
		if end.Valid {
			endTime := end.Time
			record.EndTime = &endTime
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return results, nil
}

// GetAllCorpusRows retrieves every stored corpus record.
func (rs *RunStoreImpl) GetAllCorpusRows() ([]schema.CorpusRowRecord, error) {
	if rs.db == nil {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT run_id, clone_url, prod_path, record_time, bug, revision,
		       test_files, smell_total, prod_metrics, test_metrics, smell_counts
		FROM %s ORDER BY run_id, clone_url, prod_path
	`, quoteTableName(corpusRecordsTable, rs.backend))
	rows, err := rs.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query corpus records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []schema.CorpusRowRecord
	for rows.Next() {
		var record schema.CorpusRowRecord
		var recorded dbTime
		if err := rows.Scan(
			&record.RunID, &record.CloneURL, &record.ProdPath, &recorded, &record.Bug, &record.Revision,
			&record.TestFiles, &record.SmellTotal, &record.ProdMetrics, &record.TestMetrics, &record.SmellCounts,
		); err != nil {
			return nil, fmt.Errorf("failed to scan corpus record: %w", err)
		}
		record.RecordTime = recorded.Time
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating corpus records: %w", err)
	}
	return results, nil
}

// dbTime scans a timestamp stored natively or as RFC3339 text.
type dbTime struct {
	Time  time.Time
	Valid bool
}

// Scan implements sql.Scanner.
func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v, true
		return nil
	case string:
		parsed, err := parseTime(v)
		t.Time, t.Valid = parsed, err == nil
		return err
	case []byte:
		parsed, err := parseTime(string(v))
		t.Time, t.Valid = parsed, err == nil
		return err
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
}
