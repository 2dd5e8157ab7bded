// Package parquet exports tracked runs and corpus records to Parquet files
// using github.com/parquet-go/parquet-go.
package parquet

import (
	"fmt"
	"os"
	"time"

	"github.com/huangsam/tsmine/schema"
	"github.com/parquet-go/parquet-go"
)

// Run represents one tracked pipeline run.
// This struct maps to the tsmine_runs database table.
type Run struct {
	// RunID is the UUID of the run
	RunID string `parquet:"run_id,snappy"`

	// Stage names the pipeline stage the run executed
	Stage string `parquet:"stage,snappy,dict"`

	StartTime time.Time  `parquet:"start_time,snappy"`
	EndTime   *time.Time `parquet:"end_time,optional,snappy"`

	// RunDurationMs is nil while the run has not ended
	RunDurationMs *int32 `parquet:"run_duration_ms,optional,snappy"`

	TotalRecords int32 `parquet:"total_records,snappy"`

	// ConfigParams contains the JSON-encoded configuration parameters (nullable)
	ConfigParams *string `parquet:"config_params,optional,snappy"`
}

// CorpusRow represents one corpus record produced by a run.
// This struct maps to the tsmine_corpus_records database table.
type CorpusRow struct {
	RunID      string    `parquet:"run_id,snappy,dict"`
	CloneURL   string    `parquet:"clone_url,snappy,dict"`
	ProdPath   string    `parquet:"prod_path,snappy"`
	RecordTime time.Time `parquet:"record_time,snappy"`

	// Bug is 1 when a later merge fixed the production file
	Bug int32 `parquet:"bug,snappy"`

	// Revision is the commit the metrics were measured at
	Revision string `parquet:"revision,snappy"`

	TestFiles  int32 `parquet:"test_files,snappy"`
	SmellTotal int32 `parquet:"smell_total,snappy"`

	// JSON-encoded maps, kept opaque so the column set is stable across metric versions
	ProdMetrics string `parquet:"prod_metrics,snappy"`
	TestMetrics string `parquet:"test_metrics,snappy"`
	SmellCounts string `parquet:"smell_counts,snappy"`
}

// WriteRunsParquet writes runs to a Parquet file.
func WriteRunsParquet(data []Run, outputPath string) error {
	return writeParquet(data, outputPath)
}

// WriteCorpusRowsParquet writes corpus rows to a Parquet file.
func WriteCorpusRowsParquet(data []CorpusRow, outputPath string) error {
	return writeParquet(data, outputPath)
}

// writeParquet writes rows with a schema inferred from the struct tags of T.
func writeParquet[T any](data []T, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = file.Close() }()

	writer := parquet.NewGenericWriter[T](file)
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write data to parquet file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return nil
}

// ConvertRunRecords converts schema.RunRecord to Run for Parquet export.
func ConvertRunRecords(records []schema.RunRecord) []Run {
	result := make([]Run, len(records))
	for i, record := range records {
		result[i] = Run{
			RunID:         record.RunID,
			Stage:         record.Stage,
			StartTime:     record.StartTime,
			EndTime:       record.EndTime,
			RunDurationMs: record.RunDurationMs,
			TotalRecords:  record.TotalRecords,
			ConfigParams:  record.ConfigParams,
		}
	}
	return result
}

// ConvertCorpusRowRecords converts schema.CorpusRowRecord to CorpusRow for Parquet export.
func ConvertCorpusRowRecords(records []schema.CorpusRowRecord) []CorpusRow {
	result := make([]CorpusRow, len(records))
	for i, record := range records {
		result[i] = CorpusRow{
			RunID:       record.RunID,
			CloneURL:    record.CloneURL,
			ProdPath:    record.ProdPath,
			RecordTime:  record.RecordTime,
			Bug:         record.Bug,
			Revision:    record.Revision,
			TestFiles:   record.TestFiles,
			SmellTotal:  record.SmellTotal,
			ProdMetrics: record.ProdMetrics,
			TestMetrics: record.TestMetrics,
			SmellCounts: record.SmellCounts,
		}
	}
	return result
}
