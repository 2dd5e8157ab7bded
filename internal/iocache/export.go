package iocache

import (
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/internal/parquet"
)

// ExportResult lists the files written by ExportRuns.
type ExportResult struct {
	RunsFile   string
	CorpusFile string
	Runs       int
	Records    int
}

// ExportRuns writes every tracked run and corpus record to
// {outputFile}.runs.parquet and {outputFile}.corpus_records.parquet.
func ExportRuns(store contract.RunStore, outputFile string, w io.Writer) (ExportResult, error) {
	if outputFile == "" {
		return ExportResult{}, errors.New("--output-file is required for export command")
	}
	if store == nil {
		return ExportResult{}, errors.New("run tracking is not configured")
	}

	status, err := store.GetStatus()
	if err != nil {
		return ExportResult{}, fmt.Errorf("failed to get run status: %w", err)
	}
	if status.TotalRuns == 0 {
		return ExportResult{}, errors.New("no run data found to export")
	}
	_, _ = fmt.Fprintf(w, "Exporting data from %s backend...\n", status.Backend)

	runs, err := store.GetAllRuns()
	if err != nil {
		return ExportResult{}, fmt.Errorf("failed to retrieve runs: %w", err)
	}
	rows, err := store.GetAllCorpusRows()
	if err != nil {
		return ExportResult{}, fmt.Errorf("failed to retrieve corpus records: %w", err)
	}

	result := ExportResult{
		RunsFile:   outputFile + ".runs.parquet",
		CorpusFile: outputFile + ".corpus_records.parquet",
		Runs:       len(runs),
		Records:    len(rows),
	}
	if err := parquet.WriteRunsParquet(parquet.ConvertRunRecords(runs), result.RunsFile); err != nil {
		return ExportResult{}, fmt.Errorf("failed to write runs: %w", err)
	}
	_, _ = fmt.Fprintf(w, "Exported %s runs to: %s\n", humanize.Comma(int64(result.Runs)), result.RunsFile)

	if err := parquet.WriteCorpusRowsParquet(parquet.ConvertCorpusRowRecords(rows), result.CorpusFile); err != nil {
		return ExportResult{}, fmt.Errorf("failed to write corpus records: %w", err)
	}
	_, _ = fmt.Fprintf(w, "Exported %s corpus records to: %s\n", humanize.Comma(int64(result.Records)), result.CorpusFile)
	return result, nil
}
