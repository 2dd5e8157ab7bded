package schema

import "time"

// RunRecord represents a row from the tsmine_runs table.
type RunRecord struct {
	RunID         string
	Stage         string
	StartTime     time.Time
	EndTime       *time.Time
	RunDurationMs *int32
	TotalRecords  int32
	ConfigParams  *string
}

// CorpusRowRecord represents a row from the tsmine_corpus_records table.
type CorpusRowRecord struct {
	RunID       string
	CloneURL    string
	ProdPath    string
	RecordTime  time.Time
	Bug         int32
	Revision    string
	TestFiles   int32
	SmellTotal  int32
	ProdMetrics string // JSON-encoded Metrics
	TestMetrics string // JSON-encoded Metrics
	SmellCounts string // JSON-encoded SmellCounts
}
