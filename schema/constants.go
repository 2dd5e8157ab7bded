package schema

// Custom string types for type safety.
type (
	// OutputMode represents the format of the output.
	OutputMode string

	// DatabaseBackend represents the database backend for caching and run tracking.
	DatabaseBackend string

	// Stage names a pipeline stage. Each stage owns one directory under the results root.
	Stage string

	// LedgerReason explains why a commit was recorded in a detector error ledger.
	LedgerReason string
)

// All output modes supported.
const (
	TextOut    OutputMode = "text" // default
	CSVOut     OutputMode = "csv"
	JSONOut    OutputMode = "json"
	ParquetOut OutputMode = "parquet"
)

// All database backends supported.
const (
	SQLiteBackend     DatabaseBackend = "sqlite" // default
	MySQLBackend      DatabaseBackend = "mysql"
	PostgreSQLBackend DatabaseBackend = "postgresql"
	NoneBackend       DatabaseBackend = "none"
)

// Pipeline stages, in the order they usually run.
const (
	CommitsStage    Stage = "commits"      // per-repo hash lists
	MessagesStage   Stage = "messages"     // per-repo hash -> message maps
	TestToProdStage Stage = "test_to_prod" // per-commit test -> prod mappings
	ProdToTestStage Stage = "prod_to_test" // per-commit prod -> test mappings
	DetectorStage   Stage = "detector_raw" // per-commit raw detector reports
	SmellsStage     Stage = "smells"       // per-commit compacted smell summaries
	BugLabelsStage  Stage = "bug_labels"   // external: curated label names
	BugIssuesStage  Stage = "bug_issues"   // external: bug issue numbers
	BugFixesStage   Stage = "bug_fixes"    // per-repo bug-fix records
	CorpusStage     Stage = "corpus"       // per-repo corpus records
	ProvenanceStage Stage = "provenance"   // per-repo commit provenance
)

// AggregatedFile is the cross-repository output file name of a stage.
const AggregatedFile = "aggregated.json"

// Detector ledger reasons.
const (
	ReasonTimeout     LedgerReason = "Timeout"
	ReasonOnlyLogFile LedgerReason = "OnlyLogFile"
	ReasonExitStatus  LedgerReason = "ExitStatus"
)

// Metric keys produced by the metrics extractor.
const (
	MetricLOC             = "loc"
	MetricLLOC            = "lloc"
	MetricSLOC            = "sloc"
	MetricComments        = "comments"
	MetricBlanks          = "blanks"
	MetricCCAvg           = "cc_avg"
	MetricCCMax           = "cc_max"
	MetricDefCount        = "def_count"
	MetricClassCount      = "class_count"
	MetricMaintainability = "maintainability_index"
	MetricMIRaw           = "mi_raw"
	MetricH1              = "h1"
	MetricH2              = "h2"
	MetricN1              = "n1"
	MetricN2              = "n2"
	MetricVolume          = "v"
	MetricDifficulty      = "d"
	MetricEffort          = "e"
	MetricBugs            = "b"
	MetricTime            = "t"
)

// MetricKeys lists every metric key in a stable order.
var MetricKeys = []string{
	MetricLOC, MetricLLOC, MetricSLOC, MetricComments, MetricBlanks,
	MetricCCAvg, MetricCCMax, MetricDefCount, MetricClassCount,
	MetricMaintainability, MetricMIRaw,
	MetricH1, MetricH2, MetricN1, MetricN2,
	MetricVolume, MetricDifficulty, MetricEffort, MetricBugs, MetricTime,
}

// ValidOutputModes lists all valid output modes.
var ValidOutputModes = map[OutputMode]struct{}{
	TextOut:    {},
	CSVOut:     {},
	JSONOut:    {},
	ParquetOut: {},
}

// ValidDatabaseBackends lists all valid database backends.
var ValidDatabaseBackends = map[DatabaseBackend]struct{}{
	SQLiteBackend:     {},
	MySQLBackend:      {},
	PostgreSQLBackend: {},
	NoneBackend:       {},
}

// ShardStages lists the stages whose outputs are per-commit shards.
var ShardStages = []Stage{TestToProdStage, ProdToTestStage, DetectorStage, SmellsStage}
