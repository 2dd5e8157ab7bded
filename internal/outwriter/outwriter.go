// Package outwriter renders pipeline reports as tables, CSV, JSON or Parquet.
package outwriter

import (
	"io"
	"time"

	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/internal/smells"
	"github.com/huangsam/tsmine/schema"
)

// OutWriter provides a unified interface for all output operations.
// Commands call it instead of the format-specific writers.
type OutWriter struct{}

// NewOutWriter creates a new instance of the output writer.
func NewOutWriter() *OutWriter {
	return &OutWriter{}
}

// WriteProgress prints detector coverage rows using the configured output format.
func (ow *OutWriter) WriteProgress(rows []schema.ProgressRow, cfg *contract.Config) error {
	return WriteProgressResults(rows, cfg)
}

// WriteCorpus prints the per-repository corpus summary using the configured output format.
func (ow *OutWriter) WriteCorpus(corpus schema.Corpus, cfg *contract.Config, duration time.Duration) error {
	return WriteCorpusResults(corpus, cfg, duration)
}

// WriteCompaction prints the outcome of a compaction or scan pass.
func (ow *OutWriter) WriteCompaction(w io.Writer, action string, result smells.Result, duration time.Duration) error {
	return WriteCompactionSummary(w, action, result, duration)
}

// WriteCacheStatus prints metrics cache statistics.
func (ow *OutWriter) WriteCacheStatus(w io.Writer, status schema.CacheStatus) error {
	return WriteCacheStatus(w, status)
}

// WriteRunStatus prints run store statistics.
func (ow *OutWriter) WriteRunStatus(w io.Writer, status schema.RunStatus) error {
	return WriteRunStatus(w, status)
}
