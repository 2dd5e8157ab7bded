package outwriter

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/internal/parquet"
	"github.com/huangsam/tsmine/schema"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// corpusFixedWidth covers the count and rate columns.
const corpusFixedWidth = 60

// CorpusSummary condenses the records of one repository.
type CorpusSummary struct {
	CloneURL   string  `json:"clone_url"`
	Records    int     `json:"records"`
	Buggy      int     `json:"buggy"`
	BugRate    float64 `json:"bug_rate"`
	TestFiles  int     `json:"test_files"`
	SmellTotal int     `json:"smell_total"`
}

// SummarizeCorpus returns one summary per clone URL, sorted by URL.
func SummarizeCorpus(corpus schema.Corpus) []CorpusSummary {
	out := make([]CorpusSummary, 0, len(corpus))
	for _, url := range slices.Sorted(maps.Keys(corpus)) {
		s := CorpusSummary{CloneURL: url, Records: len(corpus[url])}
		for _, rec := range corpus[url] {
			s.Buggy += rec.Bug
			s.TestFiles += len(rec.TestFiles)
			s.SmellTotal += smellTotal(rec.Smells)
		}
		if s.Records > 0 {
			s.BugRate = float64(s.Buggy) * 100 / float64(s.Records)
		}
		out = append(out, s)
	}
	return out
}

// CorpusRows flattens the corpus into run-store shaped rows, sorted by clone
// URL then production path. Rows carry no run id or revision.
func CorpusRows(corpus schema.Corpus, recordTime time.Time) ([]schema.CorpusRowRecord, error) {
	var rows []schema.CorpusRowRecord
	for _, url := range slices.Sorted(maps.Keys(corpus)) {
		records := corpus[url]
		for _, prod := range slices.Sorted(maps.Keys(records)) {
			rec := records[prod]
			prodJSON, err := json.Marshal(rec.ProdMetrics)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal production metrics of %s: %w", prod, err)
			}
			testJSON, err := json.Marshal(rec.TestMetrics)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal test metrics of %s: %w", prod, err)
			}
			smellsJSON, err := json.Marshal(rec.Smells)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal smell counts of %s: %w", prod, err)
			}
			rows = append(rows, schema.CorpusRowRecord{
				CloneURL:    url,
				ProdPath:    prod,
				RecordTime:  recordTime,
				Bug:         int32(rec.Bug),
				TestFiles:   int32(len(rec.TestFiles)),
				SmellTotal:  int32(smellTotal(rec.Smells)),
				ProdMetrics: string(prodJSON),
				TestMetrics: string(testJSON),
				SmellCounts: string(smellsJSON),
			})
		}
	}
	return rows, nil
}

func smellTotal(c schema.SmellCounts) int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// WriteCorpusResults outputs the corpus, dispatching on the configured format.
// Table, JSON and CSV print per-repository summaries; Parquet writes one row
// per production file and needs an output file.
func WriteCorpusResults(corpus schema.Corpus, cfg *contract.Config, duration time.Duration) error {
	switch cfg.Output {
	case schema.ParquetOut:
		return writeCorpusParquet(corpus, cfg.OutputFile)
	case schema.JSONOut:
		return writeWithFile(cfg.OutputFile, func(w io.Writer) error {
			return writeJSON(w, SummarizeCorpus(corpus))
		}, "Wrote JSON")
	case schema.CSVOut:
		return writeWithFile(cfg.OutputFile, func(w io.Writer) error {
			return writeCorpusCSV(w, SummarizeCorpus(corpus))
		}, "Wrote CSV")
	default:
		return writeWithFile(cfg.OutputFile, func(w io.Writer) error {
			return writeCorpusTable(w, SummarizeCorpus(corpus), cfg, duration)
		}, "Wrote table")
	}
}

func writeCorpusParquet(corpus schema.Corpus, outputFile string) error {
	if outputFile == "" {
		return errors.New("parquet output requires --output-file")
	}
	rows, err := CorpusRows(corpus, time.Now())
	if err != nil {
		return err
	}
	if err := parquet.WriteCorpusRowsParquet(parquet.ConvertCorpusRowRecords(rows), outputFile); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stderr, "💾 Wrote %s corpus rows to %s\n", humanize.Comma(int64(len(rows))), outputFile)
	return nil
}

func writeCorpusCSV(w io.Writer, summaries []CorpusSummary) error {
	header := []string{"clone_url", "records", "buggy", "bug_rate", "test_files", "smell_total"}
	return writeCSVWithHeader(w, header, func(cw *csv.Writer) error {
		for _, s := range summaries {
			rec := []string{
				s.CloneURL,
				strconv.Itoa(s.Records),
				strconv.Itoa(s.Buggy),
				strconv.FormatFloat(s.BugRate, 'f', 2, 64),
				strconv.Itoa(s.TestFiles),
				strconv.Itoa(s.SmellTotal),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeCorpusTable(w io.Writer, summaries []CorpusSummary, cfg *contract.Config, duration time.Duration) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Repository", "Records", "Buggy", "Bug Rate", "Tests", "Smells"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	width := GetMaxTablePathWidth(cfg, corpusFixedWidth)
	var records, buggy int
	data := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		records += s.Records
		buggy += s.Buggy
		data = append(data, []string{
			contract.TruncatePath(s.CloneURL, width),
			humanize.Comma(int64(s.Records)),
			humanize.Comma(int64(s.Buggy)),
			fmtPercent(s.BugRate),
			humanize.Comma(int64(s.TestFiles)),
			humanize.Comma(int64(s.SmellTotal)),
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s records (%s buggy) from %d repositories in %v\n",
		humanize.Comma(int64(records)), humanize.Comma(int64(buggy)), len(summaries), duration.Round(time.Millisecond))
	return err
}
