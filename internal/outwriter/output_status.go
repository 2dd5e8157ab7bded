package outwriter

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/huangsam/tsmine/internal/smells"
	"github.com/huangsam/tsmine/schema"
)

const statusTimeFormat = "2006-01-02 15:04:05"

// WriteCacheStatus prints metrics cache statistics.
func WriteCacheStatus(w io.Writer, status schema.CacheStatus) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Cache Backend: %s\n", status.Backend)
	fmt.Fprintf(&b, "Connected: %t\n", status.Connected)
	if status.Connected {
		fmt.Fprintf(&b, "Total Entries: %s\n", humanize.Comma(int64(status.TotalEntries)))
		if status.TotalEntries > 0 {
			fmt.Fprintf(&b, "Last Entry: %s\n", status.LastEntryTime.Format(statusTimeFormat))
			fmt.Fprintf(&b, "Oldest Entry: %s\n", status.OldestEntryTime.Format(statusTimeFormat))
		}
		fmt.Fprintf(&b, "Table Size: %s\n", humanize.Bytes(uint64(max(status.TableSizeBytes, 0))))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteRunStatus prints run store statistics.
func WriteRunStatus(w io.Writer, status schema.RunStatus) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Run Backend: %s\n", status.Backend)
	fmt.Fprintf(&b, "Connected: %t\n", status.Connected)
	if status.Connected {
		fmt.Fprintf(&b, "Total Runs: %s\n", humanize.Comma(int64(status.TotalRuns)))
		if status.TotalRuns > 0 {
			fmt.Fprintf(&b, "Last Run ID: %s\n", status.LastRunID)
			fmt.Fprintf(&b, "Last Run: %s\n", status.LastRunTime.Format(statusTimeFormat))
			fmt.Fprintf(&b, "Oldest Run: %s\n", status.OldestRunTime.Format(statusTimeFormat))
			fmt.Fprintf(&b, "Corpus Records: %s (%s buggy)\n",
				humanize.Comma(int64(status.TotalRecords)), humanize.Comma(int64(status.BuggyRecords)))
		}
		if len(status.TableSizes) > 0 {
			b.WriteString("Table Sizes:\n")
			for _, table := range slices.Sorted(maps.Keys(status.TableSizes)) {
				fmt.Fprintf(&b, "  %s: %s rows\n", table, humanize.Comma(status.TableSizes[table]))
			}
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteCompactionSummary prints the outcome of a compaction or scan pass,
// followed by every deleted source.
func WriteCompactionSummary(w io.Writer, action string, result smells.Result, duration time.Duration) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s of %s shards (%s skipped, %d deleted), read %s in %v\n",
		action,
		humanize.Comma(int64(result.Written)),
		humanize.Comma(int64(result.Total)),
		humanize.Comma(int64(result.Skipped)),
		len(result.Deleted),
		humanize.Bytes(uint64(max(result.Bytes, 0))),
		duration.Round(time.Millisecond))
	for _, path := range result.Deleted {
		fmt.Fprintf(&b, "  deleted %s\n", path)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
