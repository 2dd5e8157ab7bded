package outwriter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/schema"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// progressFixedWidth covers the Analyzed, Total, Percent and Label columns.
const progressFixedWidth = 45

// WriteProgressResults outputs detector coverage, dispatching on the configured format.
func WriteProgressResults(rows []schema.ProgressRow, cfg *contract.Config) error {
	switch cfg.Output {
	case schema.JSONOut:
		return writeWithFile(cfg.OutputFile, func(w io.Writer) error {
			return writeProgressJSON(w, rows)
		}, "Wrote JSON")
	case schema.CSVOut:
		return writeWithFile(cfg.OutputFile, func(w io.Writer) error {
			return writeProgressCSV(w, rows)
		}, "Wrote CSV")
	default:
		return writeWithFile(cfg.OutputFile, func(w io.Writer) error {
			return writeProgressTable(w, rows, cfg)
		}, "Wrote table")
	}
}

// writeProgressJSON adds the derived percent and label to each row.
func writeProgressJSON(w io.Writer, rows []schema.ProgressRow) error {
	type jsonProgressRow struct {
		schema.ProgressRow
		Percent float64 `json:"percent"`
		Label   string  `json:"label"`
	}
	output := make([]jsonProgressRow, len(rows))
	for i, row := range rows {
		output[i] = jsonProgressRow{
			ProgressRow: row,
			Percent:     row.Percent(),
			Label:       contract.GetPlainLabel(row.Percent()),
		}
	}
	return writeJSON(w, output)
}

func writeProgressCSV(w io.Writer, rows []schema.ProgressRow) error {
	header := []string{"repo", "analyzed", "total", "percent", "label"}
	return writeCSVWithHeader(w, header, func(cw *csv.Writer) error {
		for _, row := range rows {
			rec := []string{
				row.Repo,
				strconv.Itoa(row.Analyzed),
				strconv.Itoa(row.Total),
				strconv.FormatFloat(row.Percent(), 'f', 2, 64),
				contract.GetPlainLabel(row.Percent()),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeProgressTable(w io.Writer, rows []schema.ProgressRow, cfg *contract.Config) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "Every repository is fully analyzed.")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header([]string{"Repo", "Analyzed", "Total", "Percent", "Label"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	width := GetMaxTablePathWidth(cfg, progressFixedWidth)
	var analyzed, total int64
	data := make([][]string, 0, len(rows))
	for _, row := range rows {
		analyzed += int64(row.Analyzed)
		total += int64(row.Total)
		data = append(data, []string{
			contract.TruncatePath(row.Repo, width),
			humanize.Comma(int64(row.Analyzed)),
			humanize.Comma(int64(row.Total)),
			fmtPercent(row.Percent()),
			completionLabel(row.Percent(), cfg.UseColors),
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s of %s commits analyzed across %d repositories\n",
		humanize.Comma(analyzed), humanize.Comma(total), len(rows))
	return err
}
