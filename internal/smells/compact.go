// Package smells compacts raw smell detector reports into per-file counts.
package smells

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/huangsam/tsmine/schema"
)

// ErrCorrupt is returned for reports that are truncated or do not follow the
// detector's report shape. Corrupt sources are deleted so a later detector
// pass can regenerate them.
var ErrCorrupt = errors.New("corrupt smell report")

// rawFile is one element of a detector report. Pointers distinguish missing
// fields from zero values.
type rawFile struct {
	Name      *string    `json:"name"`
	TestCases *[]rawCase `json:"testCases"`
}

type rawCase struct {
	DetectorResults *[]rawResult `json:"detectorResults"`
}

type rawResult struct {
	Name     *string `json:"name"`
	HasSmell *bool   `json:"hasSmell"`
}

// Compact streams a raw report and sums hasSmell per smell for every test
// file. Every smell name seen is present, even with a zero count. When a
// report names the same file twice the last entry wins.
func Compact(r io.Reader) (schema.SmellSummary, error) {
	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}

	summary := make(schema.SmellSummary)
	for dec.More() {
		var file rawFile
		if err := dec.Decode(&file); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		counts, err := countFile(file)
		if err != nil {
			return nil, err
		}
		summary[*file.Name] = counts
	}

	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after report", ErrCorrupt)
	}
	return summary, nil
}

// countFile validates one file entry and counts its smells.
func countFile(file rawFile) (schema.SmellCounts, error) {
	if file.Name == nil {
		return nil, fmt.Errorf("%w: file without name", ErrCorrupt)
	}
	if file.TestCases == nil {
		return nil, fmt.Errorf("%w: %s has no testCases", ErrCorrupt, *file.Name)
	}
	counts := make(schema.SmellCounts)
	for _, tc := range *file.TestCases {
		if tc.DetectorResults == nil {
			return nil, fmt.Errorf("%w: %s has a test case without detectorResults", ErrCorrupt, *file.Name)
		}
		for _, res := range *tc.DetectorResults {
			if res.Name == nil || res.HasSmell == nil {
				return nil, fmt.Errorf("%w: %s has an incomplete detector result", ErrCorrupt, *file.Name)
			}
			n := counts[*res.Name]
			if *res.HasSmell {
				n++
			}
			counts[*res.Name] = n
		}
	}
	return counts, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %q, got %v", ErrCorrupt, want, tok)
	}
	return nil
}
