// Package metrics computes the static metrics of Python source files.
package metrics

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/huangsam/tsmine/schema"
)

// Errors returned by extractors.
var (
	ErrUnusable    = errors.New("source is not usable for metrics")
	ErrUnavailable = errors.New("metrics extraction requires CGO (tree-sitter)")
)

// Extractor computes the metrics of one source file.
type Extractor interface {
	// Extract returns the metrics of src. ErrUnusable means the file should
	// be dropped rather than failing the caller.
	Extract(ctx context.Context, path string, src []byte) (schema.Metrics, error)

	// Version identifies the metric definitions, so cached values from an
	// older implementation are never reused.
	Version() string
}

// Halstead holds the operator and operand counts of a file.
type Halstead struct {
	H1, H2 int // Distinct operators and operands
	N1, N2 int // Total operators and operands
}

// Volume returns N log2(h).
func (h Halstead) Volume() float64 {
	vocabulary := h.H1 + h.H2
	if vocabulary == 0 {
		return 0
	}
	return float64(h.N1+h.N2) * math.Log2(float64(vocabulary))
}

// Difficulty returns h1/2 * N2/h2.
func (h Halstead) Difficulty() float64 {
	if h.H2 == 0 {
		return 0
	}
	return float64(h.H1) / 2 * float64(h.N2) / float64(h.H2)
}

// Effort returns difficulty times volume.
func (h Halstead) Effort() float64 {
	return h.Difficulty() * h.Volume()
}

// Set writes the Halstead keys into m.
func (h Halstead) Set(m schema.Metrics) {
	m[schema.MetricH1] = float64(h.H1)
	m[schema.MetricH2] = float64(h.H2)
	m[schema.MetricN1] = float64(h.N1)
	m[schema.MetricN2] = float64(h.N2)
	m[schema.MetricVolume] = h.Volume()
	m[schema.MetricDifficulty] = h.Difficulty()
	m[schema.MetricEffort] = h.Effort()
	m[schema.MetricBugs] = h.Volume() / 3000
	m[schema.MetricTime] = h.Effort() / 18
}

// MaintainabilityIndex returns the 0..100 index of a file from its Halstead
// volume, total cyclomatic complexity, logical lines and comment percentage.
func MaintainabilityIndex(volume, complexity, lloc, commentPercent float64) float64 {
	if volume <= 0 || lloc <= 0 {
		return 100
	}
	mi := 171 -
		5.2*math.Log(volume) -
		0.23*complexity -
		16.2*math.Log(lloc) +
		50*math.Sin(math.Sqrt(2.46*commentPercent*math.Pi/180))
	return min(max(0, mi*100/171), 100)
}

// CountPrefixedLines counts the lines whose trimmed text starts with prefix,
// such as "def " or "class ".
func CountPrefixedLines(src string, prefix string) int {
	n := 0
	for line := range strings.Lines(src) {
		if strings.HasPrefix(strings.TrimSpace(line), prefix) {
			n++
		}
	}
	return n
}

// Combine merges the metrics of several files. cc_max keeps the maximum and
// every other key becomes the mean. Keys follow the first entry.
func Combine(all []schema.Metrics) schema.Metrics {
	if len(all) == 0 {
		return nil
	}
	out := make(schema.Metrics, len(all[0]))
	for key := range all[0] {
		if key == schema.MetricCCMax {
			best := math.Inf(-1)
			for _, m := range all {
				best = max(best, m[key])
			}
			out[key] = best
			continue
		}
		var sum float64
		for _, m := range all {
			sum += m[key]
		}
		out[key] = sum / float64(len(all))
	}
	return out
}
