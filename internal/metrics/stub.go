//go:build !cgo

package metrics

import (
	"context"

	"github.com/huangsam/tsmine/schema"
)

// TreeSitter extracts metrics from Python source.
// This is a stub implementation for non-CGO builds.
type TreeSitter struct{}

var _ Extractor = &TreeSitter{} // Compile-time check

// NewTreeSitter creates the extractor stub.
func NewTreeSitter() *TreeSitter {
	return &TreeSitter{}
}

// IsAvailable reports whether metrics extraction is compiled in.
func IsAvailable() bool {
	return false
}

// Version implements Extractor.
func (t *TreeSitter) Version() string {
	return "unavailable"
}

// Extract always fails without CGO.
func (t *TreeSitter) Extract(_ context.Context, _ string, _ []byte) (schema.Metrics, error) {
	return nil, ErrUnavailable
}
