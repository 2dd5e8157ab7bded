//go:build !cgo

package imports

import "context"

// Parser extracts module references from Python source.
// This is a stub implementation for non-CGO builds.
type Parser struct{}

// NewParser creates a new parser stub.
func NewParser() *Parser {
	return &Parser{}
}

// IsAvailable reports whether Python parsing is compiled in.
func IsAvailable() bool {
	return false
}

// References always fails without CGO.
func (p *Parser) References(_ context.Context, _ []byte) ([]string, error) {
	return nil, ErrUnavailable
}
