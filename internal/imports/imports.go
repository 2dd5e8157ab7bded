// Package imports turns the import statements of a Python tree into a
// test -> production file mapping.
package imports

import (
	"bytes"
	"errors"
	"iter"
	"slices"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnusable is returned for sources that cannot be analyzed: invalid
	// UTF-8, NUL bytes or syntax errors.
	ErrUnusable = errors.New("unusable source")

	// ErrUnavailable is returned when the binary was built without tree-sitter.
	ErrUnavailable = errors.New("python parsing requires CGO (tree-sitter)")
)

// testMarker is the module family that makes a file a test file.
const testMarker = "unittest"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode strips a UTF-8 BOM and rejects sources that are not clean UTF-8 text.
func Decode(src []byte) ([]byte, error) {
	src = bytes.TrimPrefix(src, utf8BOM)
	if bytes.IndexByte(src, 0) >= 0 {
		return nil, ErrUnusable
	}
	if !utf8.Valid(src) {
		return nil, ErrUnusable
	}
	return src, nil
}

// IsTestFile reports whether any module reference belongs to the unittest family.
func IsTestFile(refs []string) bool {
	return slices.ContainsFunc(refs, func(ref string) bool {
		return strings.Contains(ref, testMarker)
	})
}

// Candidates yields the file paths a dotted reference may live at, longest
// first: "a.b.c" yields a/b/c.py, a/b.py and a.py.
func Candidates(ref string) iter.Seq[string] {
	return func(yield func(string) bool) {
		parts := strings.Split(ref, ".")
		if slices.Contains(parts, "") {
			return
		}
		for n := len(parts); n >= 1; n-- {
			if !yield(strings.Join(parts[:n], "/") + ".py") {
				return
			}
		}
	}
}
