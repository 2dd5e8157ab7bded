package imports

import (
	"slices"
	"strings"

	"github.com/armon/go-radix"
)

// SuffixIndex answers "which files end with these path segments" in time
// proportional to the query. Keys are the reversed segments of each path, so
// a segment-suffix query becomes a radix prefix walk.
type SuffixIndex struct {
	tree *radix.Tree
}

// NewSuffixIndex indexes repo-relative slash paths.
func NewSuffixIndex(paths []string) *SuffixIndex {
	tree := radix.New()
	for _, p := range paths {
		tree.Insert(reverseKey(p), p)
	}
	return &SuffixIndex{tree: tree}
}

// Len returns the number of indexed paths.
func (s *SuffixIndex) Len() int {
	return s.tree.Len()
}

// Lookup returns up to limit paths whose trailing segments equal suffix.
func (s *SuffixIndex) Lookup(suffix string, limit int) []string {
	var hits []string
	s.tree.WalkPrefix(reverseKey(suffix), func(_ string, v any) bool {
		hits = append(hits, v.(string))
		return limit > 0 && len(hits) >= limit
	})
	return hits
}

// Resolve maps a dotted reference to the single file it names. A candidate
// with several matches stops the search with no result; a candidate with no
// match retries one segment shorter.
func (s *SuffixIndex) Resolve(ref string) (string, bool) {
	for candidate := range Candidates(ref) {
		switch hits := s.Lookup(candidate, 2); len(hits) {
		case 0:
			continue
		case 1:
			return hits[0], true
		default:
			return "", false
		}
	}
	return "", false
}

// reverseKey turns "pkg/a/b.py" into "b.py/a/pkg/". The trailing separator
// keeps "b.py" from matching "xb.py".
func reverseKey(p string) string {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	slices.Reverse(segments)
	return strings.Join(segments, "/") + "/"
}
