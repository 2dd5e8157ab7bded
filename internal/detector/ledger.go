package detector

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/huangsam/tsmine/internal/shard"
	"github.com/huangsam/tsmine/schema"
)

// LedgerPath returns detector_raw/{repo}/{repo}_error.json.
func LedgerPath(layout shard.Layout, repo string) string {
	return filepath.Join(layout.RepoDir(schema.DetectorStage, repo), repo+"_error.json")
}

// LoadLedger reads a ledger file. A missing file is an empty ledger.
func LoadLedger(path string) (schema.ErrorLedger, error) {
	entries := make(schema.ErrorLedger)
	err := shard.ReadJSON(path, &entries)
	if errors.Is(err, fs.ErrNotExist) {
		return make(schema.ErrorLedger), nil
	} else if err != nil {
		return nil, err
	}
	return entries, nil
}

// Ledger is the shared hash -> reason record of one repository. Every
// change rewrites the whole file through an atomic rename.
type Ledger struct {
	mu      sync.Mutex
	path    string
	entries schema.ErrorLedger
}

// OpenLedger loads the ledger at path.
func OpenLedger(path string) (*Ledger, error) {
	entries, err := LoadLedger(path)
	if err != nil {
		return nil, err
	}
	return &Ledger{path: path, entries: entries}, nil
}

// Has reports whether hash was recorded.
func (l *Ledger) Has(hash string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[hash]
	return ok
}

// Record stores the reason for hash and persists the ledger.
func (l *Ledger) Record(hash string, reason schema.LedgerReason) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[hash] = reason
	return shard.WriteJSONIndent(l.path, l.entries)
}

// Len returns the number of recorded commits.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
