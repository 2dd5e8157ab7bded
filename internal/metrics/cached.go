package metrics

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"time"

	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/schema"
	"github.com/rs/zerolog"
)

// cacheVersion is stored with every entry. Bump it when the entry layout changes.
const cacheVersion = 1

// cacheEntry is the gob payload of one cached extraction. Unusable files are
// cached too, so they are not parsed again.
type cacheEntry struct {
	Metrics  schema.Metrics
	Unusable bool
}

// Cached wraps an extractor with the metrics cache store.
type Cached struct {
	next   Extractor
	store  contract.CacheStore
	logger zerolog.Logger
}

var _ Extractor = &Cached{} // Compile-time check

// NewCached returns next behind store. Cache failures are logged and fall
// back to computing the metrics.
func NewCached(next Extractor, store contract.CacheStore, logger zerolog.Logger) *Cached {
	return &Cached{next: next, store: store, logger: logger}
}

// Version implements Extractor.
func (c *Cached) Version() string {
	return c.next.Version()
}

// CacheKey returns the key of src for an extractor version.
func CacheKey(version string, src []byte) string {
	sum := sha256.Sum256(src)
	return "metrics:" + version + ":" + hex.EncodeToString(sum[:])
}

// Extract implements Extractor.
func (c *Cached) Extract(ctx context.Context, path string, src []byte) (schema.Metrics, error) {
	key := CacheKey(c.next.Version(), src)
	if data, version, _, err := c.store.Get(key); err == nil && version == cacheVersion {
		var entry cacheEntry
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entry); err == nil {
			if entry.Unusable {
				return nil, ErrUnusable
			}
			return entry.Metrics, nil
		}
		c.logger.Debug().Str("path", path).Msg("ignoring undecodable cache entry")
	}

	m, err := c.next.Extract(ctx, path, src)
	entry := cacheEntry{Metrics: m}
	if errors.Is(err, ErrUnusable) {
		entry.Unusable = true
	} else if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if encErr := gob.NewEncoder(&buf).Encode(entry); encErr == nil {
		if setErr := c.store.Set(key, buf.Bytes(), cacheVersion, time.Now().Unix()); setErr != nil {
			c.logger.Warn().Err(setErr).Str("path", path).Msg("failed to cache metrics")
		}
	}
	return m, err
}
