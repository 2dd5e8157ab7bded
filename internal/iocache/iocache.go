// Package iocache persists the metrics cache and the run-tracking audit trail.
package iocache

import (
	"sync"

	"github.com/huangsam/tsmine/internal/contract"
)

// StoreManager manages the metrics cache store and the run store.
type StoreManager struct {
	sync.RWMutex // Protects the store pointers during initialization
	metrics      contract.CacheStore
	runs         contract.RunStore
}

var _ contract.CacheManager = &StoreManager{} // Compile-time check

// GetMetricsStore returns the metrics CacheStore.
func (mgr *StoreManager) GetMetricsStore() contract.CacheStore {
	mgr.RLock()
	defer mgr.RUnlock()
	return mgr.metrics
}

// GetRunStore returns the RunStore.
func (mgr *StoreManager) GetRunStore() contract.RunStore {
	mgr.RLock()
	defer mgr.RUnlock()
	return mgr.runs
}
