package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/remora-io/catalog-relay/modules/catalog/domain/entities/product"
)

// InmemSnapshotCache is a map-backed CacheRepository with the same version
// semantics as the redis implementation, used in tests.
type InmemSnapshotCache struct {
	mu           sync.RWMutex
	entries      map[string]product.Snapshot
	lastSyncedAt time.Time
}

func NewInmemSnapshotCache() *InmemSnapshotCache {
	return &InmemSnapshotCache{entries: make(map[string]product.Snapshot)}
}

func (c *InmemSnapshotCache) Get(_ context.Context, id string) (product.Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.entries[id]
	if !ok {
		return product.Snapshot{}, product.ErrCacheMiss
	}
	return snap, nil
}

func (c *InmemSnapshotCache) GetAll(_ context.Context) ([]product.Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]product.Snapshot, 0, len(c.entries))
	for _, snap := range c.entries {
		out = append(out, snap)
	}
	return out, nil
}

func (c *InmemSnapshotCache) Put(_ context.Context, snap product.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.entries[snap.ID]; ok && current.Version > snap.Version {
		return nil
	}
	c.entries[snap.ID] = snap
	return nil
}

func (c *InmemSnapshotCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}

func (c *InmemSnapshotCache) ReplaceAll(_ context.Context, snaps []product.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]product.Snapshot, len(snaps))
	for _, snap := range snaps {
		c.entries[snap.ID] = snap
	}
	c.lastSyncedAt = time.Now()
	return nil
}

func (c *InmemSnapshotCache) LastSyncedAt(_ context.Context) (time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSyncedAt, nil
}
