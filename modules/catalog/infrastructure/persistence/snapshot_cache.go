package persistence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/remora-io/catalog-relay/modules/catalog/domain/entities/product"
	"github.com/remora-io/catalog-relay/modules/catalog/infrastructure/persistence/models"
)

// SnapshotCache is the redis-backed product cache shared across process
// restarts. Entries are whole-value JSON snapshots in one hash; the write
// path is serialized by a per-process mutex since the synchronizer and
// event handlers are the single logical writer role.
type SnapshotCache struct {
	redis  *redis.Client
	prefix string

	mu sync.Mutex
}

func NewSnapshotCache(rdb *redis.Client) product.CacheRepository {
	return &SnapshotCache{redis: rdb, prefix: "catalog:products:v1"}
}

func (c *SnapshotCache) hashKey() string {
	return c.prefix + ":snapshots"
}

func (c *SnapshotCache) syncedAtKey() string {
	return c.prefix + ":last_synced_at"
}

func (c *SnapshotCache) Get(ctx context.Context, id string) (product.Snapshot, error) {
	raw, err := c.redis.HGet(ctx, c.hashKey(), id).Result()
	if err != nil {
		if err == redis.Nil {
			return product.Snapshot{}, product.ErrCacheMiss
		}
		return product.Snapshot{}, errors.Wrap(err, "failed to read cache entry")
	}
	var entry models.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return product.Snapshot{}, errors.Wrap(err, "failed to decode cache entry")
	}
	return ToSnapshot(entry), nil
}

func (c *SnapshotCache) GetAll(ctx context.Context) ([]product.Snapshot, error) {
	raw, err := c.redis.HGetAll(ctx, c.hashKey()).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read cache entries")
	}
	snaps := make([]product.Snapshot, 0, len(raw))
	for _, value := range raw {
		var entry models.CacheEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			return nil, errors.Wrap(err, "failed to decode cache entry")
		}
		snaps = append(snaps, ToSnapshot(entry))
	}
	return snaps, nil
}

// Put replaces the entry for snap.ID wholesale. A snapshot older than the
// cached version is dropped silently: last-writer-wins by version, not by
// arrival order.
func (c *SnapshotCache) Put(ctx context.Context, snap product.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.Get(ctx, snap.ID)
	if err == nil && current.Version > snap.Version {
		return nil
	}
	if err != nil && !errors.Is(err, product.ErrCacheMiss) {
		return err
	}
	return c.putLocked(ctx, snap, time.Now())
}

func (c *SnapshotCache) putLocked(ctx context.Context, snap product.Snapshot, syncedAt time.Time) error {
	value, err := json.Marshal(ToCacheEntry(snap, syncedAt))
	if err != nil {
		return errors.Wrap(err, "failed to encode cache entry")
	}
	if err := c.redis.HSet(ctx, c.hashKey(), snap.ID, value).Err(); err != nil {
		return errors.Wrap(err, "failed to write cache entry")
	}
	return nil
}

func (c *SnapshotCache) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.redis.HDel(ctx, c.hashKey(), id).Err(); err != nil {
		return errors.Wrap(err, "failed to delete cache entry")
	}
	return nil
}

// ReplaceAll swaps the full cache contents in one pipeline and records the
// sync timestamp.
func (c *SnapshotCache) ReplaceAll(ctx context.Context, snaps []product.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	values := make(map[string]any, len(snaps))
	for _, snap := range snaps {
		value, err := json.Marshal(ToCacheEntry(snap, now))
		if err != nil {
			return errors.Wrap(err, "failed to encode cache entry")
		}
		values[snap.ID] = value
	}

	pipe := c.redis.TxPipeline()
	pipe.Del(ctx, c.hashKey())
	if len(values) > 0 {
		pipe.HSet(ctx, c.hashKey(), values)
	}
	pipe.Set(ctx, c.syncedAtKey(), now.Format(time.RFC3339Nano), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to replace cache contents")
	}
	return nil
}

func (c *SnapshotCache) LastSyncedAt(ctx context.Context) (time.Time, error) {
	raw, err := c.redis.Get(ctx, c.syncedAtKey()).Result()
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, nil
		}
		return time.Time{}, errors.Wrap(err, "failed to read sync timestamp")
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "failed to parse sync timestamp")
	}
	return ts, nil
}
