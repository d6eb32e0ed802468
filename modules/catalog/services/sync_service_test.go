package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remora-io/catalog-relay/modules/catalog/domain/entities/product"
	"github.com/remora-io/catalog-relay/modules/catalog/infrastructure/persistence"
	"github.com/remora-io/catalog-relay/modules/catalog/services"
	"github.com/remora-io/catalog-relay/pkg/mq"
	"github.com/remora-io/catalog-relay/pkg/retry"
)

func mustProduct(t *testing.T, id, sku, name string, priceCents int64) product.Product {
	t.Helper()
	p, err := product.New(sku, name, priceCents, product.WithID(id))
	require.NoError(t, err)
	return p
}

func seedRepo(t *testing.T, repo product.Repository, products ...product.Product) {
	t.Helper()
	for _, p := range products {
		_, err := repo.Create(context.Background(), p)
		require.NoError(t, err)
	}
}

func waitWarm(t *testing.T, sync *services.CacheSyncService) {
	t.Helper()
	require.Eventually(t, func() bool {
		return sync.State() == services.StateWarm
	}, time.Second, time.Millisecond)
}

// flakyRepo fails GetAll a fixed number of times before delegating.
type flakyRepo struct {
	product.Repository
	mu       sync.Mutex
	failures int
	calls    int
}

func (r *flakyRepo) GetAll(ctx context.Context) ([]product.Product, error) {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.failures
	r.mu.Unlock()
	if fail {
		return nil, errors.New("system of record unavailable")
	}
	return r.Repository.GetAll(ctx)
}

func (r *flakyRepo) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *flakyRepo) reset(failures int) {
	r.mu.Lock()
	r.failures = failures
	r.calls = 0
	r.mu.Unlock()
}

func TestCacheSync_WarmupPopulatesExactly(t *testing.T) {
	t.Parallel()

	repo := persistence.NewInmemProductRepository()
	seedRepo(t, repo,
		mustProduct(t, "a", "SKU-A", "Alpha", 100),
		mustProduct(t, "b", "SKU-B", "Beta", 200),
		mustProduct(t, "c", "SKU-C", "Gamma", 300),
	)
	cache := persistence.NewInmemSnapshotCache()

	sync := services.NewCacheSyncService(services.CacheSyncServiceConfig{
		Repo:        repo,
		Cache:       cache,
		WarmupRetry: retry.Policy{BaseDelay: time.Millisecond, MaxAttempts: 1},
	})

	require.Equal(t, services.StateCold, sync.State())
	require.NoError(t, sync.Warmup(context.Background()))
	assert.Equal(t, services.StateWarm, sync.State())
	assert.False(t, sync.LastResync().IsZero())

	snaps, err := cache.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 3)

	byID := make(map[string]product.Snapshot, len(snaps))
	for _, s := range snaps {
		byID[s.ID] = s
	}
	assert.Equal(t, "Alpha", byID["a"].Name)
	assert.Equal(t, int64(200), byID["b"].PriceCents)
	assert.Equal(t, "SKU-C", byID["c"].SKU)
}

func TestCacheSync_WarmupRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	inner := persistence.NewInmemProductRepository()
	seedRepo(t, inner, mustProduct(t, "a", "SKU-A", "Alpha", 100))
	repo := &flakyRepo{Repository: inner, failures: 2}
	cache := persistence.NewInmemSnapshotCache()

	sync := services.NewCacheSyncService(services.CacheSyncServiceConfig{
		Repo:        repo,
		Cache:       cache,
		WarmupRetry: retry.Policy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 5},
	})

	require.NoError(t, sync.Warmup(context.Background()))
	assert.Equal(t, 3, repo.callCount())
	assert.Equal(t, services.StateWarm, sync.State())
}

func TestCacheSync_WarmupExhaustedStaysCold(t *testing.T) {
	t.Parallel()

	repo := &flakyRepo{Repository: persistence.NewInmemProductRepository(), failures: 100}
	cache := persistence.NewInmemSnapshotCache()

	sync := services.NewCacheSyncService(services.CacheSyncServiceConfig{
		Repo:        repo,
		Cache:       cache,
		WarmupRetry: retry.Policy{BaseDelay: time.Millisecond, MaxAttempts: 3},
	})

	require.Error(t, sync.Warmup(context.Background()))
	assert.Equal(t, services.StateCold, sync.State())
	assert.True(t, sync.Degraded())

	// The cache serves empty rather than failing.
	snaps, err := cache.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestCacheSync_UpdateEventReplacesWholeSnapshot(t *testing.T) {
	t.Parallel()

	cache := persistence.NewInmemSnapshotCache()

	transport := mq.NewMemoryTransport()
	t.Cleanup(func() { _ = transport.Close() })
	pub := mq.NewEventPublisher(transport, "catalog.events", mq.PublisherOptions{})
	sub := mq.NewEventSubscriber(transport, "catalog.events", mq.SubscriberOptions{})

	sync := services.NewCacheSyncService(services.CacheSyncServiceConfig{
		Repo:        persistence.NewInmemProductRepository(),
		Cache:       cache,
		Subscriber:  sub,
		Interval:    time.Hour,
		WarmupRetry: retry.Policy{BaseDelay: time.Millisecond, MaxAttempts: 1},
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, sync.Start(ctx))
	waitWarm(t, sync)

	// Seed after warm-up so the full reload cannot clobber the entry.
	require.NoError(t, cache.Put(ctx, product.Snapshot{
		ID: "p1", SKU: "OLD-SKU", Name: "Old name", PriceCents: 5, Version: 1,
	}))

	// New snapshot omits the SKU: the old value must not be merged in.
	require.NoError(t, pub.Publish(ctx, product.EventUpdated, product.Snapshot{
		ID: "p1", Name: "New name", PriceCents: 10, Version: 2,
	}))

	require.Eventually(t, func() bool {
		snap, err := cache.Get(context.Background(), "p1")
		return err == nil && snap.Version == 2
	}, time.Second, 5*time.Millisecond)

	snap, err := cache.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), snap.PriceCents)
	assert.Equal(t, "New name", snap.Name)
	assert.Empty(t, snap.SKU, "stale fields must not survive a whole-value replacement")
}

func TestCacheSync_StaleEventDoesNotRegressEntry(t *testing.T) {
	t.Parallel()

	cache := persistence.NewInmemSnapshotCache()
	require.NoError(t, cache.Put(context.Background(), product.Snapshot{
		ID: "p1", Name: "Current", PriceCents: 20, Version: 3,
	}))

	// An out-of-order redelivery carrying version 2 arrives afterwards.
	require.NoError(t, cache.Put(context.Background(), product.Snapshot{
		ID: "p1", Name: "Stale", PriceCents: 10, Version: 2,
	}))

	snap, err := cache.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.Version)
	assert.Equal(t, "Current", snap.Name)
}

func TestCacheSync_ResyncReconcilesDroppedEvent(t *testing.T) {
	t.Parallel()

	repo := persistence.NewInmemProductRepository()
	seedRepo(t, repo, mustProduct(t, "a", "SKU-A", "Alpha", 100))
	cache := persistence.NewInmemSnapshotCache()

	sync := services.NewCacheSyncService(services.CacheSyncServiceConfig{
		Repo:        repo,
		Cache:       cache,
		WarmupRetry: retry.Policy{BaseDelay: time.Millisecond, MaxAttempts: 1},
	})
	require.NoError(t, sync.Warmup(context.Background()))

	// A second product appears in the System of Record but its created
	// event never arrives.
	seedRepo(t, repo, mustProduct(t, "b", "SKU-B", "Beta", 200))
	_, err := cache.Get(context.Background(), "b")
	require.ErrorIs(t, err, product.ErrCacheMiss)

	require.NoError(t, sync.Resync(context.Background()))

	snap, err := cache.Get(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, "Beta", snap.Name)
}

func TestCacheSync_DeleteEventRemovesEntry(t *testing.T) {
	t.Parallel()

	cache := persistence.NewInmemSnapshotCache()

	transport := mq.NewMemoryTransport()
	t.Cleanup(func() { _ = transport.Close() })
	pub := mq.NewEventPublisher(transport, "catalog.events", mq.PublisherOptions{})
	sub := mq.NewEventSubscriber(transport, "catalog.events", mq.SubscriberOptions{})

	sync := services.NewCacheSyncService(services.CacheSyncServiceConfig{
		Repo:        persistence.NewInmemProductRepository(),
		Cache:       cache,
		Subscriber:  sub,
		Interval:    time.Hour,
		WarmupRetry: retry.Policy{BaseDelay: time.Millisecond, MaxAttempts: 1},
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, sync.Start(ctx))
	waitWarm(t, sync)

	require.NoError(t, cache.Put(ctx, product.Snapshot{ID: "p1", Name: "Doomed", Version: 1}))
	require.NoError(t, pub.Publish(ctx, product.EventDeleted, product.Snapshot{ID: "p1", Version: 2}))

	require.Eventually(t, func() bool {
		_, err := cache.Get(context.Background(), "p1")
		return errors.Is(err, product.ErrCacheMiss)
	}, time.Second, 5*time.Millisecond)
}

func TestCacheSync_StartRecoversPersistedSyncTime(t *testing.T) {
	t.Parallel()

	// A previous process left a synced cache behind.
	cache := persistence.NewInmemSnapshotCache()
	require.NoError(t, cache.ReplaceAll(context.Background(), []product.Snapshot{
		{ID: "p1", Name: "Leftover", Version: 1},
	}))
	persisted, err := cache.LastSyncedAt(context.Background())
	require.NoError(t, err)
	require.False(t, persisted.IsZero())

	repo := &flakyRepo{Repository: persistence.NewInmemProductRepository(), failures: 100}
	sync := services.NewCacheSyncService(services.CacheSyncServiceConfig{
		Repo:        repo,
		Cache:       cache,
		WarmupRetry: retry.Policy{BaseDelay: time.Millisecond, MaxAttempts: 1},
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, sync.Start(ctx))

	// The persisted timestamp is the staleness signal even though this
	// process never completed a load of its own.
	assert.Equal(t, persisted, sync.LastResync())
	require.Eventually(t, func() bool { return repo.callCount() > 0 }, time.Second, time.Millisecond)
	assert.True(t, sync.Degraded())
}

func TestCacheSync_ResyncFailureKeepsWarmState(t *testing.T) {
	t.Parallel()

	inner := persistence.NewInmemProductRepository()
	seedRepo(t, inner, mustProduct(t, "a", "SKU-A", "Alpha", 100))
	repo := &flakyRepo{Repository: inner}
	cache := persistence.NewInmemSnapshotCache()

	sync := services.NewCacheSyncService(services.CacheSyncServiceConfig{
		Repo:        repo,
		Cache:       cache,
		WarmupRetry: retry.Policy{BaseDelay: time.Millisecond, MaxAttempts: 1},
	})
	require.NoError(t, sync.Warmup(context.Background()))
	require.Equal(t, services.StateWarm, sync.State())

	repo.reset(100)
	require.Error(t, sync.Resync(context.Background()))
	assert.Equal(t, services.StateWarm, sync.State(), "partial failure must not revert to cold")

	// Stale reads keep working.
	snap, err := cache.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", snap.Name)
}
