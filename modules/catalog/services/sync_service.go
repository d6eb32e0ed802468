package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/remora-io/catalog-relay/modules/catalog/domain/entities/product"
	"github.com/remora-io/catalog-relay/pkg/mq"
	"github.com/remora-io/catalog-relay/pkg/retry"
)

// SyncState is the synchronizer's lifecycle state. A process starts cold;
// the first successful full load makes it warm, and it never reverts to
// cold on later failures: serving stale data beats refusing to serve.
type SyncState int32

const (
	StateCold SyncState = iota
	StateWarm
)

func (s SyncState) String() string {
	switch s {
	case StateWarm:
		return "warm"
	default:
		return "cold"
	}
}

type CacheSyncServiceConfig struct {
	Repo  product.Repository
	Cache product.CacheRepository
	// Subscriber delivers incremental updates between resyncs. May be
	// nil, leaving only the periodic full resync.
	Subscriber *mq.EventSubscriber
	// Interval between periodic full resyncs; it bounds the staleness
	// introduced by missed or out-of-order events.
	Interval time.Duration
	// WarmupRetry governs the warm-up retry schedule. MaxAttempts zero
	// keeps retrying until the context is cancelled.
	WarmupRetry retry.Policy
	Logger      *logrus.Entry
}

// CacheSyncService keeps the snapshot cache converged with the System of
// Record: a warm-up full load at startup, incremental updates from
// lifecycle events, and a periodic full resync that overwrites every
// entry.
type CacheSyncService struct {
	repo       product.Repository
	cache      product.CacheRepository
	subscriber *mq.EventSubscriber
	interval   time.Duration
	warmupTry  retry.Policy
	writeTry   retry.Policy
	log        *logrus.Entry
	m          *syncMetrics

	state atomic.Int32

	mu         sync.Mutex
	lastResync time.Time
}

func NewCacheSyncService(config CacheSyncServiceConfig) *CacheSyncService {
	if config.Interval == 0 {
		config.Interval = 60 * time.Second
	}
	if config.Logger == nil {
		config.Logger = nopLogger()
	}
	return &CacheSyncService{
		repo:       config.Repo,
		cache:      config.Cache,
		subscriber: config.Subscriber,
		interval:   config.Interval,
		warmupTry:  config.WarmupRetry,
		// Incremental cache writes get a short bounded retry; a write
		// that still fails is corrected by the next resync.
		writeTry: retry.Policy{
			BaseDelay:   50 * time.Millisecond,
			MaxDelay:    time.Second,
			MaxAttempts: 3,
		},
		log: config.Logger,
		m:   getSyncMetrics(),
	}
}

// Start binds the event subscriptions and launches the warm-up and the
// periodic resync loop in the background. It returns once subscriptions
// are established; the loop runs until ctx is cancelled.
func (s *CacheSyncService) Start(ctx context.Context) error {
	// A previous process may have left a synced cache behind; surface its
	// timestamp as the staleness signal until the first fresh resync.
	if ts, err := s.cache.LastSyncedAt(ctx); err == nil && !ts.IsZero() {
		s.mu.Lock()
		s.lastResync = ts
		s.mu.Unlock()
	}

	if s.subscriber != nil {
		for _, pattern := range []string{product.EventCreated, product.EventUpdated} {
			if err := s.subscriber.Subscribe(ctx, pattern, s.handleUpsert); err != nil {
				return fmt.Errorf("subscribe %q: %w", pattern, err)
			}
		}
		if err := s.subscriber.Subscribe(ctx, product.EventDeleted, s.handleDelete); err != nil {
			return fmt.Errorf("subscribe %q: %w", product.EventDeleted, err)
		}
	}
	go s.run(ctx)
	return nil
}

func (s *CacheSyncService) run(ctx context.Context) {
	if err := s.Warmup(ctx); err != nil {
		s.log.WithError(err).Error("cache_sync: warm-up failed, serving stale or empty cache")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Resync(ctx); err != nil {
				// State stays warm: bounded staleness is preferred
				// over refusing to serve.
				s.log.WithError(err).Warn("cache_sync: periodic resync failed")
			}
		}
	}
}

// Warmup performs the initial full load, retrying with exponential
// backoff per the configured policy.
func (s *CacheSyncService) Warmup(ctx context.Context) error {
	return retry.Do(ctx, s.warmupTry, func(ctx context.Context) error {
		if err := s.Resync(ctx); err != nil {
			s.log.WithError(err).Warn("cache_sync: warm-up attempt failed")
			return err
		}
		return nil
	})
}

// Resync pulls the complete product set from the System of Record and
// overwrites the cache with it. Success transitions the state to warm and
// reconciles any entry a dropped or reordered event left behind.
func (s *CacheSyncService) Resync(ctx context.Context) error {
	products, err := s.repo.GetAll(ctx)
	if err != nil {
		s.m.resyncTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("load products: %w", err)
	}
	snaps := toSnapshots(products)
	if err := s.cache.ReplaceAll(ctx, snaps); err != nil {
		s.m.resyncTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("replace cache: %w", err)
	}

	s.state.Store(int32(StateWarm))
	now := time.Now()
	s.mu.Lock()
	s.lastResync = now
	s.mu.Unlock()

	s.m.resyncTotal.WithLabelValues("success").Inc()
	s.m.state.Set(float64(StateWarm))
	s.m.lastResync.Set(float64(now.Unix()))
	s.log.WithField("products", len(snaps)).Debug("cache_sync: full resync completed")
	return nil
}

func (s *CacheSyncService) handleUpsert(ctx context.Context, ev mq.Event) error {
	var snap product.Snapshot
	if err := ev.Bind(&snap); err != nil {
		return fmt.Errorf("decode %q event: %w", ev.RoutingKey, err)
	}
	if snap.ID == "" {
		return fmt.Errorf("%q event without product id", ev.RoutingKey)
	}
	if err := retry.Do(ctx, s.writeTry, func(ctx context.Context) error {
		return s.cache.Put(ctx, snap)
	}); err != nil {
		return err
	}
	s.m.eventsApplied.WithLabelValues(ev.RoutingKey).Inc()
	return nil
}

func (s *CacheSyncService) handleDelete(ctx context.Context, ev mq.Event) error {
	var snap product.Snapshot
	if err := ev.Bind(&snap); err != nil {
		return fmt.Errorf("decode %q event: %w", ev.RoutingKey, err)
	}
	if err := retry.Do(ctx, s.writeTry, func(ctx context.Context) error {
		return s.cache.Delete(ctx, snap.ID)
	}); err != nil {
		return err
	}
	s.m.eventsApplied.WithLabelValues(ev.RoutingKey).Inc()
	return nil
}

func (s *CacheSyncService) State() SyncState {
	return SyncState(s.state.Load())
}

func (s *CacheSyncService) LastResync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResync
}

// Degraded reports whether the synchronizer never completed a full load.
// Cache reads still work; they just see an empty or stale cache.
func (s *CacheSyncService) Degraded() bool {
	return s.State() == StateCold
}
