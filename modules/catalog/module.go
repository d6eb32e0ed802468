package catalog

import (
	"context"
	"embed"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/remora-io/catalog-relay/modules/catalog/domain/entities/product"
	"github.com/remora-io/catalog-relay/modules/catalog/infrastructure/persistence"
	"github.com/remora-io/catalog-relay/modules/catalog/services"
	"github.com/remora-io/catalog-relay/pkg/configuration"
	"github.com/remora-io/catalog-relay/pkg/mq"
	"github.com/remora-io/catalog-relay/pkg/retry"
)

//go:embed infrastructure/persistence/schema/catalog-schema.sql
var MigrationFiles embed.FS

type ModuleOptions struct {
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Transport mq.Transport
	Broker    configuration.BrokerOptions
	Sync      configuration.SyncOptions
	Logger    *logrus.Entry

	// Repo and Cache override the pgx and redis backends. When both are
	// set, Pool and Redis may be nil and no schema is applied.
	Repo  product.Repository
	Cache product.CacheRepository
}

func NewModule(opts *ModuleOptions) *Module {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	repo := opts.Repo
	if repo == nil {
		repo = persistence.NewProductRepository(opts.Pool)
	}
	cache := opts.Cache
	if cache == nil {
		cache = persistence.NewSnapshotCache(opts.Redis)
	}
	publisher := mq.NewEventPublisher(opts.Transport, opts.Broker.EventsExchange, mq.PublisherOptions{})
	subscriber := mq.NewEventSubscriber(opts.Transport, opts.Broker.EventsExchange, mq.SubscriberOptions{
		Logger: logger,
	})

	catalogService := services.NewCatalogService(services.CatalogServiceConfig{
		Repo:      repo,
		Publisher: publisher,
		Logger:    logger,
	})
	syncService := services.NewCacheSyncService(services.CacheSyncServiceConfig{
		Repo:       repo,
		Cache:      cache,
		Subscriber: subscriber,
		Interval:   opts.Sync.Interval,
		WarmupRetry: retry.Policy{
			BaseDelay:   opts.Sync.BaseDelay,
			MaxDelay:    opts.Sync.MaxDelay,
			MaxAttempts: opts.Sync.MaxAttempts,
		},
		Logger: logger,
	})

	server := mq.NewServer(opts.Transport, opts.Broker.RPCQueue, mq.ServerOptions{Logger: logger})
	catalogService.RegisterRPC(server)

	return &Module{
		pool:    opts.Pool,
		server:  server,
		catalog: catalogService,
		sync:    syncService,
	}
}

// Module bundles the catalog's RPC surface and cache synchronizer
// behind a single lifecycle.
type Module struct {
	pool    *pgxpool.Pool
	server  *mq.Server
	catalog *services.CatalogService
	sync    *services.CacheSyncService
}

func (m *Module) Name() string {
	return "catalog"
}

func (m *Module) CatalogService() *services.CatalogService {
	return m.catalog
}

func (m *Module) SyncService() *services.CacheSyncService {
	return m.sync
}

// EnsureSchema applies the embedded schema. Statements are idempotent,
// so running it on every boot is safe. A module wired without a database
// pool has nothing to apply.
func (m *Module) EnsureSchema(ctx context.Context) error {
	if m.pool == nil {
		return nil
	}
	schema, err := MigrationFiles.ReadFile("infrastructure/persistence/schema/catalog-schema.sql")
	if err != nil {
		return errors.Wrap(err, "read catalog schema")
	}
	if _, err := m.pool.Exec(ctx, string(schema)); err != nil {
		return errors.Wrap(err, "apply catalog schema")
	}
	return nil
}

// Run applies the schema, kicks off the cache synchronizer and starts
// serving RPC requests in the background. It returns once both are
// consuming; the passed context governs their lifetime.
func (m *Module) Run(ctx context.Context) error {
	if err := m.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := m.sync.Start(ctx); err != nil {
		return errors.Wrap(err, "start cache synchronizer")
	}
	if err := m.server.Start(ctx); err != nil {
		return errors.Wrap(err, "start rpc server")
	}
	return nil
}
