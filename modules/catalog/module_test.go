package catalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remora-io/catalog-relay/modules/catalog"
	"github.com/remora-io/catalog-relay/modules/catalog/domain/entities/product"
	"github.com/remora-io/catalog-relay/modules/catalog/infrastructure/persistence"
	"github.com/remora-io/catalog-relay/modules/catalog/services"
	"github.com/remora-io/catalog-relay/pkg/configuration"
	"github.com/remora-io/catalog-relay/pkg/mq"
)

func TestModule_RunReturnsWithBothComponentsLive(t *testing.T) {
	t.Parallel()

	transport := mq.NewMemoryTransport()
	t.Cleanup(func() { _ = transport.Close() })

	repo := persistence.NewInmemProductRepository()
	p, err := product.New("SKU-1", "Anvil", 1999, product.WithID("p1"))
	require.NoError(t, err)
	_, err = repo.Create(context.Background(), p)
	require.NoError(t, err)

	m := catalog.NewModule(&catalog.ModuleOptions{
		Transport: transport,
		Repo:      repo,
		Cache:     persistence.NewInmemSnapshotCache(),
		Broker: configuration.BrokerOptions{
			RPCQueue:       "catalog.rpc",
			EventsExchange: "catalog.events",
			RPCTimeout:     time.Second,
		},
		Sync: configuration.SyncOptions{
			Interval:    time.Hour,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			MaxAttempts: 1,
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run must return once the server and synchronizer are consuming")
	}

	// The synchronizer went through warm-up in the background.
	require.Eventually(t, func() bool {
		return m.SyncService().State() == services.StateWarm
	}, time.Second, time.Millisecond)

	// The RPC server is answering on its queue.
	client := mq.NewClient(transport, mq.ClientOptions{Timeout: time.Second})
	t.Cleanup(client.Close)
	var snap product.Snapshot
	require.NoError(t, client.Call(ctx, "catalog.rpc", "getProduct", "p1", &snap))
	assert.Equal(t, "Anvil", snap.Name)
}
