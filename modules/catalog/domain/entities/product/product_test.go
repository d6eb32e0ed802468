package product_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remora-io/catalog-relay/modules/catalog/domain/entities/product"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := product.New("SKU-1", "", 100)
	require.ErrorIs(t, err, product.ErrEmptyName)

	_, err = product.New("SKU-1", "Anvil", -1)
	require.ErrorIs(t, err, product.ErrNegativePrice)

	p, err := product.New("SKU-1", "Anvil", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID(), "a generated id when none is given")
	assert.Equal(t, int64(1), p.Version())
}

func TestUpdated_BumpsVersionLeavesOriginal(t *testing.T) {
	t.Parallel()

	p, err := product.New("SKU-1", "Anvil", 500, product.WithID("p1"))
	require.NoError(t, err)

	u := p.Updated("Anvil XL", 1000)
	assert.Equal(t, "p1", u.ID())
	assert.Equal(t, "Anvil XL", u.Name())
	assert.Equal(t, int64(1000), u.PriceCents())
	assert.Equal(t, int64(2), u.Version())

	assert.Equal(t, "Anvil", p.Name(), "the original must stay untouched")
	assert.Equal(t, int64(1), p.Version())
}

func TestSnapshot_RoundTrip(t *testing.T) {
	t.Parallel()

	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p, err := product.New("SKU-1", "Anvil", 500,
		product.WithID("p1"),
		product.WithVersion(7),
		product.WithTimestamps(created, created.Add(time.Hour)),
	)
	require.NoError(t, err)

	snap := p.Snapshot()
	assert.Equal(t, "p1", snap.ID)
	assert.Equal(t, int64(7), snap.Version)

	back, err := product.FromSnapshot(snap)
	require.NoError(t, err)
	assert.Equal(t, p.ID(), back.ID())
	assert.Equal(t, p.Version(), back.Version())
	assert.Equal(t, p.UpdatedAt(), back.UpdatedAt())
}
