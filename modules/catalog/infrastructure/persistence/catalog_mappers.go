package persistence

import (
	"time"

	"github.com/remora-io/catalog-relay/modules/catalog/domain/entities/product"
	"github.com/remora-io/catalog-relay/modules/catalog/infrastructure/persistence/models"
)

func ToDomainProduct(m models.Product) (product.Product, error) {
	return product.New(
		m.SKU, m.Name, m.PriceCents,
		product.WithID(m.ID),
		product.WithVersion(m.Version),
		product.WithTimestamps(m.CreatedAt, m.UpdatedAt),
	)
}

func ToDBProduct(p product.Product) models.Product {
	return models.Product{
		ID:         p.ID(),
		SKU:        p.SKU(),
		Name:       p.Name(),
		PriceCents: p.PriceCents(),
		Version:    p.Version(),
		CreatedAt:  p.CreatedAt(),
		UpdatedAt:  p.UpdatedAt(),
	}
}

func ToCacheEntry(s product.Snapshot, syncedAt time.Time) models.CacheEntry {
	return models.CacheEntry{
		ID:           s.ID,
		SKU:          s.SKU,
		Name:         s.Name,
		PriceCents:   s.PriceCents,
		Version:      s.Version,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		LastSyncedAt: syncedAt,
	}
}

func ToSnapshot(e models.CacheEntry) product.Snapshot {
	return product.Snapshot{
		ID:         e.ID,
		SKU:        e.SKU,
		Name:       e.Name,
		PriceCents: e.PriceCents,
		Version:    e.Version,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}
