package models

import "time"

// Product is the row shape of the products table.
type Product struct {
	ID         string
	SKU        string
	Name       string
	PriceCents int64
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CacheEntry is the value stored per product in the snapshot cache. The
// snapshot is replaced wholesale on every write; LastSyncedAt records when
// this entry was last reconciled with the System of Record.
type CacheEntry struct {
	ID           string    `json:"id"`
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	PriceCents   int64     `json:"priceCents"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	LastSyncedAt time.Time `json:"lastSyncedAt"`
}
