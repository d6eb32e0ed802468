package product

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrProductNotFound = errors.New("Product not found")
	ErrEmptyName       = errors.New("empty product name")
	ErrNegativePrice   = errors.New("negative product price")
)

// Routing keys for product lifecycle events, one per transition.
const (
	EventCreated = "product.created"
	EventUpdated = "product.updated"
	EventDeleted = "product.deleted"
)

// Repository is the System of Record for products. Implementations must
// return ErrProductNotFound for missing ids.
type Repository interface {
	GetByID(ctx context.Context, id string) (Product, error)
	// GetMany resolves a batch of ids in one query. The result follows
	// the store's own order and silently omits unknown ids.
	GetMany(ctx context.Context, ids []string) ([]Product, error)
	GetAll(ctx context.Context) ([]Product, error)
	Count(ctx context.Context) (int64, error)
	Create(ctx context.Context, p Product) (Product, error)
	Update(ctx context.Context, p Product) (Product, error)
	Delete(ctx context.Context, id string) error
}

// CacheRepository is the persistent snapshot cache read alongside the
// System of Record. Writes are whole-value replacements; Put discards
// snapshots whose Version is older than the one already cached, so an
// out-of-order event cannot regress an entry.
type CacheRepository interface {
	Get(ctx context.Context, id string) (Snapshot, error)
	GetAll(ctx context.Context) ([]Snapshot, error)
	Put(ctx context.Context, snap Snapshot) error
	Delete(ctx context.Context, id string) error
	// ReplaceAll atomically swaps the full cache contents and records
	// the sync timestamp.
	ReplaceAll(ctx context.Context, snaps []Snapshot) error
	LastSyncedAt(ctx context.Context) (time.Time, error)
}

// ErrCacheMiss marks a key absent from the cache. Not a failure by itself.
var ErrCacheMiss = errors.New("cache miss")

type Product interface {
	ID() string
	SKU() string
	Name() string
	PriceCents() int64
	// Version grows monotonically with every mutation.
	Version() int64
	CreatedAt() time.Time
	UpdatedAt() time.Time

	// Updated returns a copy with the new name and price, a bumped
	// version and a fresh UpdatedAt.
	Updated(name string, priceCents int64) Product
	Snapshot() Snapshot
}

type productImpl struct {
	id         string
	sku        string
	name       string
	priceCents int64
	version    int64
	createdAt  time.Time
	updatedAt  time.Time
}

func New(sku, name string, priceCents int64, opts ...Option) (Product, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if priceCents < 0 {
		return nil, ErrNegativePrice
	}
	now := time.Now()
	p := &productImpl{
		id:         uuid.NewString(),
		sku:        sku,
		name:       name,
		priceCents: priceCents,
		version:    1,
		createdAt:  now,
		updatedAt:  now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type Option func(*productImpl)

func WithID(id string) Option {
	return func(p *productImpl) {
		if id != "" {
			p.id = id
		}
	}
}

func WithVersion(version int64) Option {
	return func(p *productImpl) {
		if version > 0 {
			p.version = version
		}
	}
}

func WithTimestamps(createdAt, updatedAt time.Time) Option {
	return func(p *productImpl) {
		p.createdAt = createdAt
		p.updatedAt = updatedAt
	}
}

func (p *productImpl) ID() string           { return p.id }
func (p *productImpl) SKU() string          { return p.sku }
func (p *productImpl) Name() string         { return p.name }
func (p *productImpl) PriceCents() int64    { return p.priceCents }
func (p *productImpl) Version() int64       { return p.version }
func (p *productImpl) CreatedAt() time.Time { return p.createdAt }
func (p *productImpl) UpdatedAt() time.Time { return p.updatedAt }

func (p *productImpl) Updated(name string, priceCents int64) Product {
	out := *p
	out.name = name
	out.priceCents = priceCents
	out.version = p.version + 1
	out.updatedAt = time.Now()
	return &out
}

// Snapshot is the full current state of a product as carried by lifecycle
// events, RPC replies and cache entries.
type Snapshot struct {
	ID         string    `json:"id" msgpack:"id"`
	SKU        string    `json:"sku" msgpack:"sku"`
	Name       string    `json:"name" msgpack:"name"`
	PriceCents int64     `json:"priceCents" msgpack:"priceCents"`
	Version    int64     `json:"version" msgpack:"version"`
	CreatedAt  time.Time `json:"createdAt" msgpack:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt" msgpack:"updatedAt"`
}

func (p *productImpl) Snapshot() Snapshot {
	return Snapshot{
		ID:         p.id,
		SKU:        p.sku,
		Name:       p.name,
		PriceCents: p.priceCents,
		Version:    p.version,
		CreatedAt:  p.createdAt,
		UpdatedAt:  p.updatedAt,
	}
}

// FromSnapshot rehydrates a Product from its wire representation.
func FromSnapshot(s Snapshot) (Product, error) {
	return New(
		s.SKU, s.Name, s.PriceCents,
		WithID(s.ID),
		WithVersion(s.Version),
		WithTimestamps(s.CreatedAt, s.UpdatedAt),
	)
}
