package persistence

import (
	"context"
	"sync"

	"github.com/remora-io/catalog-relay/modules/catalog/domain/entities/product"
)

// InmemProductRepository is a map-backed Repository used in tests.
type InmemProductRepository struct {
	mu       sync.RWMutex
	products map[string]product.Product
	order    []string
}

func NewInmemProductRepository() *InmemProductRepository {
	return &InmemProductRepository{products: make(map[string]product.Product)}
}

func (r *InmemProductRepository) GetByID(_ context.Context, id string) (product.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return nil, product.ErrProductNotFound
	}
	return p, nil
}

func (r *InmemProductRepository) GetMany(_ context.Context, ids []string) ([]product.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	// Insertion order stands in for the store's own order.
	out := make([]product.Product, 0, len(ids))
	for _, id := range r.order {
		if _, ok := wanted[id]; !ok {
			continue
		}
		if p, ok := r.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *InmemProductRepository) GetAll(_ context.Context) ([]product.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]product.Product, 0, len(r.products))
	for _, id := range r.order {
		if p, ok := r.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *InmemProductRepository) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.products)), nil
}

func (r *InmemProductRepository) Create(_ context.Context, p product.Product) (product.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[p.ID()]; !ok {
		r.order = append(r.order, p.ID())
	}
	r.products[p.ID()] = p
	return p, nil
}

func (r *InmemProductRepository) Update(_ context.Context, p product.Product) (product.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[p.ID()]; !ok {
		return nil, product.ErrProductNotFound
	}
	r.products[p.ID()] = p
	return p, nil
}

func (r *InmemProductRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[id]; !ok {
		return product.ErrProductNotFound
	}
	delete(r.products, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}
