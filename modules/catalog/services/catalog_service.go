package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/remora-io/catalog-relay/modules/catalog/domain/entities/product"
	"github.com/remora-io/catalog-relay/pkg/mq"
)

type CreateProductDTO struct {
	ID         string `json:"id"`
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	PriceCents int64  `json:"priceCents"`
}

type UpdateProductDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"priceCents"`
}

type CatalogServiceConfig struct {
	Repo product.Repository
	// Publisher emits lifecycle events after successful mutations. May be
	// nil, in which case mutations are silent and only periodic resync
	// propagates them to caches.
	Publisher *mq.EventPublisher
	Logger    *logrus.Entry
}

// CatalogService owns the product catalog: it answers the RPC methods
// served over the broker and publishes a lifecycle event for every
// mutation of the System of Record.
type CatalogService struct {
	repo      product.Repository
	publisher *mq.EventPublisher
	log       *logrus.Entry
}

func NewCatalogService(config CatalogServiceConfig) *CatalogService {
	if config.Logger == nil {
		config.Logger = nopLogger()
	}
	return &CatalogService{
		repo:      config.Repo,
		publisher: config.Publisher,
		log:       config.Logger,
	}
}

// RegisterRPC binds the catalog's method names to srv's dispatch table.
func (s *CatalogService) RegisterRPC(srv *mq.Server) {
	srv.HandleFunc("getProduct", func(ctx context.Context, params json.RawMessage) (any, error) {
		var id string
		if err := json.Unmarshal(params, &id); err != nil {
			return nil, fmt.Errorf("getProduct expects a product id: %w", err)
		}
		return s.GetProduct(ctx, id)
	})
	srv.HandleFunc("getProducts", func(ctx context.Context, params json.RawMessage) (any, error) {
		var ids []string
		if err := json.Unmarshal(params, &ids); err != nil {
			return nil, fmt.Errorf("getProducts expects a list of product ids: %w", err)
		}
		return s.GetProducts(ctx, ids)
	})
	srv.HandleFunc("listProducts", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return s.ListProducts(ctx)
	})
	srv.HandleFunc("countProducts", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return s.CountProducts(ctx)
	})
	srv.HandleFunc("createProduct", func(ctx context.Context, params json.RawMessage) (any, error) {
		var dto CreateProductDTO
		if err := json.Unmarshal(params, &dto); err != nil {
			return nil, fmt.Errorf("createProduct expects a product payload: %w", err)
		}
		return s.CreateProduct(ctx, dto)
	})
	srv.HandleFunc("updateProduct", func(ctx context.Context, params json.RawMessage) (any, error) {
		var dto UpdateProductDTO
		if err := json.Unmarshal(params, &dto); err != nil {
			return nil, fmt.Errorf("updateProduct expects a product payload: %w", err)
		}
		return s.UpdateProduct(ctx, dto)
	})
	srv.HandleFunc("deleteProduct", func(ctx context.Context, params json.RawMessage) (any, error) {
		var id string
		if err := json.Unmarshal(params, &id); err != nil {
			return nil, fmt.Errorf("deleteProduct expects a product id: %w", err)
		}
		if err := s.DeleteProduct(ctx, id); err != nil {
			return nil, err
		}
		return map[string]bool{"deleted": true}, nil
	})
}

func (s *CatalogService) GetProduct(ctx context.Context, id string) (product.Snapshot, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return product.Snapshot{}, err
	}
	return p.Snapshot(), nil
}

// GetProducts resolves a batch of ids in one repository query, in the
// System of Record's own order.
func (s *CatalogService) GetProducts(ctx context.Context, ids []string) ([]product.Snapshot, error) {
	products, err := s.repo.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	return toSnapshots(products), nil
}

func (s *CatalogService) CountProducts(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx)
}

func (s *CatalogService) ListProducts(ctx context.Context) ([]product.Snapshot, error) {
	products, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return toSnapshots(products), nil
}

func (s *CatalogService) CreateProduct(ctx context.Context, dto CreateProductDTO) (product.Snapshot, error) {
	p, err := product.New(dto.SKU, dto.Name, dto.PriceCents, product.WithID(dto.ID))
	if err != nil {
		return product.Snapshot{}, err
	}
	created, err := s.repo.Create(ctx, p)
	if err != nil {
		return product.Snapshot{}, err
	}
	snap := created.Snapshot()
	s.publish(ctx, product.EventCreated, snap)
	return snap, nil
}

func (s *CatalogService) UpdateProduct(ctx context.Context, dto UpdateProductDTO) (product.Snapshot, error) {
	current, err := s.repo.GetByID(ctx, dto.ID)
	if err != nil {
		return product.Snapshot{}, err
	}
	updated, err := s.repo.Update(ctx, current.Updated(dto.Name, dto.PriceCents))
	if err != nil {
		return product.Snapshot{}, err
	}
	snap := updated.Snapshot()
	s.publish(ctx, product.EventUpdated, snap)
	return snap, nil
}

func (s *CatalogService) DeleteProduct(ctx context.Context, id string) error {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, product.EventDeleted, current.Snapshot())
	return nil
}

// publish is fire-and-forget: a lost event is corrected by the next full
// resync, so a publish failure must not fail the mutation it follows.
func (s *CatalogService) publish(ctx context.Context, routingKey string, snap product.Snapshot) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, routingKey, snap); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"routing_key": routingKey,
			"product_id":  snap.ID,
		}).Warn("catalog: event publish failed, resync will reconcile")
	}
}

func toSnapshots(products []product.Product) []product.Snapshot {
	snaps := make([]product.Snapshot, 0, len(products))
	for _, p := range products {
		snaps = append(snaps, p.Snapshot())
	}
	return snaps
}

func nopLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}
