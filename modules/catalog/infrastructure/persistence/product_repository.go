package persistence

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/remora-io/catalog-relay/modules/catalog/domain/entities/product"
	"github.com/remora-io/catalog-relay/modules/catalog/infrastructure/persistence/models"
)

const (
	productFindQuery = `SELECT id, sku, name, price_cents, version, created_at, updated_at FROM products`

	productInsertQuery = `
		INSERT INTO products (id, sku, name, price_cents, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	productUpdateQuery = `
		UPDATE products
		   SET sku = $2, name = $3, price_cents = $4, version = $5, updated_at = $6
		 WHERE id = $1
	`
)

// ProductRepository is the pgx-backed System of Record for products.
type ProductRepository struct {
	pool *pgxpool.Pool
}

func NewProductRepository(pool *pgxpool.Pool) product.Repository {
	return &ProductRepository{pool: pool}
}

func (r *ProductRepository) GetByID(ctx context.Context, id string) (product.Product, error) {
	products, err := r.queryProducts(ctx, productFindQuery+" WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, product.ErrProductNotFound
	}
	return products[0], nil
}

func (r *ProductRepository) GetMany(ctx context.Context, ids []string) ([]product.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryProducts(ctx, productFindQuery+" WHERE id = ANY($1) ORDER BY created_at, id", ids)
}

func (r *ProductRepository) GetAll(ctx context.Context) ([]product.Product, error) {
	return r.queryProducts(ctx, productFindQuery+" ORDER BY created_at, id")
}

func (r *ProductRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM products").Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count products")
	}
	return count, nil
}

func (r *ProductRepository) Create(ctx context.Context, p product.Product) (product.Product, error) {
	m := ToDBProduct(p)
	_, err := r.pool.Exec(
		ctx, productInsertQuery,
		m.ID, m.SKU, m.Name, m.PriceCents, m.Version, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert product")
	}
	return p, nil
}

func (r *ProductRepository) Update(ctx context.Context, p product.Product) (product.Product, error) {
	m := ToDBProduct(p)
	tag, err := r.pool.Exec(
		ctx, productUpdateQuery,
		m.ID, m.SKU, m.Name, m.PriceCents, m.Version, m.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update product")
	}
	if tag.RowsAffected() == 0 {
		return nil, product.ErrProductNotFound
	}
	return p, nil
}

func (r *ProductRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "failed to delete product")
	}
	if tag.RowsAffected() == 0 {
		return product.ErrProductNotFound
	}
	return nil
}

func (r *ProductRepository) queryProducts(ctx context.Context, query string, args ...any) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query products")
	}
	defer rows.Close()

	products := make([]product.Product, 0)
	for rows.Next() {
		var m models.Product
		if err := rows.Scan(&m.ID, &m.SKU, &m.Name, &m.PriceCents, &m.Version, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan product row")
		}
		p, err := ToDomainProduct(m)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(err, "failed to read product rows")
	}
	return products, nil
}
