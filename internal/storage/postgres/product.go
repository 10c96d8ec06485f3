package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderkeeper/internal/domain/order"
	"github.com/xenking/orderkeeper/internal/domain/product"
)

const (
	getProductsByIDsSQL = `SELECT id, name, price FROM items WHERE id = ANY($1)`

	upsertProductSQL = `INSERT INTO items (id, name, price) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price`
)

var (
	_ product.Repository = (*ProductRepository)(nil)
	_ order.PriceCatalog = (*ProductRepository)(nil)
)

// ProductRepository implements product.Repository backed by the items table.
// It also serves as the local price catalog for order creation.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, wrapErr("get products by ids", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, wrapErr("get products by ids", err)
	}
	return products, nil
}

// GetPrices returns the current price of every known id in ids.
func (r *ProductRepository) GetPrices(ctx context.Context, ids []string) (map[string]decimal.Decimal, error) {
	products, err := r.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return product.Prices(products), nil
}

// Upsert inserts p or replaces the stored name and price.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	if _, err := r.pool.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price); err != nil {
		return wrapErr("upsert product "+p.ID, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price)
	return p, err
}
