package product

import (
	"context"

	"github.com/shopspring/decimal"
)

// Product is a catalog item that can be ordered.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

// Repository defines access to the product catalog.
type Repository interface {
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	Upsert(ctx context.Context, p Product) error
}

// Prices indexes product prices by id.
func Prices(products []Product) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(products))
	for _, p := range products {
		prices[p.ID] = p.Price
	}
	return prices
}
