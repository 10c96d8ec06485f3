package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a purchase order header. ID and CreatedAt are assigned by the
// store on insert and never change afterwards.
type Order struct {
	ID              int64
	UserID          string
	RecipientName   string
	ShippingAddress string
	CreatedAt       time.Time
}

// Item is a single order line. PriceAtPurchase is the catalog price captured
// when the order was created and is never recomputed.
type Item struct {
	ID              int64
	OrderID         int64
	ItemID          string
	Quantity        int
	PriceAtPurchase decimal.Decimal
}

// Subtotal returns quantity × price_at_purchase.
func (i Item) Subtotal() decimal.Decimal {
	return i.PriceAtPurchase.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Total sums the subtotals of items. Order creation and archival both use it,
// so an order contributes the same amount in both places.
func Total(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// PriceCatalog resolves current catalog prices. Unknown ids are simply
// absent from the returned map.
type PriceCatalog interface {
	GetPrices(ctx context.Context, itemIDs []string) (map[string]decimal.Decimal, error)
}

// Writer inserts order rows inside a transaction.
type Writer interface {
	// InsertOrder stores o and fills in ID and CreatedAt.
	InsertOrder(ctx context.Context, o *Order) error
	// InsertItems stores all items and fills in their IDs.
	InsertItems(ctx context.Context, items []Item) error
}

// Repository provides persistence for orders.
type Repository interface {
	// InTx runs fn in a single transaction, committing when fn returns nil
	// and rolling back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, w Writer) error) error
	// Get returns the order with its items, or a *fault.NotFoundError.
	Get(ctx context.Context, id int64) (*Order, []Item, error)
}

// Publisher announces created orders. Delivery is best effort.
type Publisher interface {
	OrderCreated(ctx context.Context, res *CreateOrderResult) error
}
