package postgres

import (
	"context"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/orderkeeper/internal/domain/fault"
	"github.com/xenking/orderkeeper/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (user_id, recipient_name, shipping_address)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, item_id, quantity, price_at_purchase)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	getOrderSQL = `SELECT id, user_id, recipient_name, shipping_address, created_at
		FROM orders WHERE id = $1`

	getOrderItemsSQL = `SELECT id, order_id, item_id, quantity, price_at_purchase
		FROM order_items WHERE order_id = ANY($1) ORDER BY id`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// InTx runs fn with a Writer bound to a single transaction.
func (r *OrderRepository) InTx(ctx context.Context, fn func(ctx context.Context, w order.Writer) error) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &orderWriter{tx: tx})
	})
}

// Get returns the order with its items ordered by insertion.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, []order.Item, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, nil, wrapErr("get order", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, &fault.NotFoundError{Entity: "order", ID: strconv.FormatInt(id, 10)}
		}
		return nil, nil, wrapErr("get order", err)
	}

	items, err := queryItems(ctx, r.pool, []int64{id})
	if err != nil {
		return nil, nil, err
	}
	return &o, items, nil
}

type orderWriter struct {
	tx pgx.Tx
}

func (w *orderWriter) InsertOrder(ctx context.Context, o *order.Order) error {
	err := w.tx.QueryRow(ctx, insertOrderSQL, o.UserID, o.RecipientName, o.ShippingAddress).
		Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return wrapErr("insert order", err)
	}
	o.CreatedAt = o.CreatedAt.UTC()
	return nil
}

// InsertItems sends all line inserts in one batch round trip.
func (w *orderWriter) InsertItems(ctx context.Context, items []order.Item) error {
	if len(items) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for i := range items {
		it := &items[i]
		b.Queue(insertOrderItemSQL, it.OrderID, it.ItemID, it.Quantity, it.PriceAtPurchase).
			QueryRow(func(row pgx.Row) error {
				return row.Scan(&it.ID)
			})
	}
	return wrapErr("insert order items", w.tx.SendBatch(ctx, b).Close())
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryItems(ctx context.Context, q querier, orderIDs []int64) ([]order.Item, error) {
	rows, err := q.Query(ctx, getOrderItemsSQL, orderIDs)
	if err != nil {
		return nil, wrapErr("get order items", err)
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, wrapErr("get order items", err)
	}
	return items, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var o order.Order
	err := row.Scan(&o.ID, &o.UserID, &o.RecipientName, &o.ShippingAddress, &o.CreatedAt)
	o.CreatedAt = o.CreatedAt.UTC()
	return o, err
}

func scanItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(&it.ID, &it.OrderID, &it.ItemID, &it.Quantity, &it.PriceAtPurchase)
	return it, err
}
