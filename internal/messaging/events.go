package messaging

import (
	"strconv"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderkeeper/internal/domain/archive"
	"github.com/xenking/orderkeeper/internal/domain/order"
)

// Event types, also sent as the "event-type" header.
const (
	EventOrderCreated   = "order.created"
	EventOrdersArchived = "orders.archived"
)

func money(e *jx.Encoder, d decimal.Decimal) {
	e.RawStr(d.StringFixed(2))
}

func encodeOrderCreated(e *jx.Encoder, res *order.CreateOrderResult) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str(EventOrderCreated) })
		e.Field("order_id", func(e *jx.Encoder) { e.Int64(res.Order.ID) })
		e.Field("user_id", func(e *jx.Encoder) { e.Str(res.Order.UserID) })
		e.Field("created_at", func(e *jx.Encoder) { e.Str(res.Order.CreatedAt.UTC().Format(time.RFC3339Nano)) })
		e.Field("total", func(e *jx.Encoder) { money(e, res.Total) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range res.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("item_id", func(e *jx.Encoder) { e.Str(it.ItemID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("price_at_purchase", func(e *jx.Encoder) { money(e, it.PriceAtPurchase) })
					})
				}
			})
		})
	})
}

func encodeOrdersArchived(e *jx.Encoder, res *archive.Result) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str(EventOrdersArchived) })
		e.Field("run_id", func(e *jx.Encoder) { e.Str(res.RunID) })
		e.Field("cutoff", func(e *jx.Encoder) { e.Str(res.Cutoff.UTC().Format(time.RFC3339Nano)) })
		e.Field("bucketing", func(e *jx.Encoder) { e.Str(string(res.Bucketing)) })
		e.Field("archived_orders", func(e *jx.Encoder) { e.Int(res.ArchivedOrders) })
		e.Field("archived_items", func(e *jx.Encoder) { e.Int(res.ArchivedItems) })
		e.Field("total", func(e *jx.Encoder) { money(e, res.Total) })
		e.Field("buckets", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, wt := range res.Totals {
					e.Obj(func(e *jx.Encoder) {
						e.Field("week", func(e *jx.Encoder) { e.Str(wt.Week.Format(time.DateOnly)) })
						e.Field("total", func(e *jx.Encoder) { money(e, wt.Total) })
						e.Field("order_count", func(e *jx.Encoder) { e.Int(wt.OrderCount) })
					})
				}
			})
		})
	})
}

func orderKey(id int64) []byte {
	return strconv.AppendInt(nil, id, 10)
}
