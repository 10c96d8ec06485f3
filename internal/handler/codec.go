package handler

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderkeeper/internal/domain/archive"
	"github.com/xenking/orderkeeper/internal/domain/order"
	"github.com/xenking/orderkeeper/internal/domain/product"
)

// createOrderBody is the decoded /create_order payload. HasItems is false
// when "items" is absent or not an array.
type createOrderBody struct {
	order.CreateOrderRequest
	HasItems bool
}

func (b createOrderBody) complete() bool {
	return b.UserID != "" && b.RecipientName != "" && b.ShippingAddress != "" && b.HasItems
}

func decodeCreateOrder(data []byte) (createOrderBody, error) {
	var b createOrderBody
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "user_id":
			return decodeOptString(d, &b.UserID)
		case "recipient_name":
			return decodeOptString(d, &b.RecipientName)
		case "shipping_address":
			return decodeOptString(d, &b.ShippingAddress)
		case "items":
			if d.Next() != jx.Array {
				return d.Skip()
			}
			b.HasItems = true
			b.Items = []order.LineRequest{}
			return d.Arr(func(d *jx.Decoder) error {
				line, err := decodeLine(d)
				if err != nil {
					return errors.Wrapf(err, "items[%d]", len(b.Items))
				}
				b.Items = append(b.Items, line)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	return b, err
}

func decodeLine(d *jx.Decoder) (order.LineRequest, error) {
	var line order.LineRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "item_id":
			switch d.Next() {
			case jx.Number:
				n, err := d.Num()
				if err != nil {
					return err
				}
				line.ItemID = n.String()
				return nil
			default:
				return decodeOptString(d, &line.ItemID)
			}
		case "quantity":
			if d.Next() == jx.Null {
				return d.Null()
			}
			n, err := d.Int()
			if err != nil {
				return errors.Wrap(err, "quantity")
			}
			line.Quantity = n
			return nil
		default:
			return d.Skip()
		}
	})
	return line, err
}

// decodeOptString reads a string, treating null as empty.
func decodeOptString(d *jx.Decoder, dst *string) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	v, err := d.Str()
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func encodeMoney(e *jx.Encoder, v decimal.Decimal) {
	e.RawStr(v.StringFixed(2))
}

func encodeOrderResult(e *jx.Encoder, res *order.CreateOrderResult) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("order", func(e *jx.Encoder) {
			o := res.Order
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Int64(o.ID) })
				e.Field("user_id", func(e *jx.Encoder) { e.Str(o.UserID) })
				e.Field("recipient_name", func(e *jx.Encoder) { e.Str(o.RecipientName) })
				e.Field("shipping_address", func(e *jx.Encoder) { e.Str(o.ShippingAddress) })
				e.Field("created_at", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano)) })
			})
		})
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range res.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Int64(it.ID) })
						e.Field("order_id", func(e *jx.Encoder) { e.Int64(it.OrderID) })
						e.Field("item_id", func(e *jx.Encoder) { e.Str(it.ItemID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("price_at_purchase", func(e *jx.Encoder) { encodeMoney(e, it.PriceAtPurchase) })
					})
				}
			})
		})
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, res.Total) })
	})
}

func encodeCleanup(e *jx.Encoder, message string, res *archive.Result) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
		e.Field("archived", func(e *jx.Encoder) { e.Int(res.ArchivedOrders) })
		if res.RunID == "" {
			return
		}
		e.Field("run_id", func(e *jx.Encoder) { e.Str(res.RunID) })
		e.Field("cutoff", func(e *jx.Encoder) { e.Str(res.Cutoff.Format(time.RFC3339Nano)) })
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, res.Total) })
		e.Field("buckets", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, wt := range res.Totals {
					e.Obj(func(e *jx.Encoder) {
						e.Field("week", func(e *jx.Encoder) { e.Str(wt.Week.Format(time.DateOnly)) })
						e.Field("total", func(e *jx.Encoder) { encodeMoney(e, wt.Total) })
						e.Field("order_count", func(e *jx.Encoder) { e.Int(wt.OrderCount) })
					})
				}
			})
		})
	})
}

func encodeProducts(e *jx.Encoder, products []product.Product) {
	e.Arr(func(e *jx.Encoder) {
		for _, p := range products {
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
				e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
				e.Field("price", func(e *jx.Encoder) { encodeMoney(e, p.Price) })
			})
		}
	})
}
