package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/orderkeeper/internal/domain/archive"
	"github.com/xenking/orderkeeper/internal/domain/order"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func header(msg kafka.Message, key string) string {
	return headerCarrier{msg: &msg}.Get(key)
}

// fields decodes a flat JSON object into raw field values.
func fields(t *testing.T, data []byte) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		raw, err := d.Raw()
		out[key] = raw.String()
		return err
	})
	require.NoError(t, err)
	return out
}

func TestProducer_OrderCreated(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducer(w, "orders", nil)

	res := &order.CreateOrderResult{
		Order: order.Order{ID: 7, UserID: "u1", CreatedAt: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)},
		Items: []order.Item{{ItemID: "pen", Quantity: 2, PriceAtPurchase: decimal.RequireFromString("2.5")}},
		Total: decimal.RequireFromString("5"),
	}
	require.NoError(t, p.OrderCreated(context.Background(), res))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "7", string(msg.Key))
	assert.Equal(t, EventOrderCreated, header(msg, "event-type"))

	f := fields(t, msg.Value)
	assert.Equal(t, `"order.created"`, f["type"])
	assert.Equal(t, "7", f["order_id"])
	assert.Equal(t, "5.00", f["total"])
	assert.Equal(t, `"2024-01-01T09:00:00Z"`, f["created_at"])
	assert.JSONEq(t, `[{"item_id":"pen","quantity":2,"price_at_purchase":2.50}]`, f["items"])
}

func TestProducer_OrdersArchived(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducer(w, "orders", nil)

	res := &archive.Result{
		RunID:          "run-1",
		Cutoff:         time.Date(2024, 1, 25, 0, 0, 0, 0, time.UTC),
		Bucketing:      archive.BucketWeek,
		ArchivedOrders: 2,
		ArchivedItems:  3,
		Total:          decimal.RequireFromString("50"),
		Totals: []archive.WeeklyTotal{{
			Week:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Total:      decimal.RequireFromString("50"),
			OrderCount: 2,
		}},
	}
	require.NoError(t, p.OrdersArchived(context.Background(), res))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "run-1", string(w.msgs[0].Key))
	f := fields(t, w.msgs[0].Value)
	assert.Equal(t, `"week"`, f["bucketing"])
	assert.Equal(t, "2", f["archived_orders"])
	assert.JSONEq(t, `[{"week":"2024-01-01","total":50.00,"order_count":2}]`, f["buckets"])
}

func TestProducer_WriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("leader not available")}
	p := NewProducer(w, "orders", nil)

	err := p.OrdersArchived(context.Background(), &archive.Result{RunID: "r", Total: decimal.Zero})
	require.Error(t, err)
	assert.Contains(t, err.Error(), EventOrdersArchived)
}

func TestHeaderCarrier_SetOverwrites(t *testing.T) {
	msg := kafka.Message{}
	c := headerCarrier{msg: &msg}
	c.Set("traceparent", "a")
	c.Set("traceparent", "b")

	assert.Equal(t, []string{"traceparent"}, c.Keys())
	assert.Equal(t, "b", c.Get("traceparent"))
	assert.Empty(t, c.Get("missing"))
}

// stalledWriter blocks until the publish context ends, like a writer whose
// broker stopped answering.
type stalledWriter struct {
	deadline bool
}

func (w *stalledWriter) WriteMessages(ctx context.Context, _ ...kafka.Message) error {
	_, w.deadline = ctx.Deadline()
	<-ctx.Done()
	return ctx.Err()
}

func (w *stalledWriter) Close() error { return nil }

func TestProducer_PublishIsBounded(t *testing.T) {
	w := &stalledWriter{}
	p := NewProducer(w, "orders", nil)
	p.timeout = 20 * time.Millisecond

	start := time.Now()
	err := p.OrderCreated(context.Background(), &order.CreateOrderResult{Order: order.Order{ID: 1}})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, w.deadline, "writer must see a deadline")
	assert.Less(t, time.Since(start), time.Second)
}
