package order

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/orderkeeper/internal/domain/fault"
)

// ErrEmptyItems is returned for an order without lines.
var ErrEmptyItems = fault.Invalid("items", "at least one item required")

// MaxQuantity is the largest quantity a single line may carry; the stored
// column is a 32-bit integer.
const MaxQuantity = math.MaxInt32

// priceScale is the number of decimal places stored for a price snapshot.
const priceScale = 2

// LineRequest is a requested order line.
type LineRequest struct {
	ItemID   string
	Quantity int
}

// CreateOrderRequest holds the input for creating an order.
type CreateOrderRequest struct {
	UserID          string
	RecipientName   string
	ShippingAddress string
	Items           []LineRequest
}

// CreateOrderResult holds a persisted order, its lines and the charged total.
type CreateOrderResult struct {
	Order Order
	Items []Item
	Total decimal.Decimal
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the publisher notified after an order commits.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithTracerProvider sets the tracer provider used for service spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("orderkeeper/order") }
}

// WithMeterProvider sets the meter provider used for service metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter("orderkeeper/order") }
}

// Service encapsulates order creation.
type Service struct {
	catalog   PriceCatalog
	orders    Repository
	publisher Publisher
	tracer    trace.Tracer
	meter     metric.Meter

	created metric.Int64Counter
	amount  metric.Float64Histogram
}

// NewService creates an order Service.
func NewService(catalog PriceCatalog, orders Repository, opts ...Option) *Service {
	s := &Service{
		catalog: catalog,
		orders:  orders,
		tracer:  tracenoop.NewTracerProvider().Tracer("orderkeeper/order"),
		meter:   metricnoop.NewMeterProvider().Meter("orderkeeper/order"),
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	if s.created, err = s.meter.Int64Counter("orders.created",
		metric.WithDescription("Number of orders created"),
	); err != nil {
		s.created = metricnoop.Int64Counter{}
	}
	if s.amount, err = s.meter.Float64Histogram("orders.total",
		metric.WithDescription("Charged order totals"),
	); err != nil {
		s.amount = metricnoop.Float64Histogram{}
	}
	return s
}

// CreateOrder validates req, snapshots current catalog prices into the order
// lines, persists the order with its lines in one transaction and returns
// the charged total.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (_ *CreateOrderResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder",
		trace.WithAttributes(attribute.Int("order.lines", len(req.Items))),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if err := validate(req); err != nil {
		return nil, err
	}

	prices, err := s.catalog.GetPrices(ctx, distinctItemIDs(req.Items))
	if err != nil {
		return nil, fault.Storage("lookup prices", err)
	}

	// Unknown items are priced at zero rather than rejected. Snapshots are
	// rounded to the stored scale so the returned total matches what a later
	// read or archival run computes from the stored rows.
	items := make([]Item, len(req.Items))
	for i, line := range req.Items {
		price, ok := prices[line.ItemID]
		if !ok {
			price = decimal.Zero
		}
		if price.IsNegative() {
			return nil, fault.StorageFor("lookup prices", "item "+line.ItemID,
				errors.Errorf("negative catalog price %s", price))
		}
		price = price.Round(priceScale)
		items[i] = Item{
			ItemID:          line.ItemID,
			Quantity:        line.Quantity,
			PriceAtPurchase: price,
		}
	}

	o := Order{
		UserID:          req.UserID,
		RecipientName:   req.RecipientName,
		ShippingAddress: req.ShippingAddress,
	}
	err = s.orders.InTx(ctx, func(ctx context.Context, w Writer) error {
		if err := w.InsertOrder(ctx, &o); err != nil {
			return fault.StorageFor("insert order", "user "+o.UserID, err)
		}
		for i := range items {
			items[i].OrderID = o.ID
		}
		if err := w.InsertItems(ctx, items); err != nil {
			return fault.StorageFor("insert order items", "order "+strconv.FormatInt(o.ID, 10), err)
		}
		return nil
	})
	if err != nil {
		return nil, fault.Storage("commit order", err)
	}

	res := &CreateOrderResult{
		Order: o,
		Items: items,
		Total: Total(items),
	}

	span.SetAttributes(attribute.Int64("order.id", o.ID))
	s.created.Add(ctx, 1)
	s.amount.Record(ctx, res.Total.InexactFloat64())

	if s.publisher != nil {
		if err := s.publisher.OrderCreated(ctx, res); err != nil {
			zctx.From(ctx).Warn("Publish order created",
				zap.Int64("order_id", o.ID),
				zap.Error(err),
			)
		}
	}

	return res, nil
}

// Get returns a stored order, its lines and the total recomputed from the
// stored price snapshots.
func (s *Service) Get(ctx context.Context, id int64) (*CreateOrderResult, error) {
	o, items, err := s.orders.Get(ctx, id)
	if err != nil {
		var nf *fault.NotFoundError
		if errors.As(err, &nf) {
			return nil, err
		}
		return nil, fault.StorageFor("get order", "order "+strconv.FormatInt(id, 10), err)
	}
	return &CreateOrderResult{Order: *o, Items: items, Total: Total(items)}, nil
}

func validate(req CreateOrderRequest) error {
	switch {
	case strings.TrimSpace(req.UserID) == "":
		return fault.Invalid("user_id", "required")
	case strings.TrimSpace(req.RecipientName) == "":
		return fault.Invalid("recipient_name", "required")
	case strings.TrimSpace(req.ShippingAddress) == "":
		return fault.Invalid("shipping_address", "required")
	case len(req.Items) == 0:
		return ErrEmptyItems
	}
	for i, line := range req.Items {
		if strings.TrimSpace(line.ItemID) == "" {
			return fault.Invalid("items["+strconv.Itoa(i)+"].item_id", "required")
		}
		if line.Quantity <= 0 {
			return fault.Invalid("items["+strconv.Itoa(i)+"].quantity", "must be greater than 0")
		}
		if line.Quantity > MaxQuantity {
			return fault.Invalid("items["+strconv.Itoa(i)+"].quantity", "must not exceed "+strconv.Itoa(MaxQuantity))
		}
	}
	return nil
}

func distinctItemIDs(lines []LineRequest) []string {
	seen := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.ItemID]; ok {
			continue
		}
		seen[l.ItemID] = struct{}{}
		ids = append(ids, l.ItemID)
	}
	return ids
}
