package archive

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
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

// ErrArchivalInProgress is returned when another archival run holds the lock.
var ErrArchivalInProgress = errors.New("archival already in progress")

// Option configures a Service.
type Option func(*Service)

// WithBucketing sets the bucket granularity. The default is BucketWeek.
func WithBucketing(b Bucketing) Option {
	return func(s *Service) { s.bucketing = b }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPublisher sets the publisher notified after a run commits.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithTracerProvider sets the tracer provider used for run spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("orderkeeper/archive") }
}

// WithMeterProvider sets the meter provider used for run metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter("orderkeeper/archive") }
}

// Service archives old orders.
type Service struct {
	store     Store
	bucketing Bucketing
	now       func() time.Time
	publisher Publisher
	tracer    trace.Tracer
	meter     metric.Meter

	// running guards against overlapping runs within the process; the store
	// lock covers other processes.
	running sync.Mutex

	runs     metric.Int64Counter
	archived metric.Int64Counter
	duration metric.Float64Histogram
}

// NewService creates an archival Service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		bucketing: BucketWeek,
		now:       time.Now,
		tracer:    tracenoop.NewTracerProvider().Tracer("orderkeeper/archive"),
		meter:     metricnoop.NewMeterProvider().Meter("orderkeeper/archive"),
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	if s.runs, err = s.meter.Int64Counter("archive.runs",
		metric.WithDescription("Archival runs by outcome"),
	); err != nil {
		s.runs = metricnoop.Int64Counter{}
	}
	if s.archived, err = s.meter.Int64Counter("archive.orders",
		metric.WithDescription("Orders archived and purged"),
	); err != nil {
		s.archived = metricnoop.Int64Counter{}
	}
	if s.duration, err = s.meter.Float64Histogram("archive.duration",
		metric.WithDescription("Archival run duration"),
		metric.WithUnit("s"),
	); err != nil {
		s.duration = metricnoop.Float64Histogram{}
	}
	return s
}

// ArchiveOrdersOlderThan archives every order created strictly before
// now−retention. Per-bucket totals are written before the orders and their
// items are deleted, and all writes commit in a single transaction, so a
// failed run leaves the store untouched and can simply be retried.
func (s *Service) ArchiveOrdersOlderThan(ctx context.Context, retention time.Duration) (_ *Result, rerr error) {
	if retention <= 0 {
		return nil, fault.Invalid("retention", "must be positive")
	}
	if !s.running.TryLock() {
		return nil, ErrArchivalInProgress
	}
	defer s.running.Unlock()

	start := s.now()
	res := &Result{
		Cutoff:    start.Add(-retention).UTC(),
		Bucketing: s.bucketing,
		Total:     decimal.Zero,
	}

	ctx, span := s.tracer.Start(ctx, "archive.ArchiveOrdersOlderThan",
		trace.WithAttributes(
			attribute.String("archive.cutoff", res.Cutoff.Format(time.RFC3339)),
			attribute.String("archive.bucketing", string(s.bucketing)),
		),
	)
	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(rerr, ErrArchivalInProgress):
			outcome = "skipped"
		case rerr != nil:
			outcome = "error"
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		s.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		s.duration.Record(ctx, time.Since(start).Seconds())
		span.End()
	}()

	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return s.archive(ctx, tx, res)
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrArchivalInProgress):
		return nil, err
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return nil, errors.Wrap(err, "archival cancelled")
	default:
		return nil, fault.Storage("commit archival", err)
	}

	span.SetAttributes(attribute.Int("archive.orders", res.ArchivedOrders))
	if res.ArchivedOrders == 0 {
		return res, nil
	}
	s.archived.Add(ctx, int64(res.ArchivedOrders))

	if s.publisher != nil {
		if err := s.publisher.OrdersArchived(ctx, res); err != nil {
			zctx.From(ctx).Warn("Publish orders archived",
				zap.String("run_id", res.RunID),
				zap.Error(err),
			)
		}
	}
	return res, nil
}

func (s *Service) archive(ctx context.Context, tx Tx, res *Result) error {
	ok, err := tx.AcquireLock(ctx)
	if err != nil {
		return fault.Storage("acquire archival lock", err)
	}
	if !ok {
		return ErrArchivalInProgress
	}

	orders, err := tx.OrdersCreatedBefore(ctx, res.Cutoff)
	if err != nil {
		return fault.Storage("select orders", err)
	}
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}

	items, err := tx.ItemsForOrders(ctx, ids)
	if err != nil {
		return fault.Storage("select order items", err)
	}

	res.Totals = Aggregate(orders, items, s.bucketing)
	for _, wt := range res.Totals {
		res.Total = res.Total.Add(wt.Total)
	}
	res.ArchivedOrders = len(orders)
	res.ArchivedItems = len(items)
	res.RunID = uuid.New().String()

	if err := tx.AddWeeklyTotals(ctx, res.Totals); err != nil {
		return fault.Storage("insert weekly totals", err)
	}
	if err := tx.RecordRun(ctx, res); err != nil {
		return fault.StorageFor("record archive run", "run "+res.RunID, err)
	}

	// Nothing destructive has happened yet; stop here if the caller gave up.
	if err := ctx.Err(); err != nil {
		return err
	}

	n, err := tx.DeleteItems(ctx, ids)
	if err != nil {
		return fault.Storage("delete order items", err)
	}
	if n != int64(len(items)) {
		return fault.Storage("delete order items",
			errors.Errorf("deleted %d of %d selected items", n, len(items)))
	}

	n, err = tx.DeleteOrders(ctx, ids)
	if err != nil {
		return fault.Storage("delete orders", err)
	}
	if n != int64(len(orders)) {
		return fault.Storage("delete orders",
			errors.Errorf("deleted %d of %d selected orders", n, len(orders)))
	}
	return nil
}
