// Package archive folds orders past their retention period into per-bucket
// totals and purges their detail rows.
package archive

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/orderkeeper/internal/domain/order"
)

// WeeklyTotal is the aggregated value of archived orders in one bucket.
// Buckets of different granularity are kept apart even when they start on
// the same date.
type WeeklyTotal struct {
	Bucketing  Bucketing
	Week       time.Time
	Total      decimal.Decimal
	OrderCount int
}

// Result describes a committed archival run.
type Result struct {
	// RunID is empty when no order was eligible.
	RunID          string
	Cutoff         time.Time
	Bucketing      Bucketing
	ArchivedOrders int
	ArchivedItems  int
	Total          decimal.Decimal
	Totals         []WeeklyTotal
}

// Tx is the set of store operations an archival run performs inside one
// transaction.
type Tx interface {
	// AcquireLock takes the cluster-wide archival lock for the lifetime of
	// the transaction. It reports false when another run holds it.
	AcquireLock(ctx context.Context) (bool, error)
	// OrdersCreatedBefore returns orders with created_at strictly before cutoff.
	OrdersCreatedBefore(ctx context.Context, cutoff time.Time) ([]order.Order, error)
	ItemsForOrders(ctx context.Context, orderIDs []int64) ([]order.Item, error)
	// AddWeeklyTotals adds each total to the stored row for its bucket,
	// creating the row when missing.
	AddWeeklyTotals(ctx context.Context, totals []WeeklyTotal) error
	RecordRun(ctx context.Context, res *Result) error
	DeleteItems(ctx context.Context, orderIDs []int64) (int64, error)
	DeleteOrders(ctx context.Context, orderIDs []int64) (int64, error)
}

// Store runs archival transactions.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Publisher announces committed archival runs. Delivery is best effort.
type Publisher interface {
	OrdersArchived(ctx context.Context, res *Result) error
}

// Aggregate sums each order's total into the bucket of its creation time.
// Totals are returned ordered by bucket.
func Aggregate(orders []order.Order, items []order.Item, b Bucketing) []WeeklyTotal {
	byOrder := make(map[int64][]order.Item, len(orders))
	for _, it := range items {
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}

	buckets := make(map[int64]*WeeklyTotal)
	for _, o := range orders {
		start := b.Start(o.CreatedAt)
		wt, ok := buckets[start.Unix()]
		if !ok {
			wt = &WeeklyTotal{Bucketing: b, Week: start, Total: decimal.Zero}
			buckets[start.Unix()] = wt
		}
		wt.Total = wt.Total.Add(order.Total(byOrder[o.ID]))
		wt.OrderCount++
	}

	out := make([]WeeklyTotal, 0, len(buckets))
	for _, wt := range buckets {
		out = append(out, *wt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Week.Before(out[j].Week) })
	return out
}
