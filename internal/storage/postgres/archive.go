package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/orderkeeper/internal/domain/archive"
	"github.com/xenking/orderkeeper/internal/domain/order"
)

// archiveLockKey identifies the archival advisory lock across all processes
// sharing the database.
const archiveLockKey int64 = 0x6f72646172636876

const (
	tryArchiveLockSQL = `SELECT pg_try_advisory_xact_lock($1)`

	// Rows are locked so a concurrent writer cannot change an order between
	// aggregation and deletion.
	ordersCreatedBeforeSQL = `SELECT id, user_id, recipient_name, shipping_address, created_at
		FROM orders WHERE created_at < $1
		ORDER BY id
		FOR UPDATE`

	addWeeklyTotalSQL = `INSERT INTO weekly_order_totals (bucketing, week, total_amount, order_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (bucketing, week) DO UPDATE SET
			total_amount = weekly_order_totals.total_amount + EXCLUDED.total_amount,
			order_count  = weekly_order_totals.order_count + EXCLUDED.order_count,
			updated_at   = now()`

	insertArchiveRunSQL = `INSERT INTO archive_runs
		(id, cutoff, bucketing, archived_orders, archived_items, total_amount)
		VALUES ($1, $2, $3, $4, $5, $6)`

	deleteOrderItemsSQL = `DELETE FROM order_items WHERE order_id = ANY($1)`
	deleteOrdersSQL     = `DELETE FROM orders WHERE id = ANY($1)`

	listWeeklyTotalsSQL = `SELECT bucketing, week, total_amount, order_count
		FROM weekly_order_totals ORDER BY bucketing, week`
)

var _ archive.Store = (*ArchiveRepository)(nil)

// ArchiveRepository implements archive.Store backed by PostgreSQL.
type ArchiveRepository struct {
	pool *pgxpool.Pool
}

// NewArchiveRepository returns an ArchiveRepository that uses the given pool.
func NewArchiveRepository(pool *pgxpool.Pool) *ArchiveRepository {
	return &ArchiveRepository{pool: pool}
}

// InTx runs fn with an archive.Tx bound to a single transaction.
func (r *ArchiveRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx archive.Tx) error) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &archiveTx{tx: tx})
	})
}

// WeeklyTotals returns every stored bucket ordered by granularity, then
// start date.
func (r *ArchiveRepository) WeeklyTotals(ctx context.Context) ([]archive.WeeklyTotal, error) {
	rows, err := r.pool.Query(ctx, listWeeklyTotalsSQL)
	if err != nil {
		return nil, wrapErr("list weekly totals", err)
	}
	totals, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.WeeklyTotal, error) {
		var (
			wt        archive.WeeklyTotal
			bucketing string
		)
		err := row.Scan(&bucketing, &wt.Week, &wt.Total, &wt.OrderCount)
		wt.Bucketing = archive.Bucketing(bucketing)
		wt.Week = wt.Week.UTC()
		return wt, err
	})
	if err != nil {
		return nil, wrapErr("list weekly totals", err)
	}
	return totals, nil
}

type archiveTx struct {
	tx pgx.Tx
}

func (t *archiveTx) AcquireLock(ctx context.Context) (bool, error) {
	var ok bool
	if err := t.tx.QueryRow(ctx, tryArchiveLockSQL, archiveLockKey).Scan(&ok); err != nil {
		return false, wrapErr("acquire archival lock", err)
	}
	return ok, nil
}

func (t *archiveTx) OrdersCreatedBefore(ctx context.Context, cutoff time.Time) ([]order.Order, error) {
	rows, err := t.tx.Query(ctx, ordersCreatedBeforeSQL, cutoff)
	if err != nil {
		return nil, wrapErr("select orders", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, wrapErr("select orders", err)
	}
	return orders, nil
}

func (t *archiveTx) ItemsForOrders(ctx context.Context, orderIDs []int64) ([]order.Item, error) {
	return queryItems(ctx, t.tx, orderIDs)
}

func (t *archiveTx) AddWeeklyTotals(ctx context.Context, totals []archive.WeeklyTotal) error {
	if len(totals) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, wt := range totals {
		b.Queue(addWeeklyTotalSQL, string(wt.Bucketing), wt.Week, wt.Total, wt.OrderCount)
	}
	return wrapErr("add weekly totals", t.tx.SendBatch(ctx, b).Close())
}

func (t *archiveTx) RecordRun(ctx context.Context, res *archive.Result) error {
	id, err := uuid.Parse(res.RunID)
	if err != nil {
		return wrapErr("parse run id", err)
	}
	_, err = t.tx.Exec(ctx, insertArchiveRunSQL,
		pgtype.UUID{Bytes: id, Valid: true},
		res.Cutoff,
		string(res.Bucketing),
		res.ArchivedOrders,
		res.ArchivedItems,
		res.Total,
	)
	return wrapErr("insert archive run", err)
}

func (t *archiveTx) DeleteItems(ctx context.Context, orderIDs []int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, deleteOrderItemsSQL, orderIDs)
	if err != nil {
		return 0, wrapErr("delete order items", err)
	}
	return tag.RowsAffected(), nil
}

func (t *archiveTx) DeleteOrders(ctx context.Context, orderIDs []int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, deleteOrdersSQL, orderIDs)
	if err != nil {
		return 0, wrapErr("delete orders", err)
	}
	return tag.RowsAffected(), nil
}
