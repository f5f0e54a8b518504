package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/plantops/plantstore/internal/jobs"
)

// Alert reasons.
const (
	ReasonReorderLevel = "reorder_level"
	ReasonMinStock     = "min_stock"
)

// StockPosition is an active item with its thresholds and current stock.
type StockPosition struct {
	ItemID       int64
	Code         string
	OnHand       decimal.Decimal
	Reserved     decimal.Decimal
	ReorderLevel decimal.Decimal
	MinStock     decimal.Decimal
}

// Available is on-hand stock not held by reservations.
func (p StockPosition) Available() decimal.Decimal {
	return p.OnHand.Sub(p.Reserved)
}

// ReorderAlert is raised for a position below its thresholds.
type ReorderAlert struct {
	ItemID       int64
	Code         string
	Reason       string
	OnHand       decimal.Decimal
	Available    decimal.Decimal
	ReorderLevel decimal.Decimal
	MinStock     decimal.Decimal
	RaisedAt     time.Time
}

// Evaluate returns the alert for p, if any. A zero reorder level disables the
// reorder rule; min stock is checked against on-hand.
func Evaluate(p StockPosition, at time.Time) (ReorderAlert, bool) {
	reason := ""
	switch {
	case p.ReorderLevel.IsPositive() && p.Available().LessThanOrEqual(p.ReorderLevel):
		reason = ReasonReorderLevel
	case p.OnHand.LessThan(p.MinStock):
		reason = ReasonMinStock
	default:
		return ReorderAlert{}, false
	}
	return ReorderAlert{
		ItemID:       p.ItemID,
		Code:         p.Code,
		Reason:       reason,
		OnHand:       p.OnHand,
		Available:    p.Available(),
		ReorderLevel: p.ReorderLevel,
		MinStock:     p.MinStock,
		RaisedAt:     at,
	}, true
}

// ReorderStore reads stock positions and persists alerts.
type ReorderStore interface {
	Positions(ctx context.Context, itemIDs []int64) ([]StockPosition, error)
	// InsertAlert stores a and reports false when the same position was already alerted.
	InsertAlert(ctx context.Context, a ReorderAlert) (bool, error)
}

// ReorderRepository is the PostgreSQL ReorderStore.
type ReorderRepository struct {
	pool *pgxpool.Pool
}

// NewReorderRepository constructs the repository.
func NewReorderRepository(pool *pgxpool.Pool) *ReorderRepository {
	return &ReorderRepository{pool: pool}
}

// Positions returns active items joined with their stock, all items when itemIDs is empty.
func (r *ReorderRepository) Positions(ctx context.Context, itemIDs []int64) ([]StockPosition, error) {
	query := `SELECT i.id, i.code, COALESCE(s.on_hand, 0), COALESCE(s.reserved, 0), i.reorder_level, i.min_stock
FROM items i LEFT JOIN stock_entries s ON s.item_id = i.id
WHERE i.active`
	args := []any{}
	if len(itemIDs) > 0 {
		query += ` AND i.id = ANY($1)`
		args = append(args, itemIDs)
	}
	rows, err := r.pool.Query(ctx, query+` ORDER BY i.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockPosition
	for rows.Next() {
		var p StockPosition
		if err := rows.Scan(&p.ItemID, &p.Code, &p.OnHand, &p.Reserved, &p.ReorderLevel, &p.MinStock); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertAlert skips positions identical to the item's latest alert.
func (r *ReorderRepository) InsertAlert(ctx context.Context, a ReorderAlert) (bool, error) {
	tag, err := r.pool.Exec(ctx, `INSERT INTO reorder_alerts (item_id, on_hand, available, reorder_level, min_stock, raised_at)
SELECT $1, $2, $3, $4, $5, $6
WHERE NOT EXISTS (
    SELECT 1 FROM (
        SELECT on_hand, available FROM reorder_alerts WHERE item_id = $1 ORDER BY raised_at DESC, id DESC LIMIT 1
    ) last WHERE last.on_hand = $2 AND last.available = $3
)`, a.ItemID, a.OnHand, a.Available, a.ReorderLevel, a.MinStock, a.RaisedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReorderScanJob raises reorder alerts for low stock.
type ReorderScanJob struct {
	Store   ReorderStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReorderScanJob initialises the reorder scan handler.
func NewReorderScanJob(store ReorderStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReorderScanJob {
	return &ReorderScanJob{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes a reorder check task.
func (j *ReorderScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("reorder scan: handler not configured")
	}
	var payload ReorderCheckPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload.ItemIDs)
	return err
}

// Run scans the given items, or all when empty, and returns the new alerts.
func (j *ReorderScanJob) Run(ctx context.Context, itemIDs []int64) (raised []ReorderAlert, err error) {
	tracker := j.metrics().Track(TaskReorderCheck)
	defer func() {
		err = tracker.End(err)
	}()
	if j.Store == nil {
		return nil, errors.New("reorder scan: store not configured")
	}
	logger := j.logger().With(slog.Int("items", len(itemIDs)))

	positions, err := j.Store.Positions(ctx, itemIDs)
	if err != nil {
		logger.Error("load stock positions", slog.Any("error", err))
		return nil, err
	}
	now := j.now()
	counts := map[string]int{}
	for _, p := range positions {
		alert, ok := Evaluate(p, now)
		if !ok {
			continue
		}
		inserted, err := j.Store.InsertAlert(ctx, alert)
		if err != nil {
			return raised, err
		}
		if !inserted {
			continue
		}
		logger.Warn("stock below threshold",
			slog.Int64("item_id", alert.ItemID),
			slog.String("code", alert.Code),
			slog.String("reason", alert.Reason),
			slog.String("on_hand", alert.OnHand.String()),
			slog.String("available", alert.Available.String()),
		)
		counts[alert.Reason]++
		raised = append(raised, alert)
	}
	for reason, n := range counts {
		j.metrics().AddReorderAlerts(reason, n)
	}
	logger.Debug("reorder scan complete", slog.Int("scanned", len(positions)), slog.Int("alerts", len(raised)))
	return raised, nil
}

func (j *ReorderScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReorderCheck))
	}
	return slog.Default().With(slog.String("job", TaskReorderCheck))
}

func (j *ReorderScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReorderScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
