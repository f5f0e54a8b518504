package procurement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/plantops/plantstore/internal/platform/db"
	"github.com/plantops/plantstore/internal/shared"
	"github.com/plantops/plantstore/internal/stock"
)

// Repository provides PostgreSQL persistence for the procurement chain.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	tx     pgx.Tx
	ledger *stock.Ledger
}

// WithTx wraps callback in a READ COMMITTED transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, ledger: stock.NewLedger(stock.NewTxStore(tx))})
	})
}

func notFound(kind string, id int64, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", kind, id, shared.ErrNotFound)
	}
	return err
}

func sumBy(ctx context.Context, q querier, sql string, ids []int64) (map[int64]decimal.Decimal, error) {
	out := make(map[int64]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, sql, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var qty decimal.Decimal
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		out[id] = qty
	}
	return out, rows.Err()
}

const (
	orderedSQL = `SELECT pr_line_id, COALESCE(SUM(quantity), 0) FROM po_lines
WHERE pr_line_id = ANY($1) GROUP BY pr_line_id`
	receivedSQL = `SELECT po_line_id, COALESCE(SUM(received_quantity), 0) FROM grn_lines
WHERE po_line_id = ANY($1) GROUP BY po_line_id`
)

// Purchase requisitions

const prColumns = `id, number, requisition_id, department_id, requested_by, remarks, status, created_at`

func scanPR(row pgx.Row) (PurchaseRequisition, error) {
	var pr PurchaseRequisition
	var status string
	err := row.Scan(&pr.ID, &pr.Number, &pr.RequisitionID, &pr.DepartmentID, &pr.RequestedBy, &pr.Remarks, &status, &pr.CreatedAt)
	pr.Status = PRStatus(status)
	return pr, err
}

func loadPRLines(ctx context.Context, q querier, ids []int64, lock bool) (map[int64][]PRLine, error) {
	out := make(map[int64][]PRLine, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	sql := `SELECT id, pr_id, item_id, quantity, purpose FROM pr_lines WHERE pr_id = ANY($1) ORDER BY id`
	if lock {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l PRLine
		if err := rows.Scan(&l.ID, &l.PRID, &l.ItemID, &l.Quantity, &l.Purpose); err != nil {
			return nil, err
		}
		out[l.PRID] = append(out[l.PRID], l)
	}
	return out, rows.Err()
}

func getPR(ctx context.Context, q querier, id int64, lock bool) (PurchaseRequisition, error) {
	pr, err := scanPR(q.QueryRow(ctx, `SELECT `+prColumns+` FROM purchase_requisitions WHERE id=$1`, id))
	if err != nil {
		return PurchaseRequisition{}, notFound("purchase requisition", id, err)
	}
	lines, err := loadPRLines(ctx, q, []int64{id}, lock)
	if err != nil {
		return PurchaseRequisition{}, err
	}
	pr.Lines = lines[id]
	return pr, nil
}

// GetPR returns a purchase requisition with lines.
func (r *Repository) GetPR(ctx context.Context, id int64) (PurchaseRequisition, error) {
	return getPR(ctx, r.pool, id, false)
}

// ListPRs returns purchase requisitions ordered by id.
func (r *Repository) ListPRs(ctx context.Context) ([]PurchaseRequisition, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+prColumns+` FROM purchase_requisitions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []PurchaseRequisition{}
	var ids []int64
	for rows.Next() {
		pr, err := scanPR(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
		ids = append(ids, pr.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	lines, err := loadPRLines(ctx, r.pool, ids, false)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

// Purchase orders

const poColumns = `id, number, pr_id, vendor_id, COALESCE(department_id, 0), created_by, order_date,
expected_delivery_date, remarks, status, total_amount, created_at`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var status string
	err := row.Scan(&po.ID, &po.Number, &po.PRID, &po.VendorID, &po.DepartmentID, &po.CreatedBy, &po.OrderDate,
		&po.ExpectedDeliveryDate, &po.Remarks, &status, &po.TotalAmount, &po.CreatedAt)
	po.Status = POStatus(status)
	return po, err
}

func loadPOLines(ctx context.Context, q querier, ids []int64, lock bool) (map[int64][]POLine, error) {
	out := make(map[int64][]POLine, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	sql := `SELECT id, po_id, pr_line_id, item_id, quantity, unit_price, total_amount FROM po_lines WHERE po_id = ANY($1) ORDER BY id`
	if lock {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l POLine
		if err := rows.Scan(&l.ID, &l.POID, &l.PRLineID, &l.ItemID, &l.Quantity, &l.UnitPrice, &l.TotalAmount); err != nil {
			return nil, err
		}
		out[l.POID] = append(out[l.POID], l)
	}
	return out, rows.Err()
}

func getPO(ctx context.Context, q querier, id int64, lock bool) (PurchaseOrder, error) {
	sql := `SELECT ` + poColumns + ` FROM purchase_orders WHERE id=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	po, err := scanPO(q.QueryRow(ctx, sql, id))
	if err != nil {
		return PurchaseOrder{}, notFound("purchase order", id, err)
	}
	lines, err := loadPOLines(ctx, q, []int64{id}, lock)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Lines = lines[id]
	return po, nil
}

// GetPO returns a purchase order with lines.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return getPO(ctx, r.pool, id, false)
}

// ListPOs returns purchase orders ordered by id.
func (r *Repository) ListPOs(ctx context.Context) ([]PurchaseOrder, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+poColumns+` FROM purchase_orders ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []PurchaseOrder{}
	var ids []int64
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, po)
		ids = append(ids, po.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	lines, err := loadPOLines(ctx, r.pool, ids, false)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

// ReceivedQuantities sums received quantity per PO line.
func (r *Repository) ReceivedQuantities(ctx context.Context, poLineIDs []int64) (map[int64]decimal.Decimal, error) {
	return sumBy(ctx, r.pool, receivedSQL, poLineIDs)
}

// Goods receipts

const grnColumns = `id, number, po_id, vendor_id, received_by, receipt_date, remarks, status, created_at`

func scanGRN(row pgx.Row) (GoodsReceipt, error) {
	var g GoodsReceipt
	var status string
	err := row.Scan(&g.ID, &g.Number, &g.POID, &g.VendorID, &g.ReceivedBy, &g.ReceiptDate, &g.Remarks, &status, &g.CreatedAt)
	g.Status = GRNStatus(status)
	return g, err
}

func loadGRNLines(ctx context.Context, q querier, ids []int64) (map[int64][]GRNLine, error) {
	out := make(map[int64][]GRNLine, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `SELECT id, grn_id, po_line_id, item_id, ordered_quantity, received_quantity
FROM grn_lines WHERE grn_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l GRNLine
		if err := rows.Scan(&l.ID, &l.GRNID, &l.POLineID, &l.ItemID, &l.OrderedQuantity, &l.ReceivedQuantity); err != nil {
			return nil, err
		}
		out[l.GRNID] = append(out[l.GRNID], l)
	}
	return out, rows.Err()
}

// GetGRN returns a goods receipt with lines.
func (r *Repository) GetGRN(ctx context.Context, id int64) (GoodsReceipt, error) {
	g, err := scanGRN(r.pool.QueryRow(ctx, `SELECT `+grnColumns+` FROM goods_receipts WHERE id=$1`, id))
	if err != nil {
		return GoodsReceipt{}, notFound("goods receipt", id, err)
	}
	lines, err := loadGRNLines(ctx, r.pool, []int64{id})
	if err != nil {
		return GoodsReceipt{}, err
	}
	g.Lines = lines[id]
	return g, nil
}

// ListGRNs returns goods receipts ordered by id.
func (r *Repository) ListGRNs(ctx context.Context) ([]GoodsReceipt, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+grnColumns+` FROM goods_receipts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []GoodsReceipt{}
	var ids []int64
	for rows.Next() {
		g, err := scanGRN(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
		ids = append(ids, g.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	lines, err := loadGRNLines(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

// Transactional operations

func (t *txRepo) Ledger() *stock.Ledger {
	return t.ledger
}

func (t *txRepo) CreatePR(ctx context.Context, pr PurchaseRequisition) (PurchaseRequisition, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_requisitions (number, requisition_id, department_id, requested_by, remarks, status)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at`,
		pr.Number, pr.RequisitionID, pr.DepartmentID, pr.RequestedBy, pr.Remarks, string(pr.Status)).Scan(&pr.ID, &pr.CreatedAt)
	if err != nil {
		return PurchaseRequisition{}, err
	}
	for i := range pr.Lines {
		line := &pr.Lines[i]
		line.PRID = pr.ID
		if err := t.tx.QueryRow(ctx, `INSERT INTO pr_lines (pr_id, item_id, quantity, purpose) VALUES ($1,$2,$3,$4) RETURNING id`,
			pr.ID, line.ItemID, line.Quantity, line.Purpose).Scan(&line.ID); err != nil {
			return PurchaseRequisition{}, shared.AtLine(err, i+1, 0)
		}
	}
	return pr, nil
}

func (t *txRepo) GetPRForUpdate(ctx context.Context, id int64) (PurchaseRequisition, error) {
	return getPR(ctx, t.tx, id, true)
}

func (t *txRepo) OrderedQuantities(ctx context.Context, prLineIDs []int64) (map[int64]decimal.Decimal, error) {
	return sumBy(ctx, t.tx, orderedSQL, prLineIDs)
}

func (t *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	var dept *int64
	if po.DepartmentID > 0 {
		dept = &po.DepartmentID
	}
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, pr_id, vendor_id, department_id, created_by, order_date,
expected_delivery_date, remarks, status, total_amount)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id, created_at`,
		po.Number, po.PRID, po.VendorID, dept, po.CreatedBy, po.OrderDate,
		po.ExpectedDeliveryDate, po.Remarks, string(po.Status), po.TotalAmount).Scan(&po.ID, &po.CreatedAt)
	if err != nil {
		return PurchaseOrder{}, err
	}
	for i := range po.Lines {
		line := &po.Lines[i]
		line.POID = po.ID
		if err := t.tx.QueryRow(ctx, `INSERT INTO po_lines (po_id, pr_line_id, item_id, quantity, unit_price, total_amount)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
			po.ID, line.PRLineID, line.ItemID, line.Quantity, line.UnitPrice, line.TotalAmount).Scan(&line.ID); err != nil {
			return PurchaseOrder{}, shared.AtLine(err, i+1, line.PRLineID)
		}
	}
	return po, nil
}

func (t *txRepo) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	return getPO(ctx, t.tx, id, true)
}

func (t *txRepo) ReceivedQuantities(ctx context.Context, poLineIDs []int64) (map[int64]decimal.Decimal, error) {
	return sumBy(ctx, t.tx, receivedSQL, poLineIDs)
}

func (t *txRepo) CreateGRN(ctx context.Context, g GoodsReceipt) (GoodsReceipt, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO goods_receipts (number, po_id, vendor_id, received_by, receipt_date, remarks, status)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at`,
		g.Number, g.POID, g.VendorID, g.ReceivedBy, g.ReceiptDate, g.Remarks, string(g.Status)).Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		return GoodsReceipt{}, err
	}
	for i := range g.Lines {
		line := &g.Lines[i]
		line.GRNID = g.ID
		if err := t.tx.QueryRow(ctx, `INSERT INTO grn_lines (grn_id, po_line_id, item_id, ordered_quantity, received_quantity)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
			g.ID, line.POLineID, line.ItemID, line.OrderedQuantity, line.ReceivedQuantity).Scan(&line.ID); err != nil {
			return GoodsReceipt{}, shared.AtLine(err, i+1, line.POLineID)
		}
	}
	return g, nil
}

func (t *txRepo) UpdatePOStatus(ctx context.Context, id int64, status POStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2 WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("purchase order %d: %w", id, shared.ErrNotFound)
	}
	return nil
}
