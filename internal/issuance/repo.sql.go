package issuance

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/plantops/plantstore/internal/platform/db"
	"github.com/plantops/plantstore/internal/requisition"
	"github.com/plantops/plantstore/internal/shared"
	"github.com/plantops/plantstore/internal/stock"
)

// Repository provides PostgreSQL persistence for issues and returns.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs repository.
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

func issuedQuantities(ctx context.Context, q querier, ids []int64) (map[int64]decimal.Decimal, error) {
	out := make(map[int64]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `SELECT requisition_line_id, COALESCE(SUM(issued_quantity), 0) FROM issue_lines
WHERE requisition_line_id = ANY($1) GROUP BY requisition_line_id`, ids)
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

// Issues

const issueColumns = `id, number, requisition_id, department_id, issued_by, issue_date, remarks, status, created_at`

func scanIssue(row pgx.Row) (StoreIssue, error) {
	var is StoreIssue
	var status string
	err := row.Scan(&is.ID, &is.Number, &is.RequisitionID, &is.DepartmentID, &is.IssuedBy, &is.IssueDate, &is.Remarks, &status, &is.CreatedAt)
	is.Status = IssueStatus(status)
	return is, err
}

func loadIssueLines(ctx context.Context, q querier, ids []int64) (map[int64][]IssueLine, error) {
	out := make(map[int64][]IssueLine, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `SELECT id, issue_id, requisition_line_id, item_id, requested_quantity, issued_quantity
FROM issue_lines WHERE issue_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l IssueLine
		if err := rows.Scan(&l.ID, &l.IssueID, &l.RequisitionLineID, &l.ItemID, &l.RequestedQuantity, &l.IssuedQuantity); err != nil {
			return nil, err
		}
		out[l.IssueID] = append(out[l.IssueID], l)
	}
	return out, rows.Err()
}

func (r *Repository) listIssues(ctx context.Context, where string, args ...any) ([]StoreIssue, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+issueColumns+` FROM store_issues `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []StoreIssue{}
	var ids []int64
	for rows.Next() {
		is, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, is)
		ids = append(ids, is.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	lines, err := loadIssueLines(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

// GetIssue returns a store issue with lines.
func (r *Repository) GetIssue(ctx context.Context, id int64) (StoreIssue, error) {
	is, err := scanIssue(r.pool.QueryRow(ctx, `SELECT `+issueColumns+` FROM store_issues WHERE id=$1`, id))
	if err != nil {
		return StoreIssue{}, notFound("store issue", id, err)
	}
	lines, err := loadIssueLines(ctx, r.pool, []int64{id})
	if err != nil {
		return StoreIssue{}, err
	}
	is.Lines = lines[id]
	return is, nil
}

// ListIssues returns store issues ordered by id.
func (r *Repository) ListIssues(ctx context.Context) ([]StoreIssue, error) {
	return r.listIssues(ctx, "")
}

// ListIssuesByRequisition returns the issues of one requisition ordered by id.
func (r *Repository) ListIssuesByRequisition(ctx context.Context, requisitionID int64) ([]StoreIssue, error) {
	return r.listIssues(ctx, "WHERE requisition_id=$1", requisitionID)
}

// IssuedQuantities sums issued quantity per requisition line.
func (r *Repository) IssuedQuantities(ctx context.Context, requisitionLineIDs []int64) (map[int64]decimal.Decimal, error) {
	return issuedQuantities(ctx, r.pool, requisitionLineIDs)
}

// Returns

const returnColumns = `id, number, store_issue_id, department_id, returned_by, return_date, remarks, created_at`

func scanReturn(row pgx.Row) (StoreReturn, error) {
	var ret StoreReturn
	err := row.Scan(&ret.ID, &ret.Number, &ret.StoreIssueID, &ret.DepartmentID, &ret.ReturnedBy, &ret.ReturnDate, &ret.Remarks, &ret.CreatedAt)
	return ret, err
}

func loadReturnLines(ctx context.Context, q querier, ids []int64) (map[int64][]ReturnLine, error) {
	out := make(map[int64][]ReturnLine, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `SELECT id, return_id, item_id, returned_quantity, reason
FROM return_lines WHERE return_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l ReturnLine
		if err := rows.Scan(&l.ID, &l.ReturnID, &l.ItemID, &l.ReturnedQuantity, &l.Reason); err != nil {
			return nil, err
		}
		out[l.ReturnID] = append(out[l.ReturnID], l)
	}
	return out, rows.Err()
}

// GetReturn returns a store return with lines.
func (r *Repository) GetReturn(ctx context.Context, id int64) (StoreReturn, error) {
	ret, err := scanReturn(r.pool.QueryRow(ctx, `SELECT `+returnColumns+` FROM store_returns WHERE id=$1`, id))
	if err != nil {
		return StoreReturn{}, notFound("store return", id, err)
	}
	lines, err := loadReturnLines(ctx, r.pool, []int64{id})
	if err != nil {
		return StoreReturn{}, err
	}
	ret.Lines = lines[id]
	return ret, nil
}

// ListReturns returns store returns ordered by id.
func (r *Repository) ListReturns(ctx context.Context) ([]StoreReturn, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+returnColumns+` FROM store_returns ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []StoreReturn{}
	var ids []int64
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ret)
		ids = append(ids, ret.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	lines, err := loadReturnLines(ctx, r.pool, ids)
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

func (t *txRepo) GetRequisitionForUpdate(ctx context.Context, id int64) (requisition.Requisition, error) {
	var req requisition.Requisition
	var status string
	err := t.tx.QueryRow(ctx, `SELECT id, number, department_id, status FROM requisitions WHERE id=$1`, id).
		Scan(&req.ID, &req.Number, &req.DepartmentID, &status)
	if err != nil {
		return requisition.Requisition{}, notFound("requisition", id, err)
	}
	req.Status = requisition.Status(status)
	rows, err := t.tx.Query(ctx, `SELECT id, requisition_id, item_id, quantity, purpose
FROM requisition_lines WHERE requisition_id=$1 ORDER BY id FOR UPDATE`, id)
	if err != nil {
		return requisition.Requisition{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l requisition.Line
		if err := rows.Scan(&l.ID, &l.RequisitionID, &l.ItemID, &l.Quantity, &l.Purpose); err != nil {
			return requisition.Requisition{}, err
		}
		req.Lines = append(req.Lines, l)
	}
	return req, rows.Err()
}

func (t *txRepo) IssuedQuantities(ctx context.Context, requisitionLineIDs []int64) (map[int64]decimal.Decimal, error) {
	return issuedQuantities(ctx, t.tx, requisitionLineIDs)
}

func (t *txRepo) CreateIssue(ctx context.Context, is StoreIssue) (StoreIssue, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO store_issues (number, requisition_id, department_id, issued_by, issue_date, remarks, status)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at`,
		is.Number, is.RequisitionID, is.DepartmentID, is.IssuedBy, is.IssueDate, is.Remarks, string(is.Status)).Scan(&is.ID, &is.CreatedAt)
	if err != nil {
		return StoreIssue{}, err
	}
	for i := range is.Lines {
		line := &is.Lines[i]
		line.IssueID = is.ID
		if err := t.tx.QueryRow(ctx, `INSERT INTO issue_lines (issue_id, requisition_line_id, item_id, requested_quantity, issued_quantity)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
			is.ID, line.RequisitionLineID, line.ItemID, line.RequestedQuantity, line.IssuedQuantity).Scan(&line.ID); err != nil {
			return StoreIssue{}, shared.AtLine(err, 0, line.RequisitionLineID)
		}
	}
	return is, nil
}

func (t *txRepo) CreateReturn(ctx context.Context, ret StoreReturn) (StoreReturn, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO store_returns (number, store_issue_id, department_id, returned_by, return_date, remarks)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at`,
		ret.Number, ret.StoreIssueID, ret.DepartmentID, ret.ReturnedBy, ret.ReturnDate, ret.Remarks).Scan(&ret.ID, &ret.CreatedAt)
	if err != nil {
		return StoreReturn{}, err
	}
	for i := range ret.Lines {
		line := &ret.Lines[i]
		line.ReturnID = ret.ID
		if err := t.tx.QueryRow(ctx, `INSERT INTO return_lines (return_id, item_id, returned_quantity, reason)
VALUES ($1,$2,$3,$4) RETURNING id`,
			ret.ID, line.ItemID, line.ReturnedQuantity, line.Reason).Scan(&line.ID); err != nil {
			return StoreReturn{}, err
		}
	}
	return ret, nil
}
