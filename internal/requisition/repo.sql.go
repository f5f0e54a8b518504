package requisition

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/plantops/plantstore/internal/platform/db"
	"github.com/plantops/plantstore/internal/shared"
	"github.com/plantops/plantstore/internal/stock"
)

// Repository provides PostgreSQL persistence for requisitions.
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

const headerColumns = `id, number, department_id, requested_by, required_by_date, remarks, status,
hod_decided_by, hod_action_at, plant_head_decided_by, plant_head_action_at, decision_remarks, created_at, updated_at`

func scanHeader(row pgx.Row) (Requisition, error) {
	var req Requisition
	var status string
	err := row.Scan(&req.ID, &req.Number, &req.DepartmentID, &req.RequestedBy, &req.RequiredByDate, &req.Remarks, &status,
		&req.HODDecidedBy, &req.HODActionAt, &req.PlantHeadDecidedBy, &req.PlantHeadActionAt, &req.DecisionRemarks, &req.CreatedAt, &req.UpdatedAt)
	req.Status = Status(status)
	return req, err
}

func notFound(id int64, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("requisition %d: %w", id, shared.ErrNotFound)
	}
	return err
}

func loadLines(ctx context.Context, q querier, ids []int64) (map[int64][]Line, error) {
	out := make(map[int64][]Line, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `SELECT id, requisition_id, item_id, quantity, purpose
FROM requisition_lines WHERE requisition_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.RequisitionID, &l.ItemID, &l.Quantity, &l.Purpose); err != nil {
			return nil, err
		}
		out[l.RequisitionID] = append(out[l.RequisitionID], l)
	}
	return out, rows.Err()
}

func getRequisition(ctx context.Context, q querier, id int64, lock bool) (Requisition, error) {
	sql := `SELECT ` + headerColumns + ` FROM requisitions WHERE id=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	req, err := scanHeader(q.QueryRow(ctx, sql, id))
	if err != nil {
		return Requisition{}, notFound(id, err)
	}
	lines, err := loadLines(ctx, q, []int64{id})
	if err != nil {
		return Requisition{}, err
	}
	req.Lines = lines[id]
	return req, nil
}

// Get returns requisition header and lines.
func (r *Repository) Get(ctx context.Context, id int64) (Requisition, error) {
	return getRequisition(ctx, r.pool, id, false)
}

// List returns all requisitions ordered by id.
func (r *Repository) List(ctx context.Context) ([]Requisition, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+headerColumns+` FROM requisitions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Requisition{}
	var ids []int64
	for rows.Next() {
		req, err := scanHeader(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
		ids = append(ids, req.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	lines, err := loadLines(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

func (t *txRepo) Ledger() *stock.Ledger {
	return t.ledger
}

func (t *txRepo) Create(ctx context.Context, req Requisition) (Requisition, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO requisitions (number, department_id, requested_by, required_by_date, remarks, status)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at, updated_at`,
		req.Number, req.DepartmentID, req.RequestedBy, req.RequiredByDate, req.Remarks, string(req.Status)).
		Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return Requisition{}, err
	}
	for i := range req.Lines {
		line := &req.Lines[i]
		line.RequisitionID = req.ID
		if err := t.tx.QueryRow(ctx, `INSERT INTO requisition_lines (requisition_id, item_id, quantity, purpose)
VALUES ($1,$2,$3,$4) RETURNING id`, req.ID, line.ItemID, line.Quantity, line.Purpose).Scan(&line.ID); err != nil {
			return Requisition{}, shared.AtLine(err, i+1, 0)
		}
	}
	return req, nil
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (Requisition, error) {
	return getRequisition(ctx, t.tx, id, true)
}

func (t *txRepo) UpdateDecision(ctx context.Context, req Requisition) error {
	_, err := t.tx.Exec(ctx, `UPDATE requisitions SET status=$2, hod_decided_by=$3, hod_action_at=$4,
plant_head_decided_by=$5, plant_head_action_at=$6, decision_remarks=$7, updated_at=NOW() WHERE id=$1`,
		req.ID, string(req.Status), req.HODDecidedBy, req.HODActionAt, req.PlantHeadDecidedBy, req.PlantHeadActionAt, req.DecisionRemarks)
	return err
}
