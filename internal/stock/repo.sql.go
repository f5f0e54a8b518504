package stock

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/plantops/plantstore/internal/platform/db"
)

// Repository provides PostgreSQL persistence for stock entries and movements.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	ledger *Ledger
}

func (t *txRepository) Ledger() *Ledger {
	return t.ledger
}

// WithTx runs fn with a ledger bound to a fresh transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{ledger: NewLedger(NewTxStore(tx))})
	})
}

const entryColumns = `item_id, on_hand, reserved, updated_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ItemID, &e.OnHand, &e.Reserved, &e.UpdatedAt)
	return e, err
}

// GetEntry returns the item position; unknown items read as zero.
func (r *Repository) GetEntry(ctx context.Context, itemID int64) (Entry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM stock_entries WHERE item_id=$1`, itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{ItemID: itemID}, nil
		}
		return Entry{}, err
	}
	return e, nil
}

// ListEntries returns every stock row ordered by item.
func (r *Repository) ListEntries(ctx context.Context) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM stock_entries ORDER BY item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EntriesFor loads the rows for the given items keyed by item id.
func (r *Repository) EntriesFor(ctx context.Context, itemIDs []int64) (map[int64]Entry, error) {
	out := make(map[int64]Entry, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM stock_entries WHERE item_id = ANY($1)`, itemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out[e.ItemID] = e
	}
	return out, rows.Err()
}

// ListMovements returns the newest movements of an item first.
func (r *Repository) ListMovements(ctx context.Context, itemID int64, limit int) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, movement_type, quantity, on_hand_after, reserved_after, ref_module, ref_id, note, created_at
FROM stock_movements WHERE item_id=$1 ORDER BY id DESC LIMIT $2`, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Movement{}
	for rows.Next() {
		var m Movement
		var kind string
		if err := rows.Scan(&m.ID, &m.ItemID, &kind, &m.Quantity, &m.OnHandAfter, &m.ReservedAfter, &m.RefModule, &m.RefID, &m.Note, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = MovementType(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}

type txStore struct {
	tx pgx.Tx
}

// NewTxStore exposes the stock tables inside another module's transaction.
func NewTxStore(tx pgx.Tx) Store {
	return &txStore{tx: tx}
}

func (s *txStore) GetEntryForUpdate(ctx context.Context, itemID int64) (Entry, error) {
	if _, err := s.tx.Exec(ctx, `INSERT INTO stock_entries (item_id) VALUES ($1) ON CONFLICT (item_id) DO NOTHING`, itemID); err != nil {
		return Entry{}, err
	}
	return scanEntry(s.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM stock_entries WHERE item_id=$1 FOR UPDATE`, itemID))
}

func (s *txStore) SaveEntry(ctx context.Context, entry Entry) error {
	_, err := s.tx.Exec(ctx, `UPDATE stock_entries SET on_hand=$2, reserved=$3, updated_at=$4 WHERE item_id=$1`,
		entry.ItemID, entry.OnHand, entry.Reserved, entry.UpdatedAt)
	return err
}

func (s *txStore) InsertMovement(ctx context.Context, m Movement) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO stock_movements (item_id, movement_type, quantity, on_hand_after, reserved_after, ref_module, ref_id, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, m.ItemID, string(m.Type), m.Quantity, m.OnHandAfter, m.ReservedAfter, m.RefModule, m.RefID, m.Note, m.CreatedAt)
	return err
}
