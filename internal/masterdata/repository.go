package masterdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/plantops/plantstore/internal/platform/db"
	"github.com/plantops/plantstore/internal/shared"
)

// Repository persists master data.
type Repository interface {
	ListDepartments(ctx context.Context) ([]Department, error)
	GetDepartment(ctx context.Context, id int64) (Department, error)
	CreateDepartment(ctx context.Context, d Department) (Department, error)
	UpdateDepartment(ctx context.Context, d Department) (Department, error)
	SetDepartmentActive(ctx context.Context, id int64, active bool) error

	ListItems(ctx context.Context) ([]Item, error)
	GetItem(ctx context.Context, id int64) (Item, error)
	CreateItem(ctx context.Context, item Item) (Item, error)
	UpdateItem(ctx context.Context, item Item) (Item, error)
	SetItemActive(ctx context.Context, id int64, active bool) error

	ListVendors(ctx context.Context) ([]Vendor, error)
	GetVendor(ctx context.Context, id int64) (Vendor, error)
	CreateVendor(ctx context.Context, v Vendor) (Vendor, error)
	UpdateVendor(ctx context.Context, v Vendor) (Vendor, error)
	SetVendorActive(ctx context.Context, id int64, active bool) error
}

type repo struct {
	pool *pgxpool.Pool
}

// NewRepository returns the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repo{pool: pool}
}

const (
	departmentColumns = `id, code, name, active, created_at, updated_at`
	itemColumns       = `id, code, description, uom, min_stock, reorder_level, active, created_at, updated_at`
	vendorColumns     = `id, code, name, gst_number, contact_email, contact_phone, active, created_at, updated_at`
)

func scanDepartment(row pgx.Row) (Department, error) {
	var d Department
	err := row.Scan(&d.ID, &d.Code, &d.Name, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func scanItem(row pgx.Row) (Item, error) {
	var i Item
	err := row.Scan(&i.ID, &i.Code, &i.Description, &i.UOM, &i.MinStock, &i.ReorderLevel, &i.Active, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

func scanVendor(row pgx.Row) (Vendor, error) {
	var v Vendor
	err := row.Scan(&v.ID, &v.Code, &v.Name, &v.GSTNumber, &v.ContactEmail, &v.ContactPhone, &v.Active, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

func notFound(kind string, id int64, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("masterdata: %s %d: %w", kind, id, shared.ErrNotFound)
	}
	return db.Classify(err)
}

func (r *repo) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+departmentColumns+` FROM departments ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Department{}
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *repo) GetDepartment(ctx context.Context, id int64) (Department, error) {
	d, err := scanDepartment(r.pool.QueryRow(ctx, `SELECT `+departmentColumns+` FROM departments WHERE id=$1`, id))
	if err != nil {
		return Department{}, notFound("department", id, err)
	}
	return d, nil
}

func (r *repo) CreateDepartment(ctx context.Context, d Department) (Department, error) {
	created, err := scanDepartment(r.pool.QueryRow(ctx, `INSERT INTO departments (code, name, active)
VALUES ($1,$2,$3) RETURNING `+departmentColumns, d.Code, d.Name, d.Active))
	return created, db.Classify(err)
}

func (r *repo) UpdateDepartment(ctx context.Context, d Department) (Department, error) {
	updated, err := scanDepartment(r.pool.QueryRow(ctx, `UPDATE departments SET code=$2, name=$3, active=$4, updated_at=NOW()
WHERE id=$1 RETURNING `+departmentColumns, d.ID, d.Code, d.Name, d.Active))
	if err != nil {
		return Department{}, notFound("department", d.ID, err)
	}
	return updated, nil
}

func (r *repo) SetDepartmentActive(ctx context.Context, id int64, active bool) error {
	return r.setActive(ctx, "departments", "department", id, active)
}

func (r *repo) ListItems(ctx context.Context) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Item{}
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (r *repo) GetItem(ctx context.Context, id int64) (Item, error) {
	i, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1`, id))
	if err != nil {
		return Item{}, notFound("item", id, err)
	}
	return i, nil
}

func (r *repo) CreateItem(ctx context.Context, item Item) (Item, error) {
	created, err := scanItem(r.pool.QueryRow(ctx, `INSERT INTO items (code, description, uom, min_stock, reorder_level, active)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+itemColumns, item.Code, item.Description, item.UOM, item.MinStock, item.ReorderLevel, item.Active))
	return created, db.Classify(err)
}

func (r *repo) UpdateItem(ctx context.Context, item Item) (Item, error) {
	updated, err := scanItem(r.pool.QueryRow(ctx, `UPDATE items SET code=$2, description=$3, uom=$4, min_stock=$5, reorder_level=$6, active=$7, updated_at=NOW()
WHERE id=$1 RETURNING `+itemColumns, item.ID, item.Code, item.Description, item.UOM, item.MinStock, item.ReorderLevel, item.Active))
	if err != nil {
		return Item{}, notFound("item", item.ID, err)
	}
	return updated, nil
}

func (r *repo) SetItemActive(ctx context.Context, id int64, active bool) error {
	return r.setActive(ctx, "items", "item", id, active)
}

func (r *repo) ListVendors(ctx context.Context) ([]Vendor, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+vendorColumns+` FROM vendors ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Vendor{}
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *repo) GetVendor(ctx context.Context, id int64) (Vendor, error) {
	v, err := scanVendor(r.pool.QueryRow(ctx, `SELECT `+vendorColumns+` FROM vendors WHERE id=$1`, id))
	if err != nil {
		return Vendor{}, notFound("vendor", id, err)
	}
	return v, nil
}

func (r *repo) CreateVendor(ctx context.Context, v Vendor) (Vendor, error) {
	created, err := scanVendor(r.pool.QueryRow(ctx, `INSERT INTO vendors (code, name, gst_number, contact_email, contact_phone, active)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+vendorColumns, v.Code, v.Name, v.GSTNumber, v.ContactEmail, v.ContactPhone, v.Active))
	return created, db.Classify(err)
}

func (r *repo) UpdateVendor(ctx context.Context, v Vendor) (Vendor, error) {
	updated, err := scanVendor(r.pool.QueryRow(ctx, `UPDATE vendors SET code=$2, name=$3, gst_number=$4, contact_email=$5, contact_phone=$6, active=$7, updated_at=NOW()
WHERE id=$1 RETURNING `+vendorColumns, v.ID, v.Code, v.Name, v.GSTNumber, v.ContactEmail, v.ContactPhone, v.Active))
	if err != nil {
		return Vendor{}, notFound("vendor", v.ID, err)
	}
	return updated, nil
}

func (r *repo) SetVendorActive(ctx context.Context, id int64, active bool) error {
	return r.setActive(ctx, "vendors", "vendor", id, active)
}

func (r *repo) setActive(ctx context.Context, table, kind string, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE `+table+` SET active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("masterdata: %s %d: %w", kind, id, shared.ErrNotFound)
	}
	return nil
}
