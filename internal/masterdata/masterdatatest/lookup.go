// Package masterdatatest provides a static master data lookup for tests.
package masterdatatest

import (
	"context"
	"fmt"

	"github.com/plantops/plantstore/internal/masterdata"
	"github.com/plantops/plantstore/internal/shared"
)

// Lookup serves master data from maps. Zero values are ready to use after
// calling the Add helpers.
type Lookup struct {
	Items       map[int64]masterdata.Item
	Departments map[int64]masterdata.Department
	Vendors     map[int64]masterdata.Vendor
}

// New returns an empty lookup.
func New() *Lookup {
	return &Lookup{
		Items:       map[int64]masterdata.Item{},
		Departments: map[int64]masterdata.Department{},
		Vendors:     map[int64]masterdata.Vendor{},
	}
}

// AddItem registers an active item.
func (l *Lookup) AddItem(id int64, code string) *Lookup {
	l.Items[id] = masterdata.Item{ID: id, Code: code, Description: code, UOM: "NOS", Active: true}
	return l
}

// AddDepartment registers an active department.
func (l *Lookup) AddDepartment(id int64, code string) *Lookup {
	l.Departments[id] = masterdata.Department{ID: id, Code: code, Name: code, Active: true}
	return l
}

// AddVendor registers an active vendor.
func (l *Lookup) AddVendor(id int64, code string) *Lookup {
	l.Vendors[id] = masterdata.Vendor{ID: id, Code: code, Name: code, Active: true}
	return l
}

func (l *Lookup) LookupItem(ctx context.Context, id int64) (masterdata.Item, error) {
	item, ok := l.Items[id]
	if !ok {
		return masterdata.Item{}, fmt.Errorf("item %d: %w", id, shared.ErrNotFound)
	}
	return item, nil
}

func (l *Lookup) LookupDepartment(ctx context.Context, id int64) (masterdata.Department, error) {
	dept, ok := l.Departments[id]
	if !ok {
		return masterdata.Department{}, fmt.Errorf("department %d: %w", id, shared.ErrNotFound)
	}
	return dept, nil
}

func (l *Lookup) LookupVendor(ctx context.Context, id int64) (masterdata.Vendor, error) {
	vendor, ok := l.Vendors[id]
	if !ok {
		return masterdata.Vendor{}, fmt.Errorf("vendor %d: %w", id, shared.ErrNotFound)
	}
	return vendor, nil
}
