package masterdata

import (
	"time"

	"github.com/shopspring/decimal"
)

// Department groups requisitioners under a head of department.
type Department struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Item is a stocked material. MinStock and ReorderLevel drive reorder alerts.
type Item struct {
	ID           int64           `json:"id"`
	Code         string          `json:"code"`
	Description  string          `json:"description"`
	UOM          string          `json:"uom"`
	MinStock     decimal.Decimal `json:"min_stock"`
	ReorderLevel decimal.Decimal `json:"reorder_level"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Vendor supplies purchase orders.
type Vendor struct {
	ID           int64     `json:"id"`
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	GSTNumber    string    `json:"gst_number"`
	ContactEmail string    `json:"contact_email"`
	ContactPhone string    `json:"contact_phone"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ItemRef is the resolved item reference embedded in document views.
type ItemRef struct {
	ID          int64  `json:"id"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
	UOM         string `json:"uom,omitempty"`
}

// DepartmentRef is the resolved department reference.
type DepartmentRef struct {
	ID   int64  `json:"id"`
	Code string `json:"code,omitempty"`
	Name string `json:"name,omitempty"`
}

// VendorRef is the resolved vendor reference.
type VendorRef struct {
	ID   int64  `json:"id"`
	Code string `json:"code,omitempty"`
	Name string `json:"name,omitempty"`
}

// Ref projects the item to its reference form.
func (i Item) Ref() ItemRef {
	return ItemRef{ID: i.ID, Code: i.Code, Description: i.Description, UOM: i.UOM}
}

// Ref projects the department to its reference form.
func (d Department) Ref() DepartmentRef {
	return DepartmentRef{ID: d.ID, Code: d.Code, Name: d.Name}
}

// Ref projects the vendor to its reference form.
func (v Vendor) Ref() VendorRef {
	return VendorRef{ID: v.ID, Code: v.Code, Name: v.Name}
}

// DepartmentInput is the create/update payload for departments.
type DepartmentInput struct {
	Code   string `json:"code" validate:"required,max=32"`
	Name   string `json:"name" validate:"required,max=150"`
	Active *bool  `json:"active"`
}

// ItemInput is the create/update payload for items.
type ItemInput struct {
	Code         string          `json:"code" validate:"required,max=50"`
	Description  string          `json:"description" validate:"required,max=255"`
	UOM          string          `json:"uom" validate:"required,max=20"`
	MinStock     decimal.Decimal `json:"min_stock" validate:"gte=0"`
	ReorderLevel decimal.Decimal `json:"reorder_level" validate:"gte=0"`
	Active       *bool           `json:"active"`
}

// VendorInput is the create/update payload for vendors.
type VendorInput struct {
	Code         string `json:"code" validate:"required,max=50"`
	Name         string `json:"name" validate:"required,max=200"`
	GSTNumber    string `json:"gst_number" validate:"max=30"`
	ContactEmail string `json:"contact_email" validate:"omitempty,email,max=150"`
	ContactPhone string `json:"contact_phone" validate:"max=50"`
	Active       *bool  `json:"active"`
}

func activeOrDefault(v *bool) bool {
	if v == nil {
		return true
	}
	return *v
}
