package masterdata

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/plantops/plantstore/internal/shared"
)

type memoryRepo struct {
	mu          sync.Mutex
	nextID      int64
	departments map[int64]Department
	items       map[int64]Item
	vendors     map[int64]Vendor
	itemGets    int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		departments: map[int64]Department{},
		items:       map[int64]Item{},
		vendors:     map[int64]Vendor{},
	}
}

func (m *memoryRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryRepo) ListDepartments(ctx context.Context) ([]Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Department, 0, len(m.departments))
	for _, d := range m.departments {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) GetDepartment(ctx context.Context, id int64) (Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.departments[id]
	if !ok {
		return Department{}, fmt.Errorf("department %d: %w", id, shared.ErrNotFound)
	}
	return d, nil
}

func (m *memoryRepo) CreateDepartment(ctx context.Context, d Department) (Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.departments {
		if existing.Code == d.Code {
			return Department{}, shared.ErrDuplicate
		}
	}
	d.ID = m.id()
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	m.departments[d.ID] = d
	return d, nil
}

func (m *memoryRepo) UpdateDepartment(ctx context.Context, d Department) (Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.departments[d.ID]
	if !ok {
		return Department{}, shared.ErrNotFound
	}
	d.CreatedAt = existing.CreatedAt
	d.UpdatedAt = time.Now()
	m.departments[d.ID] = d
	return d, nil
}

func (m *memoryRepo) SetDepartmentActive(ctx context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.departments[id]
	if !ok {
		return shared.ErrNotFound
	}
	d.Active = active
	m.departments[id] = d
	return nil
}

func (m *memoryRepo) ListItems(ctx context.Context) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Item, 0, len(m.items))
	for _, i := range m.items {
		out = append(out, i)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) GetItem(ctx context.Context, id int64) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.itemGets++
	i, ok := m.items[id]
	if !ok {
		return Item{}, fmt.Errorf("item %d: %w", id, shared.ErrNotFound)
	}
	return i, nil
}

func (m *memoryRepo) CreateItem(ctx context.Context, item Item) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.Code == item.Code {
			return Item{}, shared.ErrDuplicate
		}
	}
	item.ID = m.id()
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	m.items[item.ID] = item
	return item, nil
}

func (m *memoryRepo) UpdateItem(ctx context.Context, item Item) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.items[item.ID]
	if !ok {
		return Item{}, shared.ErrNotFound
	}
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = time.Now()
	m.items[item.ID] = item
	return item, nil
}

func (m *memoryRepo) SetItemActive(ctx context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.items[id]
	if !ok {
		return shared.ErrNotFound
	}
	i.Active = active
	m.items[id] = i
	return nil
}

func (m *memoryRepo) ListVendors(ctx context.Context) ([]Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Vendor, 0, len(m.vendors))
	for _, v := range m.vendors {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) GetVendor(ctx context.Context, id int64) (Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vendors[id]
	if !ok {
		return Vendor{}, fmt.Errorf("vendor %d: %w", id, shared.ErrNotFound)
	}
	return v, nil
}

func (m *memoryRepo) CreateVendor(ctx context.Context, v Vendor) (Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = m.id()
	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt
	m.vendors[v.ID] = v
	return v, nil
}

func (m *memoryRepo) UpdateVendor(ctx context.Context, v Vendor) (Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.vendors[v.ID]
	if !ok {
		return Vendor{}, shared.ErrNotFound
	}
	v.CreatedAt = existing.CreatedAt
	v.UpdatedAt = time.Now()
	m.vendors[v.ID] = v
	return v, nil
}

func (m *memoryRepo) SetVendorActive(ctx context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vendors[id]
	if !ok {
		return shared.ErrNotFound
	}
	v.Active = active
	m.vendors[id] = v
	return nil
}
