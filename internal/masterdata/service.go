package masterdata

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/plantops/plantstore/internal/shared"
)

// ItemLookup resolves items by id.
type ItemLookup interface {
	LookupItem(ctx context.Context, id int64) (Item, error)
}

// DepartmentLookup resolves departments by id.
type DepartmentLookup interface {
	LookupDepartment(ctx context.Context, id int64) (Department, error)
}

// VendorLookup resolves vendors by id.
type VendorLookup interface {
	LookupVendor(ctx context.Context, id int64) (Vendor, error)
}

// Lookup is the read-side port document modules depend on.
type Lookup interface {
	ItemLookup
	DepartmentLookup
	VendorLookup
}

// Service coordinates master data use-cases.
type Service struct {
	repo      Repository
	cache     *Cache
	validator *shared.Validator
	logger    *slog.Logger
}

// NewService constructs the master data service.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, validator: shared.NewValidator(), logger: logger}
}

// ListDepartments returns all departments ordered by id.
func (s *Service) ListDepartments(ctx context.Context) ([]Department, error) {
	return s.repo.ListDepartments(ctx)
}

// GetDepartment fetches one department.
func (s *Service) GetDepartment(ctx context.Context, id int64) (Department, error) {
	return s.repo.GetDepartment(ctx, id)
}

// CreateDepartment validates and stores a department.
func (s *Service) CreateDepartment(ctx context.Context, in DepartmentInput) (Department, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validator.Struct(in); err != nil {
		return Department{}, err
	}
	dept, err := s.repo.CreateDepartment(ctx, Department{Code: in.Code, Name: in.Name, Active: activeOrDefault(in.Active)})
	if err != nil {
		return Department{}, err
	}
	s.invalidate(ctx)
	return dept, nil
}

// UpdateDepartment replaces department attributes.
func (s *Service) UpdateDepartment(ctx context.Context, id int64, in DepartmentInput) (Department, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validator.Struct(in); err != nil {
		return Department{}, err
	}
	dept, err := s.repo.UpdateDepartment(ctx, Department{ID: id, Code: in.Code, Name: in.Name, Active: activeOrDefault(in.Active)})
	if err != nil {
		return Department{}, err
	}
	s.invalidate(ctx)
	return dept, nil
}

// DeactivateDepartment hides the department from new documents.
func (s *Service) DeactivateDepartment(ctx context.Context, id int64) error {
	if err := s.repo.SetDepartmentActive(ctx, id, false); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// ListItems returns all items ordered by id.
func (s *Service) ListItems(ctx context.Context) ([]Item, error) {
	return s.repo.ListItems(ctx)
}

// GetItem fetches one item.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	return s.repo.GetItem(ctx, id)
}

// CreateItem validates and stores an item.
func (s *Service) CreateItem(ctx context.Context, in ItemInput) (Item, error) {
	item, err := s.itemFromInput(in)
	if err != nil {
		return Item{}, err
	}
	created, err := s.repo.CreateItem(ctx, item)
	if err != nil {
		return Item{}, err
	}
	s.invalidate(ctx)
	return created, nil
}

// UpdateItem replaces item attributes.
func (s *Service) UpdateItem(ctx context.Context, id int64, in ItemInput) (Item, error) {
	item, err := s.itemFromInput(in)
	if err != nil {
		return Item{}, err
	}
	item.ID = id
	updated, err := s.repo.UpdateItem(ctx, item)
	if err != nil {
		return Item{}, err
	}
	s.invalidate(ctx)
	return updated, nil
}

func (s *Service) itemFromInput(in ItemInput) (Item, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.Description = strings.TrimSpace(in.Description)
	in.UOM = strings.TrimSpace(in.UOM)
	if err := s.validator.Struct(in); err != nil {
		return Item{}, err
	}
	if err := shared.CheckQuantity("min_stock", in.MinStock); err != nil {
		return Item{}, err
	}
	if err := shared.CheckQuantity("reorder_level", in.ReorderLevel); err != nil {
		return Item{}, err
	}
	return Item{
		Code:         in.Code,
		Description:  in.Description,
		UOM:          in.UOM,
		MinStock:     in.MinStock,
		ReorderLevel: in.ReorderLevel,
		Active:       activeOrDefault(in.Active),
	}, nil
}

// DeactivateItem hides the item from new documents.
func (s *Service) DeactivateItem(ctx context.Context, id int64) error {
	if err := s.repo.SetItemActive(ctx, id, false); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// ListVendors returns all vendors ordered by id.
func (s *Service) ListVendors(ctx context.Context) ([]Vendor, error) {
	return s.repo.ListVendors(ctx)
}

// GetVendor fetches one vendor.
func (s *Service) GetVendor(ctx context.Context, id int64) (Vendor, error) {
	return s.repo.GetVendor(ctx, id)
}

// CreateVendor validates and stores a vendor.
func (s *Service) CreateVendor(ctx context.Context, in VendorInput) (Vendor, error) {
	vendor, err := s.vendorFromInput(in)
	if err != nil {
		return Vendor{}, err
	}
	created, err := s.repo.CreateVendor(ctx, vendor)
	if err != nil {
		return Vendor{}, err
	}
	s.invalidate(ctx)
	return created, nil
}

// UpdateVendor replaces vendor attributes.
func (s *Service) UpdateVendor(ctx context.Context, id int64, in VendorInput) (Vendor, error) {
	vendor, err := s.vendorFromInput(in)
	if err != nil {
		return Vendor{}, err
	}
	vendor.ID = id
	updated, err := s.repo.UpdateVendor(ctx, vendor)
	if err != nil {
		return Vendor{}, err
	}
	s.invalidate(ctx)
	return updated, nil
}

func (s *Service) vendorFromInput(in VendorInput) (Vendor, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	in.ContactEmail = strings.TrimSpace(in.ContactEmail)
	if err := s.validator.Struct(in); err != nil {
		return Vendor{}, err
	}
	return Vendor{
		Code:         in.Code,
		Name:         in.Name,
		GSTNumber:    strings.TrimSpace(in.GSTNumber),
		ContactEmail: in.ContactEmail,
		ContactPhone: strings.TrimSpace(in.ContactPhone),
		Active:       activeOrDefault(in.Active),
	}, nil
}

// DeactivateVendor hides the vendor from new purchase orders.
func (s *Service) DeactivateVendor(ctx context.Context, id int64) error {
	if err := s.repo.SetVendorActive(ctx, id, false); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// LookupItem returns an item through the cache.
func (s *Service) LookupItem(ctx context.Context, id int64) (Item, error) {
	var item Item
	err := s.cached(ctx, &item, func(ctx context.Context) (any, error) {
		return s.repo.GetItem(ctx, id)
	}, "item", strconv.FormatInt(id, 10))
	return item, err
}

// LookupDepartment returns a department through the cache.
func (s *Service) LookupDepartment(ctx context.Context, id int64) (Department, error) {
	var dept Department
	err := s.cached(ctx, &dept, func(ctx context.Context) (any, error) {
		return s.repo.GetDepartment(ctx, id)
	}, "department", strconv.FormatInt(id, 10))
	return dept, err
}

// LookupVendor returns a vendor through the cache.
func (s *Service) LookupVendor(ctx context.Context, id int64) (Vendor, error) {
	var vendor Vendor
	err := s.cached(ctx, &vendor, func(ctx context.Context) (any, error) {
		return s.repo.GetVendor(ctx, id)
	}, "vendor", strconv.FormatInt(id, 10))
	return vendor, err
}

func (s *Service) cached(ctx context.Context, dest any, loader func(context.Context) (any, error), parts ...string) error {
	key, err := s.cache.BuildKey(ctx, parts...)
	if err != nil {
		s.logger.Warn("masterdata cache unavailable", slog.Any("error", err))
		return decodeInto(ctx, loader, dest)
	}
	return s.cache.FetchJSON(ctx, key, dest, loader)
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("masterdata cache bump failed", slog.Any("error", err))
	}
}

// CheckItems verifies every referenced item exists and is active. The first
// offending entry is reported with its 1-based line position.
func CheckItems(ctx context.Context, lookup ItemLookup, itemIDs []int64) error {
	for i, id := range itemIDs {
		item, err := lookup.LookupItem(ctx, id)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return &shared.LineError{Err: shared.ErrValidation, Line: i + 1, ItemID: id, Detail: "unknown item"}
			}
			return err
		}
		if !item.Active {
			return &shared.LineError{Err: shared.ErrValidation, Line: i + 1, ItemID: id, Detail: "item is inactive"}
		}
	}
	return nil
}

// CheckDepartment verifies the department exists and is active.
func CheckDepartment(ctx context.Context, lookup DepartmentLookup, id int64) error {
	dept, err := lookup.LookupDepartment(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Invalid("unknown department %d", id)
		}
		return err
	}
	if !dept.Active {
		return shared.Invalid("department %d is inactive", id)
	}
	return nil
}

// CheckVendor verifies the vendor exists and is active.
func CheckVendor(ctx context.Context, lookup VendorLookup, id int64) error {
	vendor, err := lookup.LookupVendor(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Invalid("unknown vendor %d", id)
		}
		return err
	}
	if !vendor.Active {
		return shared.Invalid("vendor %d is inactive", id)
	}
	return nil
}
