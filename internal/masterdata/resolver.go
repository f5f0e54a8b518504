package masterdata

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/plantops/plantstore/internal/shared"
)

// Resolver expands ids on document views into display references.
type Resolver struct {
	lookup Lookup
}

// NewResolver builds a resolver over the lookup port. A nil lookup yields id-only refs.
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Items resolves the distinct item ids concurrently. Unknown ids resolve to
// id-only refs.
func (r *Resolver) Items(ctx context.Context, ids []int64) (map[int64]ItemRef, error) {
	out := make(map[int64]ItemRef, len(ids))
	if r == nil || r.lookup == nil {
		for _, id := range ids {
			out[id] = ItemRef{ID: id}
		}
		return out, nil
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		id := id
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		g.Go(func() error {
			ref := ItemRef{ID: id}
			item, err := r.lookup.LookupItem(gctx, id)
			switch {
			case err == nil:
				ref = item.Ref()
			case !errors.Is(err, shared.ErrNotFound):
				return err
			}
			mu.Lock()
			out[id] = ref
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Department resolves a department reference.
func (r *Resolver) Department(ctx context.Context, id int64) (DepartmentRef, error) {
	if r == nil || r.lookup == nil || id == 0 {
		return DepartmentRef{ID: id}, nil
	}
	dept, err := r.lookup.LookupDepartment(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return DepartmentRef{ID: id}, nil
		}
		return DepartmentRef{}, err
	}
	return dept.Ref(), nil
}

// Vendor resolves a vendor reference.
func (r *Resolver) Vendor(ctx context.Context, id int64) (VendorRef, error) {
	if r == nil || r.lookup == nil || id == 0 {
		return VendorRef{ID: id}, nil
	}
	vendor, err := r.lookup.LookupVendor(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return VendorRef{ID: id}, nil
		}
		return VendorRef{}, err
	}
	return vendor.Ref(), nil
}
