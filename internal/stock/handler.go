package stock

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/plantops/plantstore/internal/masterdata"
	"github.com/plantops/plantstore/internal/observability"
	"github.com/plantops/plantstore/internal/platform/httpx"
)

// SnapshotView is a stock position with its resolved item.
type SnapshotView struct {
	Snapshot
	Item masterdata.ItemRef `json:"item"`
}

type availabilityRequest struct {
	ItemIDs []int64 `json:"item_ids"`
}

// Handler exposes the stock ledger over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	resolver *masterdata.Resolver
	metrics  *observability.Metrics
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, resolver *masterdata.Resolver, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, resolver: resolver, metrics: metrics}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/store/stocks", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/check-availability", h.checkAvailability)
		r.Get("/item/{itemId}", h.show)
		r.Get("/item/{itemId}/movements", h.movements)
		r.Post("/item/{itemId}/add", h.add)
		r.Post("/item/{itemId}/adjust", h.adjust)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Debug("stock request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func (h *Handler) views(ctx context.Context, snaps []Snapshot) ([]SnapshotView, error) {
	ids := make([]int64, 0, len(snaps))
	for _, s := range snaps {
		ids = append(ids, s.ItemID)
	}
	refs, err := h.resolver.Items(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]SnapshotView, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, SnapshotView{Snapshot: s, Item: refs[s.ItemID]})
	}
	return out, nil
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	views, err := h.views(r.Context(), snaps)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	itemID, err := httpx.PathID(r, "itemId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	snap, err := h.service.Get(r.Context(), itemID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	views, err := h.views(r.Context(), []Snapshot{snap})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, views[0])
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	itemID, err := httpx.PathID(r, "itemId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := h.service.Movements(r.Context(), itemID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) add(w http.ResponseWriter, r *http.Request) {
	itemID, err := httpx.PathID(r, "itemId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in AddStockInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.ItemID = itemID
	snap, err := h.service.AddStock(r.Context(), in)
	h.metrics.ObserveDocument("stock_add", err)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	itemID, err := httpx.PathID(r, "itemId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in AdjustInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.ItemID = itemID
	snap, err := h.service.Adjust(r.Context(), in)
	h.metrics.ObserveDocument("stock_adjust", err)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) checkAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	snaps, err := h.service.CheckAvailability(r.Context(), req.ItemIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	views, err := h.views(r.Context(), snaps)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, views)
}
