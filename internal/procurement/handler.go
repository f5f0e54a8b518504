package procurement

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/plantops/plantstore/internal/masterdata"
	"github.com/plantops/plantstore/internal/observability"
	"github.com/plantops/plantstore/internal/platform/httpx"
)

// PRView is a purchase requisition with resolved master data.
type PRView struct {
	PurchaseRequisition
	Department masterdata.DepartmentRef `json:"department"`
	Lines      []PRLineView             `json:"lines"`
}

// PRLineView is a PR line with its item.
type PRLineView struct {
	PRLine
	Item masterdata.ItemRef `json:"item"`
}

// POView is a purchase order with resolved master data.
type POView struct {
	PurchaseOrder
	Vendor     masterdata.VendorRef     `json:"vendor"`
	Department masterdata.DepartmentRef `json:"department"`
	Lines      []POLineView             `json:"lines"`
}

// POLineView is a PO line with its item.
type POLineView struct {
	POLine
	Item masterdata.ItemRef `json:"item"`
}

// GRNView is a goods receipt with resolved master data.
type GRNView struct {
	GoodsReceipt
	Vendor masterdata.VendorRef `json:"vendor"`
	Lines  []GRNLineView        `json:"lines"`
}

// GRNLineView is a GRN line with its item.
type GRNLineView struct {
	GRNLine
	Item masterdata.ItemRef `json:"item"`
}

// Handler manages procurement endpoints.
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

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/purchase-requisitions", func(r chi.Router) {
		r.Get("/", h.listPRs)
		r.Post("/", h.createPR)
		r.Get("/{id}", h.showPR)
	})
	r.Route("/purchase-orders", func(r chi.Router) {
		r.Get("/", h.listPOs)
		r.Post("/", h.createPO)
		r.Get("/{id}", h.showPO)
		r.Get("/{id}/progress", h.poProgress)
	})
	r.Route("/grns", func(r chi.Router) {
		r.Get("/", h.listGRNs)
		r.Post("/", h.createGRN)
		r.Get("/{id}", h.showGRN)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Debug("procurement request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func (h *Handler) prView(ctx context.Context, pr PurchaseRequisition) (PRView, error) {
	dept, err := h.resolver.Department(ctx, pr.DepartmentID)
	if err != nil {
		return PRView{}, err
	}
	refs, err := h.resolver.Items(ctx, pr.ItemIDs())
	if err != nil {
		return PRView{}, err
	}
	v := PRView{PurchaseRequisition: pr, Department: dept, Lines: make([]PRLineView, 0, len(pr.Lines))}
	for _, l := range pr.Lines {
		v.Lines = append(v.Lines, PRLineView{PRLine: l, Item: refs[l.ItemID]})
	}
	return v, nil
}

func (h *Handler) poView(ctx context.Context, po PurchaseOrder) (POView, error) {
	vendor, err := h.resolver.Vendor(ctx, po.VendorID)
	if err != nil {
		return POView{}, err
	}
	dept, err := h.resolver.Department(ctx, po.DepartmentID)
	if err != nil {
		return POView{}, err
	}
	refs, err := h.resolver.Items(ctx, po.ItemIDs())
	if err != nil {
		return POView{}, err
	}
	v := POView{PurchaseOrder: po, Vendor: vendor, Department: dept, Lines: make([]POLineView, 0, len(po.Lines))}
	for _, l := range po.Lines {
		v.Lines = append(v.Lines, POLineView{POLine: l, Item: refs[l.ItemID]})
	}
	return v, nil
}

func (h *Handler) grnView(ctx context.Context, g GoodsReceipt) (GRNView, error) {
	vendor, err := h.resolver.Vendor(ctx, g.VendorID)
	if err != nil {
		return GRNView{}, err
	}
	refs, err := h.resolver.Items(ctx, g.ItemIDs())
	if err != nil {
		return GRNView{}, err
	}
	v := GRNView{GoodsReceipt: g, Vendor: vendor, Lines: make([]GRNLineView, 0, len(g.Lines))}
	for _, l := range g.Lines {
		v.Lines = append(v.Lines, GRNLineView{GRNLine: l, Item: refs[l.ItemID]})
	}
	return v, nil
}

// respondViews renders each document through build and writes the list.
func respondViews[D any, V any](h *Handler, w http.ResponseWriter, r *http.Request, docs []D, build func(context.Context, D) (V, error)) {
	out := make([]V, 0, len(docs))
	for _, d := range docs {
		v, err := build(r.Context(), d)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		out = append(out, v)
	}
	httpx.JSON(w, http.StatusOK, out)
}

func respondView[D any, V any](h *Handler, w http.ResponseWriter, r *http.Request, status int, doc D, build func(context.Context, D) (V, error)) {
	v, err := build(r.Context(), doc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, status, v)
}

func (h *Handler) listPRs(w http.ResponseWriter, r *http.Request) {
	prs, err := h.service.ListPRs(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondViews(h, w, r, prs, h.prView)
}

func (h *Handler) showPR(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pr, err := h.service.GetPR(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondView(h, w, r, http.StatusOK, pr, h.prView)
}

func (h *Handler) createPR(w http.ResponseWriter, r *http.Request) {
	var in CreatePRInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	pr, err := h.service.CreatePR(r.Context(), in)
	h.metrics.ObserveDocument("purchase_requisition", err)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondView(h, w, r, http.StatusCreated, pr, h.prView)
}

func (h *Handler) listPOs(w http.ResponseWriter, r *http.Request) {
	pos, err := h.service.ListPOs(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondViews(h, w, r, pos, h.poView)
}

func (h *Handler) showPO(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	po, err := h.service.GetPO(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondView(h, w, r, http.StatusOK, po, h.poView)
}

func (h *Handler) createPO(w http.ResponseWriter, r *http.Request) {
	var in CreatePOInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	po, err := h.service.CreatePO(r.Context(), in)
	h.metrics.ObserveDocument("purchase_order", err)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondView(h, w, r, http.StatusCreated, po, h.poView)
}

func (h *Handler) poProgress(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	progress, err := h.service.POProgress(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, progress)
}

func (h *Handler) listGRNs(w http.ResponseWriter, r *http.Request) {
	grns, err := h.service.ListGRNs(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondViews(h, w, r, grns, h.grnView)
}

func (h *Handler) showGRN(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	g, err := h.service.GetGRN(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondView(h, w, r, http.StatusOK, g, h.grnView)
}

func (h *Handler) createGRN(w http.ResponseWriter, r *http.Request) {
	var in CreateGRNInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.IdempotencyKey = r.Header.Get(httpx.IdempotencyHeader)
	g, err := h.service.CreateGRN(r.Context(), in)
	h.metrics.ObserveDocument("grn", err)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondView(h, w, r, http.StatusCreated, g, h.grnView)
}
