package requisition

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/plantops/plantstore/internal/masterdata"
	"github.com/plantops/plantstore/internal/observability"
	"github.com/plantops/plantstore/internal/platform/httpx"
)

// View is a requisition with resolved master data.
type View struct {
	Requisition
	Department masterdata.DepartmentRef `json:"department"`
	Lines      []LineView               `json:"lines"`
}

// LineView is a requisition line with its item.
type LineView struct {
	Line
	Item masterdata.ItemRef `json:"item"`
}

// Handler exposes requisition endpoints.
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

// MountRoutes registers requisition routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/requisitions", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.show)
		r.Get("/{id}/approvals", h.approvals)
		r.Post("/{id}/approve-hod", h.decide(StageHOD, true))
		r.Post("/{id}/reject-hod", h.decide(StageHOD, false))
		r.Post("/{id}/approve-plant-head", h.decide(StagePlantHead, true))
		r.Post("/{id}/reject-plant-head", h.decide(StagePlantHead, false))
		r.Post("/{id}/cancel", h.cancel)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Debug("requisition request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func (h *Handler) view(ctx context.Context, req Requisition) (View, error) {
	dept, err := h.resolver.Department(ctx, req.DepartmentID)
	if err != nil {
		return View{}, err
	}
	refs, err := h.resolver.Items(ctx, req.ItemIDs())
	if err != nil {
		return View{}, err
	}
	v := View{Requisition: req, Department: dept, Lines: make([]LineView, 0, len(req.Lines))}
	for _, l := range req.Lines {
		v.Lines = append(v.Lines, LineView{Line: l, Item: refs[l.ItemID]})
	}
	return v, nil
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, req Requisition) {
	v, err := h.view(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, status, v)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]View, 0, len(reqs))
	for _, req := range reqs {
		v, err := h.view(r.Context(), req)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		out = append(out, v)
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, req)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.service.Create(r.Context(), in)
	h.metrics.ObserveDocument("requisition", err)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusCreated, req)
}

func (h *Handler) decide(stage Stage, approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.PathID(r, "id")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		var in DecideInput
		if err := httpx.DecodeJSON(r, &in); err != nil {
			h.fail(w, r, err)
			return
		}
		in.RequisitionID = id
		in.Stage = stage
		in.Approve = approve
		req, err := h.service.Decide(r.Context(), in)
		h.metrics.ObserveDocument("requisition_decision", err)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.respond(w, r, http.StatusOK, req)
	}
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in CancelInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.RequisitionID = id
	req, err := h.service.Cancel(r.Context(), in)
	h.metrics.ObserveDocument("requisition_cancel", err)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, req)
}

func (h *Handler) approvals(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	logs, err := h.service.Approvals(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, logs)
}
