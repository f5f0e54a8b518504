package issuance

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/plantops/plantstore/internal/masterdata"
	"github.com/plantops/plantstore/internal/observability"
	"github.com/plantops/plantstore/internal/platform/httpx"
)

// IssueView is a store issue with resolved master data.
type IssueView struct {
	StoreIssue
	Department masterdata.DepartmentRef `json:"department"`
	Lines      []IssueLineView          `json:"lines"`
}

// IssueLineView is an issue line with its item.
type IssueLineView struct {
	IssueLine
	Item masterdata.ItemRef `json:"item"`
}

// ReturnView is a store return with resolved master data.
type ReturnView struct {
	StoreReturn
	Department masterdata.DepartmentRef `json:"department"`
	Lines      []ReturnLineView         `json:"lines"`
}

// ReturnLineView is a return line with its item.
type ReturnLineView struct {
	ReturnLine
	Item masterdata.ItemRef `json:"item"`
}

// Handler exposes store issue and return endpoints.
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

// MountRoutes registers issue and return routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/store/issues", func(r chi.Router) {
		r.Get("/", h.listIssues)
		r.Post("/", h.createIssue)
		r.Get("/{id}", h.showIssue)
		r.Get("/requisition/{requisitionId}", h.issuesByRequisition)
		r.Get("/requisition/{requisitionId}/progress", h.progress)
	})
	r.Route("/store/returns", func(r chi.Router) {
		r.Get("/", h.listReturns)
		r.Post("/", h.createReturn)
		r.Get("/{id}", h.showReturn)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Debug("store request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func (h *Handler) issueView(ctx context.Context, is StoreIssue) (IssueView, error) {
	dept, err := h.resolver.Department(ctx, is.DepartmentID)
	if err != nil {
		return IssueView{}, err
	}
	refs, err := h.resolver.Items(ctx, is.ItemIDs())
	if err != nil {
		return IssueView{}, err
	}
	v := IssueView{StoreIssue: is, Department: dept, Lines: make([]IssueLineView, 0, len(is.Lines))}
	for _, l := range is.Lines {
		v.Lines = append(v.Lines, IssueLineView{IssueLine: l, Item: refs[l.ItemID]})
	}
	return v, nil
}

func (h *Handler) returnView(ctx context.Context, ret StoreReturn) (ReturnView, error) {
	dept, err := h.resolver.Department(ctx, ret.DepartmentID)
	if err != nil {
		return ReturnView{}, err
	}
	refs, err := h.resolver.Items(ctx, ret.ItemIDs())
	if err != nil {
		return ReturnView{}, err
	}
	v := ReturnView{StoreReturn: ret, Department: dept, Lines: make([]ReturnLineView, 0, len(ret.Lines))}
	for _, l := range ret.Lines {
		v.Lines = append(v.Lines, ReturnLineView{ReturnLine: l, Item: refs[l.ItemID]})
	}
	return v, nil
}

func (h *Handler) respondIssues(w http.ResponseWriter, r *http.Request, issues []StoreIssue) {
	out := make([]IssueView, 0, len(issues))
	for _, is := range issues {
		v, err := h.issueView(r.Context(), is)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		out = append(out, v)
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) respondIssue(w http.ResponseWriter, r *http.Request, status int, is StoreIssue) {
	v, err := h.issueView(r.Context(), is)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, status, v)
}

func (h *Handler) respondReturn(w http.ResponseWriter, r *http.Request, status int, ret StoreReturn) {
	v, err := h.returnView(r.Context(), ret)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, status, v)
}

func (h *Handler) listIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := h.service.ListIssues(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondIssues(w, r, issues)
}

func (h *Handler) issuesByRequisition(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "requisitionId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	issues, err := h.service.ListIssuesByRequisition(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondIssues(w, r, issues)
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "requisitionId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.service.IssueProgress(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) showIssue(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	is, err := h.service.GetIssue(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondIssue(w, r, http.StatusOK, is)
}

func (h *Handler) createIssue(w http.ResponseWriter, r *http.Request) {
	var in CreateIssueInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.IdempotencyKey = r.Header.Get(httpx.IdempotencyHeader)
	is, err := h.service.CreateIssue(r.Context(), in)
	h.metrics.ObserveDocument("store_issue", err)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondIssue(w, r, http.StatusCreated, is)
}

func (h *Handler) listReturns(w http.ResponseWriter, r *http.Request) {
	rets, err := h.service.ListReturns(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ReturnView, 0, len(rets))
	for _, ret := range rets {
		v, err := h.returnView(r.Context(), ret)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		out = append(out, v)
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) showReturn(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ret, err := h.service.GetReturn(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondReturn(w, r, http.StatusOK, ret)
}

func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	var in CreateReturnInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.IdempotencyKey = r.Header.Get(httpx.IdempotencyHeader)
	ret, err := h.service.CreateReturn(r.Context(), in)
	h.metrics.ObserveDocument("store_return", err)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondReturn(w, r, http.StatusCreated, ret)
}
