package sales

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/orbit-erp/orbit/internal/ledger"
	"github.com/orbit-erp/orbit/internal/milestone"
	"github.com/orbit-erp/orbit/internal/platform/httpx"
	"github.com/orbit-erp/orbit/internal/rbac"
	"github.com/orbit-erp/orbit/internal/shared"
)

// Handler exposes sales order endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermSalesOrderView, shared.PermSalesOrderEdit))
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/approvals", h.approvals)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermSalesOrderCreate))
		r.Post("/orders", h.createOrder)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermSalesOrderEdit))
		r.Put("/orders/{id}/lines", h.replaceLines)
		r.Post("/orders/{id}/recompute", h.recompute)
		r.Post("/orders/{id}/request-client-response", h.action(h.service.RequestClientResponse, "request client response"))
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermCreditValidateHR, shared.PermCreditValidateAdmin))
		r.Post("/orders/{id}/hr/validate", h.action(h.service.ValidateHR, "validate hr"))
		r.Post("/orders/{id}/hr/reject", h.action(h.service.RejectHR, "reject hr"))
		r.Post("/orders/{id}/admin/approve", h.action(h.service.ApproveAdmin, "approve admin"))
		r.Post("/orders/{id}/admin/reject", h.rejectAdmin)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermSalesOrderConfirm))
		r.Post("/orders/{id}/confirm", h.action(h.service.Confirm, "confirm order"))
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermSalesOrderCancel))
		r.Post("/orders/{id}/cancel", h.action(h.service.Cancel, "cancel order"))
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermDeliveryOrderShip, shared.PermDeliveryOrderComplete))
		r.Post("/orders/{id}/delivered-quantities", h.recordDelivered)
		r.Post("/orders/{id}/to-deliver", h.action(h.service.MarkToBeDelivered, "release for delivery"))
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermDeliveryOrderComplete))
		r.Post("/orders/{id}/deliver", h.action(h.service.MarkDelivered, "deliver order"))
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermSalesPaymentView, shared.PermSalesPaymentRegister))
		r.Get("/orders/{id}/payments", h.payments)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermSalesPaymentRegister))
		r.Post("/orders/{id}/payments", h.registerPayment)
	})
}

type orderAction func(ctx context.Context, actor shared.Actor, id int64) (*Order, error)

func (h *Handler) action(fn orderAction, op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := h.actor(w, r)
		if !ok {
			return
		}
		id, ok := h.parseID(w, r)
		if !ok {
			return
		}
		order, err := fn(r.Context(), actor, id)
		if err != nil {
			h.fail(w, op, err)
			return
		}
		httpx.JSON(w, http.StatusOK, order)
	}
}

type listResponse struct {
	Orders     []Order           `json:"orders"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		TypeSale: milestone.SaleType(q.Get("type_sale")),
		State:    State(q.Get("state")),
		StateDue: milestone.DueState(q.Get("state_due")),
	}
	if filter.TypeSale != "" && !filter.TypeSale.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid type_sale")
		return
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid offset")
			return
		}
		filter.Offset = offset
	}
	orders, page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list orders", err)
		return
	}
	if orders == nil {
		orders = []Order{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Orders: orders, Pagination: page})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) approvals(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	logs, err := h.service.Approvals(r.Context(), id)
	if err != nil {
		h.fail(w, "list approvals", err)
		return
	}
	if logs == nil {
		logs = []shared.ApprovalLog{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"approvals": logs})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CreateOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.Create(r.Context(), actor, req)
	if err != nil {
		h.fail(w, "create order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

type linesRequest struct {
	Lines []LineRequest `json:"lines"`
}

func (h *Handler) replaceLines(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req linesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.ReplaceLines(r.Context(), actor, id, req.Lines)
	if err != nil {
		h.fail(w, "replace lines", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type deliveredRequest struct {
	Quantities []DeliveredQuantity `json:"quantities"`
}

func (h *Handler) recordDelivered(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req deliveredRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.RecordDelivered(r.Context(), actor, id, req.Quantities)
	if err != nil {
		h.fail(w, "record delivered quantities", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) recompute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	order, err := h.service.Recompute(r.Context(), id)
	if err != nil {
		h.fail(w, "recompute order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type rejectRequest struct {
	Comment string `json:"comment"`
}

func (h *Handler) rejectAdmin(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	order, err := h.service.RejectAdmin(r.Context(), actor, id, req.Comment)
	if err != nil {
		h.fail(w, "reject admin", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type paymentsResponse struct {
	Suggestion PaymentSuggestion `json:"suggestion"`
	Payments   []ledger.Payment  `json:"payments"`
}

func (h *Handler) payments(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	suggestion, payments, err := h.service.PaymentSuggestion(r.Context(), id)
	if err != nil {
		h.fail(w, "payment suggestion", err)
		return
	}
	if payments == nil {
		payments = []ledger.Payment{}
	}
	httpx.JSON(w, http.StatusOK, paymentsResponse{Suggestion: suggestion, Payments: payments})
}

type paymentResponse struct {
	Payment *ledger.Payment `json:"payment"`
	Order   *Order          `json:"order"`
}

func (h *Handler) registerPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req PaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	payment, order, err := h.service.RegisterPayment(r.Context(), actor, id, r.Header.Get("Idempotency-Key"), req)
	if err != nil {
		h.fail(w, "register payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, paymentResponse{Payment: payment, Order: order})
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrMissingActor)
		return shared.Actor{}, false
	}
	return actor, true
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
