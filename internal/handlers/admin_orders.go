package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/campus-canteen/api/internal/domain"
	"github.com/campus-canteen/api/internal/platform/httpx"
	"github.com/campus-canteen/api/internal/services"
)

const maxAdminOrderBodySize = 8 * 1024

var advanceTargetStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPreparing: {},
	domain.OrderStatusReady:     {},
	domain.OrderStatusCollected: {},
}

type declineOrderRequest struct {
	Reason string `json:"reason"`
}

type advanceOrderRequest struct {
	TargetStatus string `json:"target_status"`
	PickupCode   string `json:"pickup_code"`
}

// AdminOrderHandlers exposes the staff order management endpoints.
type AdminOrderHandlers struct {
	orders services.OrderService
}

// NewAdminOrderHandlers constructs a new AdminOrderHandlers instance.
func NewAdminOrderHandlers(orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{orders: orders}
}

// Routes registers the /admin order endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(RequireActor)
	r.Get("/orders", h.listOrders)
	r.Post("/orders/{orderID}:accept", h.acceptOrder)
	r.Post("/orders/{orderID}:decline", h.declineOrder)
	r.Post("/orders/{orderID}:advance", h.advanceOrder)
	r.Post("/orders/{orderID}:cancel-failed", h.cancelFailedPayment)
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	statuses, ok := parseStatusFilters(parseFilterValues(query["status"]))
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status filter contains an unknown order status", http.StatusBadRequest))
		return
	}

	pageSize, err := parsePageSize(query.Get("page_size"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		CanteenID: strings.TrimSpace(query.Get("canteen_id")),
		Status:    statuses,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *AdminOrderHandlers) acceptOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actorID, _ := actorFromRequest(r)
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Accept(ctx, services.AcceptOrderCommand{
		OrderID: orderID,
		ActorID: actorID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) declineOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actorID, _ := actorFromRequest(r)
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req declineOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Decline(ctx, services.DeclineOrderCommand{
		OrderID: orderID,
		ActorID: actorID,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) advanceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actorID, _ := actorFromRequest(r)
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req advanceOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	target := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.TargetStatus)))
	if _, ok := advanceTargetStatuses[target]; !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "target_status must be PREPARING, READY, or COLLECTED", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Advance(ctx, services.AdvanceOrderCommand{
		OrderID:      orderID,
		ActorID:      actorID,
		TargetStatus: target,
		PickupCode:   strings.TrimSpace(req.PickupCode),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) cancelFailedPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actorID, _ := actorFromRequest(r)
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.CancelFailedPayment(ctx, services.CancelFailedPaymentCommand{
		OrderID: orderID,
		ActorID: actorID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
