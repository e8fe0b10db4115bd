package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/campus-canteen/api/internal/domain"
	"github.com/campus-canteen/api/internal/platform/httpx"
	"github.com/campus-canteen/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 16 * 1024
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusRequested:        {},
	domain.OrderStatusPaymentPending:   {},
	domain.OrderStatusPaid:             {},
	domain.OrderStatusPreparing:        {},
	domain.OrderStatusReady:            {},
	domain.OrderStatusCollected:        {},
	domain.OrderStatusDeclined:         {},
	domain.OrderStatusCancelledTimeout: {},
}

type submitOrderRequest struct {
	CanteenID     string                   `json:"canteen_id"`
	PaymentMethod string                   `json:"payment_method"`
	Lines         []submitOrderLineRequest `json:"lines"`
}

type submitOrderLineRequest struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int    `json:"quantity"`
}

// OrderHandlers exposes the student-facing order endpoints.
type OrderHandlers struct {
	orders  services.OrderService
	limiter RateLimiter
}

// NewOrderHandlers constructs a new OrderHandlers instance. The limiter, when
// non-nil, bounds order submissions per actor.
func NewOrderHandlers(orders services.OrderService, limiter RateLimiter) *OrderHandlers {
	return &OrderHandlers{
		orders:  orders,
		limiter: limiter,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(RequireActor)
	r.Post("/", h.submitOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:pay", h.payOrder)
}

func (h *OrderHandlers) submitOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actorID, _ := actorFromRequest(r)

	if h.limiter != nil && !h.limiter.Allow(actorID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many order submissions", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req submitOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.SubmitOrderCommand{
		StudentID:     actorID,
		CanteenID:     strings.TrimSpace(req.CanteenID),
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
		Lines:         make([]services.SubmitOrderLine, 0, len(req.Lines)),
	}
	for _, line := range req.Lines {
		cmd.Lines = append(cmd.Lines, services.SubmitOrderLine{
			MenuItemID: strings.TrimSpace(line.MenuItemID),
			Quantity:   line.Quantity,
		})
	}

	order, err := h.orders.Submit(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actorID, _ := actorFromRequest(r)
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
		StudentID: actorID,
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

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
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

	details, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	if !strings.EqualFold(strings.TrimSpace(details.Order.StudentID), actorID) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	payload := orderDetailsResponse{
		Order: buildOrderPayload(details.Order),
	}
	if details.Queue.Position > 0 {
		payload.Queue = &queuePayload{
			Position:         details.Queue.Position,
			EstimatedMinutes: details.Queue.EstimatedMinutes,
		}
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *OrderHandlers) payOrder(w http.ResponseWriter, r *http.Request) {
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

	details, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if !strings.EqualFold(strings.TrimSpace(details.Order.StudentID), actorID) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	confirmed, err := h.orders.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		OrderID: orderID,
		ActorID: actorID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := orderDetailsResponse{Order: buildOrderPayload(confirmed.Order)}
	if confirmed.Queue.Position > 0 {
		payload.Queue = &queuePayload{
			Position:         confirmed.Queue.Position,
			EstimatedMinutes: confirmed.Queue.EstimatedMinutes,
		}
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"order_number"`
	CanteenID     string `json:"canteen_id"`
	Status        string `json:"status"`
	TotalAmount   int64  `json:"total_amount"`
	PaymentStatus string `json:"payment_status,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderDetailsResponse struct {
	Order orderPayload  `json:"order"`
	Queue *queuePayload `json:"queue,omitempty"`
}

type queuePayload struct {
	Position         int `json:"position"`
	EstimatedMinutes int `json:"estimated_minutes"`
}

type orderPayload struct {
	ID               string              `json:"id"`
	OrderNumber      string              `json:"order_number"`
	CanteenID        string              `json:"canteen_id"`
	StudentID        string              `json:"student_id"`
	Status           string              `json:"status"`
	TotalAmount      int64               `json:"total_amount"`
	Lines            []orderLinePayload  `json:"lines"`
	Payment          *paymentPayload     `json:"payment,omitempty"`
	Events           []orderEventPayload `json:"events,omitempty"`
	PickupCode       *string             `json:"pickup_code,omitempty"`
	DeclineReason    *string             `json:"decline_reason,omitempty"`
	PaymentExpiresAt string              `json:"payment_expires_at,omitempty"`
	AcceptedAt       string              `json:"accepted_at,omitempty"`
	PaidAt           string              `json:"paid_at,omitempty"`
	CollectedAt      string              `json:"collected_at,omitempty"`
	CancelledAt      string              `json:"cancelled_at,omitempty"`
	CreatedAt        string              `json:"created_at"`
	UpdatedAt        string              `json:"updated_at,omitempty"`
}

type orderLinePayload struct {
	MenuItemID string `json:"menu_item_id"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	Subtotal   int64  `json:"subtotal"`
}

type paymentPayload struct {
	Method        string `json:"method"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Payload       string `json:"payload,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	CreatedAt     string `json:"created_at"`
	PaidAt        string `json:"paid_at,omitempty"`
}

type orderEventPayload struct {
	From      string  `json:"from,omitempty"`
	To        string  `json:"to"`
	ActorID   *string `json:"actor_id,omitempty"`
	CreatedAt string  `json:"created_at"`
}

func buildOrderListResponse(page domain.CursorPage[domain.Order]) orderListResponse {
	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	return orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	summary := orderSummaryPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		CanteenID:   strings.TrimSpace(order.CanteenID),
		Status:      strings.TrimSpace(string(order.Status)),
		TotalAmount: order.TotalAmount,
		CreatedAt:   formatTime(order.CreatedAt),
	}
	if order.Payment != nil {
		summary.PaymentStatus = string(order.Payment.Status)
	}
	return summary
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:               strings.TrimSpace(order.ID),
		OrderNumber:      strings.TrimSpace(order.OrderNumber),
		CanteenID:        strings.TrimSpace(order.CanteenID),
		StudentID:        strings.TrimSpace(order.StudentID),
		Status:           strings.TrimSpace(string(order.Status)),
		TotalAmount:      order.TotalAmount,
		Lines:            make([]orderLinePayload, 0, len(order.Lines)),
		PickupCode:       cloneStringPointer(order.PickupCode),
		DeclineReason:    cloneStringPointer(order.DeclineReason),
		PaymentExpiresAt: formatTime(pointerTime(order.PaymentExpiresAt)),
		AcceptedAt:       formatTime(pointerTime(order.AcceptedAt)),
		PaidAt:           formatTime(pointerTime(order.PaidAt)),
		CollectedAt:      formatTime(pointerTime(order.CollectedAt)),
		CancelledAt:      formatTime(pointerTime(order.CancelledAt)),
		CreatedAt:        formatTime(order.CreatedAt),
		UpdatedAt:        formatTime(order.UpdatedAt),
	}

	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			MenuItemID: strings.TrimSpace(line.MenuItemID),
			Name:       strings.TrimSpace(line.Name),
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			Subtotal:   line.Subtotal(),
		})
	}

	if order.Payment != nil {
		payment := paymentPayload{
			Method:    string(order.Payment.Method),
			Status:    string(order.Payment.Status),
			Amount:    order.Payment.Amount,
			Payload:   order.Payment.Payload,
			CreatedAt: formatTime(order.Payment.CreatedAt),
			PaidAt:    formatTime(pointerTime(order.Payment.PaidAt)),
		}
		if order.Payment.TransactionID != nil {
			payment.TransactionID = strings.TrimSpace(*order.Payment.TransactionID)
		}
		payload.Payment = &payment
	}

	if len(order.Events) > 0 {
		events := make([]orderEventPayload, 0, len(order.Events))
		for _, event := range order.Events {
			entry := orderEventPayload{
				To:        string(event.To),
				ActorID:   cloneStringPointer(event.ActorID),
				CreatedAt: formatTime(event.CreatedAt),
			}
			if event.From != nil {
				entry.From = string(*event.From)
			}
			events = append(events, entry)
		}
		payload.Events = events
	}

	return payload
}

func cloneStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func parseStatusFilters(values []string) ([]domain.OrderStatus, bool) {
	if len(values) == 0 {
		return nil, true
	}
	statuses := make([]domain.OrderStatus, 0, len(values))
	for _, value := range values {
		status := domain.OrderStatus(value)
		if _, ok := validOrderStatuses[status]; !ok {
			return nil, false
		}
		statuses = append(statuses, status)
	}
	return statuses, true
}

func parsePageSize(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultOrderPageSize, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("page_size must be an integer")
	}
	switch {
	case size <= 0:
		return defaultOrderPageSize, nil
	case size > maxOrderPageSize:
		return maxOrderPageSize, nil
	default:
		return size, nil
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCanteenNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("canteen_not_found", "canteen not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCanteenClosed):
		httpx.WriteError(ctx, w, httpx.NewError("canteen_closed", "canteen is not accepting orders", http.StatusConflict))
	case errors.Is(err, services.ErrCapacityExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("capacity_exceeded", "canteen has reached its active order limit", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentWindowExpired):
		httpx.WriteError(ctx, w, httpx.NewError("payment_window_expired", "payment window has expired", http.StatusConflict))
	case errors.Is(err, services.ErrPickupCodeMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("pickup_code_mismatch", "pickup code does not match", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_failed", "order payment has not failed", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPickupCodeExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("pickup_code_exhausted", "could not allocate a pickup code", http.StatusInternalServerError))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
