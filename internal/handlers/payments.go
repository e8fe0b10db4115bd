package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/campus-canteen/api/internal/platform/httpx"
	"github.com/campus-canteen/api/internal/services"
)

const maxCallbackBodySize = 32 * 1024

type paymentCallbackRequest struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
}

// PaymentHandlers receives asynchronous gateway callbacks.
type PaymentHandlers struct {
	orders services.OrderService
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(orders services.OrderService) *PaymentHandlers {
	return &PaymentHandlers{orders: orders}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/callback", h.callback)
}

func (h *PaymentHandlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCallbackBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req paymentCallbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id is required", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	reconciled, err := h.orders.ReconcilePayment(ctx, services.ReconcilePaymentCommand{
		OrderID:       orderID,
		GatewayStatus: strings.TrimSpace(req.Status),
		TransactionID: strings.TrimSpace(req.TransactionID),
		RawResponse:   string(body),
	})
	if err != nil {
		// The gateway retries on 5xx; expiry races resolve to the same terminal
		// state on retry, so report them as conflicts instead.
		if errors.Is(err, services.ErrPaymentWindowExpired) {
			httpx.WriteError(ctx, w, httpx.NewError("payment_window_expired", "payment window has expired", http.StatusConflict))
			return
		}
		writeOrderError(ctx, w, err)
		return
	}

	order := reconciled.Order
	resp := map[string]any{
		"order_id":       order.ID,
		"status":         string(order.Status),
		"payment_status": paymentStatusOf(order),
	}
	if reconciled.Queue.Position > 0 {
		resp["queue"] = map[string]any{
			"position":          reconciled.Queue.Position,
			"estimated_minutes": reconciled.Queue.EstimatedMinutes,
		}
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func paymentStatusOf(order services.Order) string {
	if order.Payment == nil {
		return ""
	}
	return string(order.Payment.Status)
}
