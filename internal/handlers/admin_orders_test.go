package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/campus-canteen/api/internal/domain"
	"github.com/campus-canteen/api/internal/services"
)

func newAdminRouter(service services.OrderService) http.Handler {
	handler := NewAdminOrderHandlers(service)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)
	return router
}

func TestAdminRoutesRequireActor(t *testing.T) {
	router := newAdminRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestAdminListOrdersFiltersByCanteen(t *testing.T) {
	var captured services.OrderListFilter
	service := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder()}}, nil
		},
	}
	router := newAdminRouter(service)

	req := withActor(httptest.NewRequest(http.MethodGet, "/admin/orders?canteen_id=cnt_main&status=REQUESTED", nil), "staff_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.CanteenID != "cnt_main" {
		t.Fatalf("expected canteen filter, got %q", captured.CanteenID)
	}
	if captured.StudentID != "" {
		t.Fatalf("admin listing must not be student scoped, got %q", captured.StudentID)
	}
	if len(captured.Status) != 1 || captured.Status[0] != domain.OrderStatusRequested {
		t.Fatalf("unexpected status filters %v", captured.Status)
	}
}

func TestAdminAcceptOrder(t *testing.T) {
	var captured services.AcceptOrderCommand
	service := &stubOrderService{
		acceptFn: func(_ context.Context, cmd services.AcceptOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusPaymentPending
			return order, nil
		},
	}
	router := newAdminRouter(service)

	req := withActor(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_123:accept", nil), "staff_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_123" || captured.ActorID != "staff_1" {
		t.Fatalf("unexpected command %+v", captured)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Order.Status != "PAYMENT_PENDING" {
		t.Fatalf("unexpected status %s", resp.Order.Status)
	}
}

func TestAdminAcceptInvalidState(t *testing.T) {
	service := &stubOrderService{
		acceptFn: func(context.Context, services.AcceptOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidState
		},
	}
	router := newAdminRouter(service)

	req := withActor(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_123:accept", nil), "staff_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminDeclineOrder(t *testing.T) {
	var captured services.DeclineOrderCommand
	service := &stubOrderService{
		declineFn: func(_ context.Context, cmd services.DeclineOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusDeclined
			return order, nil
		},
	}
	router := newAdminRouter(service)

	req := withActor(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_123:decline",
		bytes.NewBufferString(`{"reason":"out of stock"}`)), "staff_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Reason != "out of stock" {
		t.Fatalf("unexpected reason %q", captured.Reason)
	}
}

func TestAdminDeclineMissingBody(t *testing.T) {
	router := newAdminRouter(&stubOrderService{})

	req := withActor(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_123:decline", nil), "staff_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminAdvanceOrder(t *testing.T) {
	var captured services.AdvanceOrderCommand
	service := &stubOrderService{
		advanceFn: func(_ context.Context, cmd services.AdvanceOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = cmd.TargetStatus
			return order, nil
		},
	}
	router := newAdminRouter(service)

	req := withActor(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_123:advance",
		bytes.NewBufferString(`{"target_status":"collected","pickup_code":"0042"}`)), "staff_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.TargetStatus != domain.OrderStatusCollected {
		t.Fatalf("expected lowercase target to normalise, got %s", captured.TargetStatus)
	}
	if captured.PickupCode != "0042" {
		t.Fatalf("unexpected pickup code %q", captured.PickupCode)
	}
}

func TestAdminAdvanceRejectsUnknownTarget(t *testing.T) {
	router := newAdminRouter(&stubOrderService{})

	req := withActor(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_123:advance",
		bytes.NewBufferString(`{"target_status":"SHIPPED"}`)), "staff_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminAdvancePickupCodeMismatch(t *testing.T) {
	service := &stubOrderService{
		advanceFn: func(context.Context, services.AdvanceOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrPickupCodeMismatch
		},
	}
	router := newAdminRouter(service)

	req := withActor(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_123:advance",
		bytes.NewBufferString(`{"target_status":"COLLECTED","pickup_code":"9999"}`)), "staff_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if payload["error"] != "pickup_code_mismatch" {
		t.Fatalf("expected pickup_code_mismatch, got %v", payload["error"])
	}
}

func TestAdminCancelFailedPayment(t *testing.T) {
	var captured services.CancelFailedPaymentCommand
	service := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelFailedPaymentCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusDeclined
			reason := "Payment failed - cancelled by admin"
			order.DeclineReason = &reason
			return order, nil
		},
	}
	router := newAdminRouter(service)

	req := withActor(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_123:cancel-failed", nil), "staff_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_123" || captured.ActorID != "staff_1" {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestAdminCancelFailedPaymentNotFailed(t *testing.T) {
	service := &stubOrderService{
		cancelFn: func(context.Context, services.CancelFailedPaymentCommand) (services.Order, error) {
			return services.Order{}, services.ErrPaymentNotFailed
		},
	}
	router := newAdminRouter(service)

	req := withActor(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_123:cancel-failed", nil), "staff_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}
