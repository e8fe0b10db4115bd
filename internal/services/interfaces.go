package services

import (
	"context"

	domain "github.com/campus-canteen/api/internal/domain"
	"github.com/campus-canteen/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination       = domain.Pagination
	Order            = domain.Order
	OrderStatus      = domain.OrderStatus
	OrderLine        = domain.OrderLine
	OrderStatusEvent = domain.OrderStatusEvent
	Payment          = domain.Payment
	PaymentMethod    = domain.PaymentMethod
	PaymentStatus    = domain.PaymentStatus
	QueueInfo        = domain.QueueInfo
	Canteen          = domain.Canteen
	MenuItem         = domain.MenuItem
)

// OrderListFilter narrows and paginates order listings.
type OrderListFilter = repositories.OrderListFilter

// OrderService drives the order lifecycle: submission, staff decisions, payment
// settlement, pickup, and the queries around them. Operations that reject a
// transition return the unmodified current aggregate alongside the error. The
// settlement operations return the aggregate with its live queue estimate so
// callers can show the student their place in line right away.
type OrderService interface {
	Submit(ctx context.Context, cmd SubmitOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (OrderDetails, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	Accept(ctx context.Context, cmd AcceptOrderCommand) (Order, error)
	Decline(ctx context.Context, cmd DeclineOrderCommand) (Order, error)
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (OrderDetails, error)
	ReconcilePayment(ctx context.Context, cmd ReconcilePaymentCommand) (OrderDetails, error)
	Advance(ctx context.Context, cmd AdvanceOrderCommand) (Order, error)
	CancelFailedPayment(ctx context.Context, cmd CancelFailedPaymentCommand) (Order, error)
}

// OrderExpirer exposes the shared expiry primitive used by the background
// sweeper and the on-demand paths. The boolean reports whether the order was
// actually expired by this call.
type OrderExpirer interface {
	ExpireOverdue(ctx context.Context, orderID string) (Order, bool, error)
}

// CanteenService serves the student-facing browse surface.
type CanteenService interface {
	ListCanteens(ctx context.Context) ([]Canteen, error)
	GetCanteen(ctx context.Context, canteenID string) (Canteen, error)
	ListMenu(ctx context.Context, canteenID string) ([]MenuItem, error)
}

// OrderDetails bundles an aggregate with its live queue estimate.
type OrderDetails struct {
	Order Order
	Queue QueueInfo
}

// SubmitOrderCommand captures a student's order request.
type SubmitOrderCommand struct {
	StudentID     string
	CanteenID     string
	PaymentMethod string
	Lines         []SubmitOrderLine
}

// SubmitOrderLine references a menu item and quantity.
type SubmitOrderLine struct {
	MenuItemID string
	Quantity   int
}

// AcceptOrderCommand moves a requested order into the payment window.
type AcceptOrderCommand struct {
	OrderID string
	ActorID string
}

// DeclineOrderCommand rejects a requested order with a mandatory reason.
type DeclineOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

// ConfirmPaymentCommand settles payment from the client side (counter flow or
// client-confirmed online payment).
type ConfirmPaymentCommand struct {
	OrderID string
	ActorID string
}

// ReconcilePaymentCommand applies an external gateway callback.
type ReconcilePaymentCommand struct {
	OrderID       string
	GatewayStatus string
	TransactionID string
	RawResponse   string
}

// AdvanceOrderCommand moves an order along the fulfilment path.
type AdvanceOrderCommand struct {
	OrderID      string
	ActorID      string
	TargetStatus OrderStatus
	// PickupCode must match the allocated code when advancing to COLLECTED.
	PickupCode string
}

// CancelFailedPaymentCommand closes an order whose payment failed.
type CancelFailedPaymentCommand struct {
	OrderID string
	ActorID string
}
