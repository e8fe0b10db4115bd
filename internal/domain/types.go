package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results along with the next page token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates the lifecycle states of a canteen order.
type OrderStatus string

const (
	// OrderStatusRequested is the initial state after a student submits an order.
	OrderStatusRequested OrderStatus = "REQUESTED"
	// OrderStatusPaymentPending means staff accepted the order and payment is awaited.
	OrderStatusPaymentPending OrderStatus = "PAYMENT_PENDING"
	// OrderStatusPaid is a legacy state kept for historical orders that recorded
	// payment before preparation started.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusPreparing means the kitchen is working on the order.
	OrderStatusPreparing OrderStatus = "PREPARING"
	// OrderStatusReady means the order is ready for pickup.
	OrderStatusReady OrderStatus = "READY"
	// OrderStatusCollected is terminal: the student picked up the order.
	OrderStatusCollected OrderStatus = "COLLECTED"
	// OrderStatusDeclined is terminal: staff declined the request.
	OrderStatusDeclined OrderStatus = "DECLINED"
	// OrderStatusCancelledTimeout is terminal: the payment window lapsed.
	OrderStatusCancelledTimeout OrderStatus = "CANCELLED_TIMEOUT"
)

// ActiveOrderStatuses lists the states that count against a canteen's
// max active orders admission cap.
var ActiveOrderStatuses = []OrderStatus{
	OrderStatusRequested,
	OrderStatusPaymentPending,
	OrderStatusPaid,
	OrderStatusPreparing,
	OrderStatusReady,
}

// IsTerminal reports whether no further transitions are possible from the status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCollected, OrderStatusDeclined, OrderStatusCancelledTimeout:
		return true
	default:
		return false
	}
}

// PaymentStatus enumerates the states of an order's payment record.
type PaymentStatus string

const (
	// PaymentStatusPending means the payment has been initiated but not settled.
	PaymentStatusPending PaymentStatus = "PENDING"
	// PaymentStatusSuccess means funds were confirmed.
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	// PaymentStatusFailed means the gateway reported a failure; retry is possible.
	PaymentStatusFailed PaymentStatus = "FAILED"
	// PaymentStatusExpired means the payment window closed before settlement.
	PaymentStatusExpired PaymentStatus = "EXPIRED"
)

// PaymentMethod enumerates how a student settles an order. Legacy aliases
// UPI_QR and UPI_INTENT are normalised to ONLINE on input and never stored.
type PaymentMethod string

const (
	// PaymentMethodOnline settles through a UPI intent handed to the client.
	PaymentMethodOnline PaymentMethod = "ONLINE"
	// PaymentMethodCounter settles in cash at pickup time.
	PaymentMethodCounter PaymentMethod = "COUNTER"
)

// Payment is the single payment record embedded in an order aggregate.
type Payment struct {
	Method          PaymentMethod
	Status          PaymentStatus
	Amount          int64
	Payload         string
	TransactionID   *string
	GatewayResponse *string
	CreatedAt       time.Time
	PaidAt          *time.Time
}

// OrderLine is a priced menu item snapshot captured at submission time.
type OrderLine struct {
	MenuItemID string
	Name       string
	Quantity   int
	UnitPrice  int64
}

// Subtotal returns the line amount in minor units.
func (l OrderLine) Subtotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// OrderStatusEvent is one append-only entry in an order's status trail.
// ActorID is nil for system-initiated changes such as payment expiry.
type OrderStatusEvent struct {
	From      *OrderStatus
	To        OrderStatus
	ActorID   *string
	CreatedAt time.Time
}

// Order is the full aggregate: header, lines, payment, and event trail are
// loaded and persisted together.
type Order struct {
	ID          string
	OrderNumber string
	CanteenID   string
	StudentID   string
	Status      OrderStatus
	TotalAmount int64
	Lines       []OrderLine
	Payment     *Payment
	Events      []OrderStatusEvent

	PickupCode    *string
	DeclineReason *string

	PaymentExpiresAt *time.Time
	AcceptedAt       *time.Time
	PaidAt           *time.Time
	CollectedAt      *time.Time
	CancelledAt      *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// QueueInfo reports a paid order's place in the preparation queue.
// Position and EstimatedMinutes are zero for orders that are not queued.
type QueueInfo struct {
	Position         int
	EstimatedMinutes int
}

// Canteen holds the operational settings staff manage per outlet.
type Canteen struct {
	ID              string
	Name            string
	AvgPrepMinutes  int
	PayeeVPA        string
	MaxActiveOrders int
	IsActive        bool
	AcceptingOrders bool
	OpensAt         string
	ClosesAt        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MenuItem is a purchasable entry on a canteen's menu.
type MenuItem struct {
	ID        string
	CanteenID string
	Name      string
	UnitPrice int64
	Available bool
}

// OrderEventType labels the notification published after a committed mutation.
type OrderEventType string

const (
	// OrderEventCreated is published when a new order is submitted.
	OrderEventCreated OrderEventType = "order.created"
	// OrderEventStatusChanged is published on any status or payment change.
	OrderEventStatusChanged OrderEventType = "order.status.changed"
	// OrderEventPaymentExpired is published when the payment window lapses.
	OrderEventPaymentExpired OrderEventType = "order.payment_expired"
)
