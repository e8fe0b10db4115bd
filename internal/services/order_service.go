package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/campus-canteen/api/internal/domain"
	"github.com/campus-canteen/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	defaultPaymentTimeout   = 10 * time.Minute
	defaultOverdueBatchSize = 50
)

// cancelFailedReason is the system-authored decline reason stored when staff
// close out an order whose payment failed.
const cancelFailedReason = "Payment failed - cancelled by admin"

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates concurrent writes or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrCanteenNotFound indicates the referenced canteen does not exist.
	ErrCanteenNotFound = errors.New("order: canteen not found")
	// ErrCanteenClosed indicates the canteen is inactive or not accepting orders.
	ErrCanteenClosed = errors.New("order: canteen not accepting orders")
	// ErrCapacityExceeded indicates the canteen reached its active order cap.
	ErrCapacityExceeded = errors.New("order: canteen at capacity")
	// ErrPaymentWindowExpired indicates the payment deadline passed before settlement.
	ErrPaymentWindowExpired = errors.New("order: payment window expired")
	// ErrPickupCodeMismatch indicates the presented pickup code does not match.
	ErrPickupCodeMismatch = errors.New("order: pickup code mismatch")
	// ErrPaymentNotFailed indicates a failed-payment cancellation on a payment that has not failed.
	ErrPaymentNotFailed = errors.New("order: payment has not failed")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusRequested:      {domain.OrderStatusDeclined, domain.OrderStatusPaymentPending, domain.OrderStatusPreparing},
	domain.OrderStatusPaymentPending: {domain.OrderStatusPreparing, domain.OrderStatusPaid, domain.OrderStatusCancelledTimeout},
	domain.OrderStatusPaid:           {domain.OrderStatusPreparing, domain.OrderStatusReady},
	domain.OrderStatusPreparing:      {domain.OrderStatusReady},
	domain.OrderStatusReady:          {domain.OrderStatusCollected},
}

// advanceTargets restricts the staff-facing Advance operation to the
// fulfilment path; payment-driven transitions go through the payment flows.
var advanceTargets = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPaid:      {domain.OrderStatusPreparing, domain.OrderStatusReady},
	domain.OrderStatusPreparing: {domain.OrderStatusReady},
	domain.OrderStatusReady:     {domain.OrderStatusCollected},
}

// istZone dates order numbers on the campus calendar.
var istZone = time.FixedZone("Asia/Kolkata", 5*3600+1800)

// OrderEventPublisher publishes order notification events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order notification events.
type OrderEvent struct {
	Type           domain.OrderEventType
	OrderID        string
	OrderNumber    string
	CanteenID      string
	StudentID      string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Canteens   repositories.CanteenRepository
	MenuItems  repositories.MenuItemRepository
	Counters   repositories.CounterRepository
	UnitOfWork repositories.UnitOfWork

	Clock       func() time.Time
	IDGenerator func() string
	// RandInt draws pickup codes; it must return a value in [0, n).
	RandInt func(n int) int
	Events  OrderEventPublisher
	Logger  func(ctx context.Context, event string, fields map[string]any)

	// PaymentTimeout is the window between acceptance and payment expiry.
	PaymentTimeout time.Duration
	// PickupCodeAttempts bounds allocator retries before giving up.
	PickupCodeAttempts int
	// OverdueBatchSize bounds one on-demand expiry scan.
	OverdueBatchSize int
}

type orderService struct {
	orders     repositories.OrderRepository
	canteens   repositories.CanteenRepository
	menuItems  repositories.MenuItemRepository
	counters   repositories.CounterRepository
	unitOfWork repositories.UnitOfWork

	clock  func() time.Time
	newID  func() string
	events OrderEventPublisher
	logger func(context.Context, string, map[string]any)

	payments  paymentProcessor
	codes     *pickupCodeAllocator
	estimator *queueEstimator

	paymentTimeout   time.Duration
	overdueBatchSize int
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Canteens == nil {
		return nil, errors.New("order service: canteen repository is required")
	}
	if deps.MenuItems == nil {
		return nil, errors.New("order service: menu item repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	timeout := deps.PaymentTimeout
	if timeout <= 0 {
		timeout = defaultPaymentTimeout
	}

	batch := deps.OverdueBatchSize
	if batch <= 0 {
		batch = defaultOverdueBatchSize
	}

	return &orderService{
		orders:     deps.Orders,
		canteens:   deps.Canteens,
		menuItems:  deps.MenuItems,
		counters:   deps.Counters,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:            idGen,
		events:           deps.Events,
		logger:           logger,
		codes:            newPickupCodeAllocator(deps.Orders, deps.RandInt, deps.PickupCodeAttempts),
		estimator:        newQueueEstimator(deps.Orders),
		paymentTimeout:   timeout,
		overdueBatchSize: batch,
	}, nil
}

func (s *orderService) Submit(ctx context.Context, cmd SubmitOrderCommand) (Order, error) {
	studentID := strings.TrimSpace(cmd.StudentID)
	if studentID == "" {
		return Order{}, fmt.Errorf("%w: student id is required", ErrOrderInvalidInput)
	}
	canteenID := strings.TrimSpace(cmd.CanteenID)
	if canteenID == "" {
		return Order{}, fmt.Errorf("%w: canteen id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one line", ErrOrderInvalidInput)
	}
	method, err := s.payments.normalizeMethod(cmd.PaymentMethod)
	if err != nil {
		return Order{}, err
	}

	canteen, err := s.loadCanteen(ctx, canteenID)
	if err != nil {
		return Order{}, err
	}
	if !canteen.IsActive || !canteen.AcceptingOrders {
		return Order{}, fmt.Errorf("%w: %s", ErrCanteenClosed, canteenID)
	}

	lines, total, err := s.buildLines(ctx, canteenID, cmd.Lines)
	if err != nil {
		return Order{}, err
	}

	// Free admission slots held by orders whose payment window already lapsed.
	s.expireDueOrders(ctx, canteenID)

	now := s.now()
	order := Order{
		ID:          orderIDPrefix + s.newID(),
		CanteenID:   canteenID,
		StudentID:   studentID,
		Status:      domain.OrderStatusRequested,
		TotalAmount: total,
		Lines:       lines,
		Payment:     s.payments.newPayment(method, total, now),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	order.Payment.Payload = s.payments.buildPayload(method, canteen.PayeeVPA, order.ID, total)
	order.Events = append(order.Events, domain.OrderStatusEvent{
		To:        domain.OrderStatusRequested,
		ActorID:   valuePtr(studentID),
		CreatedAt: now,
	})

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		active, err := s.orders.CountActive(txCtx, canteenID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if active >= canteen.MaxActiveOrders {
			return fmt.Errorf("%w: %d active orders", ErrCapacityExceeded, active)
		}

		number, err := s.generateOrderNumber(txCtx, canteenID, now)
		if err != nil {
			return err
		}
		order.OrderNumber = number

		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, orderEvent(domain.OrderEventCreated, order, "", studentID, now))
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (OrderDetails, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return OrderDetails{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderDetails{}, s.mapRepositoryError(err)
	}

	if s.isOverdue(order, s.now()) {
		expired, changed, err := s.ExpireOverdue(ctx, orderID)
		switch {
		case err != nil:
			s.logger(ctx, "order.expiry.failed", map[string]any{"order": orderID, "error": err.Error()})
		case changed:
			order = expired
		}
	}

	canteen, err := s.loadCanteen(ctx, order.CanteenID)
	if err != nil {
		return OrderDetails{}, err
	}

	queue, err := s.estimator.estimate(ctx, order, canteen)
	if err != nil {
		return OrderDetails{}, s.mapRepositoryError(err)
	}
	return OrderDetails{Order: order, Queue: queue}, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	s.expireDueOrders(ctx, filter.CanteenID)

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) Accept(ctx context.Context, cmd AcceptOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		return Order{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}

	now := s.now()
	var (
		order Order
		prev  domain.OrderStatus
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		order = loaded
		prev = order.Status

		// Counter orders skip the payment window: accepting one means staff
		// collect cash at pickup, so preparation starts immediately.
		if order.Payment != nil && order.Payment.Method == domain.PaymentMethodCounter {
			order.AcceptedAt = &now
			return s.settlePayment(txCtx, &order, valuePtr(actor), now, domain.OrderStatusPreparing)
		}

		if order.Payment == nil {
			// Legacy orders predate the embedded payment record; backfill one
			// before opening the window so settlement has something to settle.
			canteen, err := s.loadCanteen(txCtx, order.CanteenID)
			if err != nil {
				return err
			}
			order.Payment = s.payments.newPayment(domain.PaymentMethodOnline, order.TotalAmount, now)
			order.Payment.Payload = s.payments.buildPayload(domain.PaymentMethodOnline, canteen.PayeeVPA, order.ID, order.TotalAmount)
		} else {
			s.payments.resetPending(&order)
		}

		if err := s.applyStatusTransition(&order, domain.OrderStatusPaymentPending, valuePtr(actor), now); err != nil {
			return err
		}

		order.AcceptedAt = &now
		expiry := now.Add(s.paymentTimeout)
		order.PaymentExpiresAt = &expiry

		return s.mapRepositoryError(s.orders.Update(txCtx, order))
	})
	if err != nil {
		return order, err
	}

	s.publishEvent(ctx, orderEvent(domain.OrderEventStatusChanged, order, string(prev), actor, now))
	return order, nil
}

func (s *orderService) Decline(ctx context.Context, cmd DeclineOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		return Order{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: decline reason is required", ErrOrderInvalidInput)
	}

	now := s.now()
	var (
		order Order
		prev  domain.OrderStatus
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		order = loaded
		prev = order.Status

		if err := s.applyStatusTransition(&order, domain.OrderStatusDeclined, valuePtr(actor), now); err != nil {
			return err
		}
		order.DeclineReason = &reason

		return s.mapRepositoryError(s.orders.Update(txCtx, order))
	})
	if err != nil {
		return order, err
	}

	s.publishEvent(ctx, orderEvent(domain.OrderEventStatusChanged, order, string(prev), actor, now))
	return order, nil
}

func (s *orderService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (OrderDetails, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderDetails{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)

	now := s.now()
	var (
		order   Order
		prev    domain.OrderStatus
		expired bool
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		order = loaded
		prev = order.Status

		if order.Status != domain.OrderStatusPaymentPending {
			return fmt.Errorf("%w: cannot settle payment from %s", ErrOrderInvalidState, order.Status)
		}

		if s.isOverdue(order, now) {
			// Commit the expiry; the caller sees the window error afterwards.
			expired = true
			s.expireInPlace(&order, now)
			return s.mapRepositoryError(s.orders.Update(txCtx, order))
		}

		// Client-confirmed settlement lands on the legacy PAID state; staff
		// move the order into preparation from there.
		return s.settlePayment(txCtx, &order, valuePtr(actor), now, domain.OrderStatusPaid)
	})
	if err != nil {
		return OrderDetails{Order: order}, err
	}
	if expired {
		s.publishEvent(ctx, orderEvent(domain.OrderEventPaymentExpired, order, string(prev), "", now))
		return OrderDetails{Order: order}, fmt.Errorf("%w: order %s", ErrPaymentWindowExpired, order.ID)
	}

	s.publishEvent(ctx, orderEvent(domain.OrderEventStatusChanged, order, string(prev), actor, now))
	return OrderDetails{Order: order, Queue: s.queueEstimate(ctx, order)}, nil
}

func (s *orderService) ReconcilePayment(ctx context.Context, cmd ReconcilePaymentCommand) (OrderDetails, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderDetails{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	transactionID := strings.TrimSpace(cmd.TransactionID)

	now := s.now()
	var (
		order   Order
		prev    domain.OrderStatus
		expired bool
		replay  bool
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		order = loaded
		prev = order.Status

		if order.Payment == nil {
			return fmt.Errorf("%w: order %s has no payment", ErrOrderInvalidState, order.ID)
		}

		// Replayed callback for an already-settled transaction is a no-op.
		if transactionID != "" &&
			order.Payment.TransactionID != nil && *order.Payment.TransactionID == transactionID &&
			order.Payment.Status != domain.PaymentStatusPending {
			replay = true
			return nil
		}

		if order.Status != domain.OrderStatusPaymentPending {
			return fmt.Errorf("%w: cannot reconcile payment from %s", ErrOrderInvalidState, order.Status)
		}

		if s.isOverdue(order, now) {
			expired = true
			s.expireInPlace(&order, now)
			return s.mapRepositoryError(s.orders.Update(txCtx, order))
		}

		if transactionID != "" {
			order.Payment.TransactionID = &transactionID
		}
		if raw := strings.TrimSpace(cmd.RawResponse); raw != "" {
			order.Payment.GatewayResponse = &raw
		}

		switch strings.ToUpper(strings.TrimSpace(cmd.GatewayStatus)) {
		case "SUCCESS":
			return s.settlePayment(txCtx, &order, nil, now, domain.OrderStatusPreparing)
		case "FAILURE":
			s.payments.markFailed(&order)
		default:
			// PENDING, SUBMITTED, and anything unrecognised keep the window open.
			s.payments.resetPending(&order)
		}
		order.UpdatedAt = now
		return s.mapRepositoryError(s.orders.Update(txCtx, order))
	})
	if err != nil {
		return OrderDetails{Order: order}, err
	}
	if replay {
		return OrderDetails{Order: order, Queue: s.queueEstimate(ctx, order)}, nil
	}
	if expired {
		s.publishEvent(ctx, orderEvent(domain.OrderEventPaymentExpired, order, string(prev), "", now))
		return OrderDetails{Order: order}, fmt.Errorf("%w: order %s", ErrPaymentWindowExpired, order.ID)
	}

	s.publishEvent(ctx, orderEvent(domain.OrderEventStatusChanged, order, string(prev), "", now))
	return OrderDetails{Order: order, Queue: s.queueEstimate(ctx, order)}, nil
}

func (s *orderService) Advance(ctx context.Context, cmd AdvanceOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		return Order{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}
	target := cmd.TargetStatus
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	now := s.now()
	var (
		order Order
		prev  domain.OrderStatus
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		order = loaded
		prev = order.Status

		if !slices.Contains(advanceTargets[order.Status], target) {
			return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, target)
		}

		if target == domain.OrderStatusCollected {
			if order.PickupCode == nil || *order.PickupCode != strings.TrimSpace(cmd.PickupCode) {
				return fmt.Errorf("%w: order %s", ErrPickupCodeMismatch, order.ID)
			}
		}

		if err := s.applyStatusTransition(&order, target, valuePtr(actor), now); err != nil {
			return err
		}

		// Counter payments settle when the student picks up the order.
		if target == domain.OrderStatusCollected &&
			order.Payment != nil &&
			order.Payment.Method == domain.PaymentMethodCounter &&
			order.Payment.Status == domain.PaymentStatusPending {
			s.payments.markSuccess(&order, now)
		}

		return s.mapRepositoryError(s.orders.Update(txCtx, order))
	})
	if err != nil {
		return order, err
	}

	s.publishEvent(ctx, orderEvent(domain.OrderEventStatusChanged, order, string(prev), actor, now))
	return order, nil
}

func (s *orderService) CancelFailedPayment(ctx context.Context, cmd CancelFailedPaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		return Order{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}

	now := s.now()
	var (
		order Order
		prev  domain.OrderStatus
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		order = loaded
		prev = order.Status

		if order.Status != domain.OrderStatusPaymentPending {
			return fmt.Errorf("%w: cannot cancel from %s", ErrOrderInvalidState, order.Status)
		}
		if order.Payment == nil || order.Payment.Status != domain.PaymentStatusFailed {
			return fmt.Errorf("%w: order %s", ErrPaymentNotFailed, order.ID)
		}

		// Closes as a staff decline. The transition table has no
		// PAYMENT_PENDING -> DECLINED edge; this path is the one sanctioned
		// bypass, and the payment keeps its FAILED record.
		current := order.Status
		order.Status = domain.OrderStatusDeclined
		order.DeclineReason = valuePtr(cancelFailedReason)
		order.CancelledAt = &now
		order.UpdatedAt = now
		order.Events = append(order.Events, domain.OrderStatusEvent{
			From:      &current,
			To:        domain.OrderStatusDeclined,
			ActorID:   valuePtr(actor),
			CreatedAt: now,
		})

		return s.mapRepositoryError(s.orders.Update(txCtx, order))
	})
	if err != nil {
		return order, err
	}

	s.publishEvent(ctx, orderEvent(domain.OrderEventStatusChanged, order, string(prev), actor, now))
	return order, nil
}

// ExpireOverdue cancels the order if and only if it is still awaiting payment
// past its deadline. The call is an idempotent no-op in every other state.
func (s *orderService) ExpireOverdue(ctx context.Context, orderID string) (Order, bool, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, false, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.now()
	var (
		order   Order
		prev    domain.OrderStatus
		changed bool
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		order = loaded
		prev = order.Status
		changed = false

		if !s.isOverdue(order, now) {
			return nil
		}

		changed = true
		s.expireInPlace(&order, now)
		return s.mapRepositoryError(s.orders.Update(txCtx, order))
	})
	if err != nil {
		return order, false, err
	}
	if changed {
		s.publishEvent(ctx, orderEvent(domain.OrderEventPaymentExpired, order, string(prev), "", now))
	}
	return order, changed, nil
}

// expireDueOrders sweeps lapsed payment windows before admission counting and
// listings. Best effort: failures are logged, never surfaced.
func (s *orderService) expireDueOrders(ctx context.Context, canteenID string) {
	overdue, err := s.orders.ListOverdue(ctx, canteenID, s.now(), s.overdueBatchSize)
	if err != nil {
		s.logger(ctx, "order.expiry.scan.failed", map[string]any{"canteen": canteenID, "error": err.Error()})
		return
	}
	for _, order := range overdue {
		if _, _, err := s.ExpireOverdue(ctx, order.ID); err != nil {
			s.logger(ctx, "order.expiry.failed", map[string]any{"order": order.ID, "error": err.Error()})
		}
	}
}

// settlePayment marks the payment successful, allocates the pickup code, and
// moves the order to the target status. Must run inside the caller's transaction.
func (s *orderService) settlePayment(txCtx context.Context, order *Order, actor *string, now time.Time, target domain.OrderStatus) error {
	code, err := s.codes.allocate(txCtx, order.CanteenID)
	if err != nil {
		return s.mapRepositoryError(err)
	}

	s.payments.markSuccess(order, now)
	order.PickupCode = &code

	if err := s.applyStatusTransition(order, target, actor, now); err != nil {
		return err
	}
	return s.mapRepositoryError(s.orders.Update(txCtx, *order))
}

// queueEstimate attaches the live queue position after settlement. Best
// effort: estimation failures are logged and reported as an empty estimate.
func (s *orderService) queueEstimate(ctx context.Context, order Order) QueueInfo {
	canteen, err := s.loadCanteen(ctx, order.CanteenID)
	if err != nil {
		s.logger(ctx, "order.queue.estimate.failed", map[string]any{"order": order.ID, "error": err.Error()})
		return QueueInfo{}
	}
	queue, err := s.estimator.estimate(ctx, order, canteen)
	if err != nil {
		s.logger(ctx, "order.queue.estimate.failed", map[string]any{"order": order.ID, "error": err.Error()})
		return QueueInfo{}
	}
	return queue
}

// expireInPlace applies the timeout cancellation to the loaded aggregate.
func (s *orderService) expireInPlace(order *Order, now time.Time) {
	current := order.Status
	order.Status = domain.OrderStatusCancelledTimeout
	order.CancelledAt = &now
	order.UpdatedAt = now
	s.payments.markExpired(order)
	order.Events = append(order.Events, domain.OrderStatusEvent{
		From:      &current,
		To:        domain.OrderStatusCancelledTimeout,
		CreatedAt: now,
	})
}

func (s *orderService) isOverdue(order Order, now time.Time) bool {
	return order.Status == domain.OrderStatusPaymentPending &&
		order.PaymentExpiresAt != nil &&
		now.After(*order.PaymentExpiresAt)
}

// applyStatusTransition validates the move against the transition table,
// updates lifecycle timestamps, and appends exactly one status event.
func (s *orderService) applyStatusTransition(order *Order, target domain.OrderStatus, actor *string, now time.Time) error {
	current := order.Status
	if !canTransition(current, target) {
		return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, current, target)
	}

	order.Status = target
	order.UpdatedAt = now
	s.updateTimestamps(order, target, now)

	order.Events = append(order.Events, domain.OrderStatusEvent{
		From:      &current,
		To:        target,
		ActorID:   actor,
		CreatedAt: now,
	})
	return nil
}

func (s *orderService) updateTimestamps(order *Order, status domain.OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusCollected:
		order.CollectedAt = &now
	case domain.OrderStatusDeclined, domain.OrderStatusCancelledTimeout:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}
}

func (s *orderService) loadCanteen(ctx context.Context, canteenID string) (Canteen, error) {
	canteen, err := s.canteens.FindByID(ctx, canteenID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Canteen{}, fmt.Errorf("%w: %s", ErrCanteenNotFound, canteenID)
		}
		return Canteen{}, s.mapRepositoryError(err)
	}
	return canteen, nil
}

func (s *orderService) buildLines(ctx context.Context, canteenID string, requested []SubmitOrderLine) ([]OrderLine, int64, error) {
	lines := make([]OrderLine, 0, len(requested))
	seen := make(map[string]struct{}, len(requested))
	var total int64
	for _, req := range requested {
		itemID := strings.TrimSpace(req.MenuItemID)
		if itemID == "" {
			return nil, 0, fmt.Errorf("%w: menu item id is required", ErrOrderInvalidInput)
		}
		if _, dup := seen[itemID]; dup {
			return nil, 0, fmt.Errorf("%w: duplicate menu item %s", ErrOrderInvalidInput, itemID)
		}
		seen[itemID] = struct{}{}
		if req.Quantity < 1 {
			return nil, 0, fmt.Errorf("%w: quantity for %s must be at least 1", ErrOrderInvalidInput, itemID)
		}

		item, err := s.menuItems.FindByID(ctx, canteenID, itemID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return nil, 0, fmt.Errorf("%w: menu item %s not found", ErrOrderInvalidInput, itemID)
			}
			return nil, 0, s.mapRepositoryError(err)
		}
		if !item.Available {
			return nil, 0, fmt.Errorf("%w: menu item %s is unavailable", ErrOrderInvalidInput, itemID)
		}

		line := OrderLine{
			MenuItemID: item.ID,
			Name:       item.Name,
			Quantity:   req.Quantity,
			UnitPrice:  item.UnitPrice,
		}
		lines = append(lines, line)
		total += line.Subtotal()
	}
	return lines, total, nil
}

// generateOrderNumber yields YYYYMMDD-XXXX on the campus calendar date with a
// per-canteen daily sequence.
func (s *orderService) generateOrderNumber(ctx context.Context, canteenID string, now time.Time) (string, error) {
	date := now.In(istZone).Format("20060102")
	seq, err := s.counters.Next(ctx, fmt.Sprintf("orders:%s:%s", canteenID, date), 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d", date, seq), nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   string(event.Type),
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func orderEvent(eventType domain.OrderEventType, order Order, previous string, actor string, occurredAt time.Time) OrderEvent {
	return OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		CanteenID:      order.CanteenID,
		StudentID:      order.StudentID,
		PreviousStatus: previous,
		CurrentStatus:  string(order.Status),
		ActorID:        actor,
		OccurredAt:     occurredAt,
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func valuePtr[T any](v T) *T {
	return &v
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return false
	}
	return slices.Contains(orderStateTransitions[current], target)
}
