package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/campus-canteen/api/internal/domain"
	"github.com/campus-canteen/api/internal/repositories"
)

type stubOrderRepository struct {
	insert          func(ctx context.Context, order domain.Order) error
	update          func(ctx context.Context, order domain.Order) error
	findByID        func(ctx context.Context, orderID string) (domain.Order, error)
	list            func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	countActive     func(ctx context.Context, canteenID string) (int, error)
	pickupCodeInUse func(ctx context.Context, canteenID string, code string) (bool, error)
	countQueueAhead func(ctx context.Context, canteenID string, paidBefore time.Time, excludeOrderID string) (int, error)
	listOverdue     func(ctx context.Context, canteenID string, now time.Time, limit int) ([]domain.Order, error)
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if s.insert == nil {
		return nil
	}
	return s.insert(ctx, order)
}

func (s *stubOrderRepository) Update(ctx context.Context, order domain.Order) error {
	if s.update == nil {
		return nil
	}
	return s.update(ctx, order)
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findByID == nil {
		return domain.Order{}, errors.New("findByID not stubbed")
	}
	return s.findByID(ctx, orderID)
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.list == nil {
		return domain.CursorPage[domain.Order]{}, nil
	}
	return s.list(ctx, filter)
}

func (s *stubOrderRepository) CountActive(ctx context.Context, canteenID string) (int, error) {
	if s.countActive == nil {
		return 0, nil
	}
	return s.countActive(ctx, canteenID)
}

func (s *stubOrderRepository) PickupCodeInUse(ctx context.Context, canteenID string, code string) (bool, error) {
	if s.pickupCodeInUse == nil {
		return false, nil
	}
	return s.pickupCodeInUse(ctx, canteenID, code)
}

func (s *stubOrderRepository) CountQueueAhead(ctx context.Context, canteenID string, paidBefore time.Time, excludeOrderID string) (int, error) {
	if s.countQueueAhead == nil {
		return 0, nil
	}
	return s.countQueueAhead(ctx, canteenID, paidBefore, excludeOrderID)
}

func (s *stubOrderRepository) ListOverdue(ctx context.Context, canteenID string, now time.Time, limit int) ([]domain.Order, error) {
	if s.listOverdue == nil {
		return nil, nil
	}
	return s.listOverdue(ctx, canteenID, now, limit)
}

type stubCanteenRepository struct {
	findByID func(ctx context.Context, canteenID string) (domain.Canteen, error)
	list     func(ctx context.Context) ([]domain.Canteen, error)
}

func (s *stubCanteenRepository) FindByID(ctx context.Context, canteenID string) (domain.Canteen, error) {
	if s.findByID == nil {
		return domain.Canteen{}, errors.New("findByID not stubbed")
	}
	return s.findByID(ctx, canteenID)
}

func (s *stubCanteenRepository) List(ctx context.Context) ([]domain.Canteen, error) {
	if s.list == nil {
		return nil, nil
	}
	return s.list(ctx)
}

type stubMenuItemRepository struct {
	findByID      func(ctx context.Context, canteenID string, itemID string) (domain.MenuItem, error)
	listByCanteen func(ctx context.Context, canteenID string) ([]domain.MenuItem, error)
}

func (s *stubMenuItemRepository) FindByID(ctx context.Context, canteenID string, itemID string) (domain.MenuItem, error) {
	if s.findByID == nil {
		return domain.MenuItem{}, errors.New("findByID not stubbed")
	}
	return s.findByID(ctx, canteenID, itemID)
}

func (s *stubMenuItemRepository) ListByCanteen(ctx context.Context, canteenID string) ([]domain.MenuItem, error) {
	if s.listByCanteen == nil {
		return nil, nil
	}
	return s.listByCanteen(ctx, canteenID)
}

type stubCounterRepository struct {
	next      func(ctx context.Context, counterID string, step int64) (int64, error)
	configure func(ctx context.Context, counterID string, cfg repositories.CounterConfig) error
}

func (s *stubCounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.next == nil {
		return 1, nil
	}
	return s.next(ctx, counterID, step)
}

func (s *stubCounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	if s.configure == nil {
		return nil
	}
	return s.configure(ctx, counterID, cfg)
}

type capturingPublisher struct {
	events []OrderEvent
	err    error
}

func (p *capturingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.events = append(p.events, event)
	return p.err
}

type notFoundError struct{}

func (notFoundError) Error() string       { return "not found" }
func (notFoundError) IsNotFound() bool    { return true }
func (notFoundError) IsConflict() bool    { return false }
func (notFoundError) IsUnavailable() bool { return false }

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func testCanteen() domain.Canteen {
	return domain.Canteen{
		ID:              "cnt_main",
		Name:            "Main Canteen",
		AvgPrepMinutes:  5,
		PayeeVPA:        "canteen@upi",
		MaxActiveOrders: 10,
		IsActive:        true,
		AcceptingOrders: true,
	}
}

func testMenu() map[string]domain.MenuItem {
	return map[string]domain.MenuItem{
		"itm_tea": {
			ID:        "itm_tea",
			CanteenID: "cnt_main",
			Name:      "Masala Tea",
			UnitPrice: 2000,
			Available: true,
		},
		"itm_samosa": {
			ID:        "itm_samosa",
			CanteenID: "cnt_main",
			Name:      "Samosa",
			UnitPrice: 2000,
			Available: true,
		},
	}
}

type orderServiceFixture struct {
	orders    *stubOrderRepository
	canteens  *stubCanteenRepository
	menuItems *stubMenuItemRepository
	counters  *stubCounterRepository
	publisher *capturingPublisher
	logger    func(context.Context, string, map[string]any)
}

func newTestOrderService(t *testing.T, fixture *orderServiceFixture) OrderService {
	t.Helper()

	if fixture.orders == nil {
		fixture.orders = &stubOrderRepository{}
	}
	if fixture.canteens == nil {
		canteen := testCanteen()
		fixture.canteens = &stubCanteenRepository{
			findByID: func(_ context.Context, canteenID string) (domain.Canteen, error) {
				if canteenID != canteen.ID {
					return domain.Canteen{}, notFoundError{}
				}
				return canteen, nil
			},
		}
	}
	if fixture.menuItems == nil {
		menu := testMenu()
		fixture.menuItems = &stubMenuItemRepository{
			findByID: func(_ context.Context, _ string, itemID string) (domain.MenuItem, error) {
				item, ok := menu[itemID]
				if !ok {
					return domain.MenuItem{}, notFoundError{}
				}
				return item, nil
			},
		}
	}
	if fixture.counters == nil {
		fixture.counters = &stubCounterRepository{}
	}
	if fixture.publisher == nil {
		fixture.publisher = &capturingPublisher{}
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      fixture.orders,
		Canteens:    fixture.canteens,
		MenuItems:   fixture.menuItems,
		Counters:    fixture.counters,
		Clock:       func() time.Time { return testNow },
		IDGenerator: func() string { return "01testorder" },
		RandInt:     func(int) int { return 7 },
		Events:      fixture.publisher,
		Logger:      fixture.logger,
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}
	return svc
}

func pendingOnlineOrder() domain.Order {
	accepted := testNow.Add(-time.Minute)
	expiry := testNow.Add(9 * time.Minute)
	return domain.Order{
		ID:          "ord_pending",
		OrderNumber: "20250310-0001",
		CanteenID:   "cnt_main",
		StudentID:   "stu_1",
		Status:      domain.OrderStatusPaymentPending,
		TotalAmount: 6000,
		Lines: []domain.OrderLine{
			{MenuItemID: "itm_tea", Name: "Masala Tea", Quantity: 3, UnitPrice: 2000},
		},
		Payment: &domain.Payment{
			Method:    domain.PaymentMethodOnline,
			Status:    domain.PaymentStatusPending,
			Amount:    6000,
			Payload:   "upi://pay?pa=canteen@upi&am=60.00&cu=INR&tn=Order%20ord_pending",
			CreatedAt: testNow.Add(-2 * time.Minute),
		},
		PaymentExpiresAt: &expiry,
		AcceptedAt:       &accepted,
		CreatedAt:        testNow.Add(-2 * time.Minute),
		UpdatedAt:        accepted,
	}
}

func TestSubmitOnlineOrder(t *testing.T) {
	var inserted *domain.Order
	fixture := &orderServiceFixture{
		orders: &stubOrderRepository{
			insert: func(_ context.Context, order domain.Order) error {
				inserted = &order
				return nil
			},
		},
		counters: &stubCounterRepository{
			next: func(_ context.Context, counterID string, step int64) (int64, error) {
				if counterID != "orders:cnt_main:20250310" {
					t.Errorf("unexpected counter id: %s", counterID)
				}
				if step != 1 {
					t.Errorf("unexpected counter step: %d", step)
				}
				return 1, nil
			},
		},
		publisher: &capturingPublisher{},
	}
	svc := newTestOrderService(t, fixture)

	order, err := svc.Submit(context.Background(), SubmitOrderCommand{
		StudentID:     "stu_1",
		CanteenID:     "cnt_main",
		PaymentMethod: "UPI_QR",
		Lines: []SubmitOrderLine{
			{MenuItemID: "itm_tea", Quantity: 2},
			{MenuItemID: "itm_samosa", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	if order.ID != "ord_01testorder" {
		t.Errorf("unexpected order id: %s", order.ID)
	}
	if order.OrderNumber != "20250310-0001" {
		t.Errorf("unexpected order number: %s", order.OrderNumber)
	}
	if order.Status != domain.OrderStatusRequested {
		t.Errorf("unexpected status: %s", order.Status)
	}
	if order.TotalAmount != 6000 {
		t.Errorf("unexpected total: %d", order.TotalAmount)
	}
	if order.Payment == nil {
		t.Fatal("expected embedded payment record")
	}
	if order.Payment.Method != domain.PaymentMethodOnline {
		t.Errorf("expected UPI_QR to normalise to ONLINE, got %s", order.Payment.Method)
	}
	if order.Payment.Status != domain.PaymentStatusPending {
		t.Errorf("unexpected payment status: %s", order.Payment.Status)
	}
	wantPayload := "upi://pay?pa=canteen@upi&am=60.00&cu=INR&tn=Order%20ord_01testorder"
	if order.Payment.Payload != wantPayload {
		t.Errorf("unexpected payment payload: %s", order.Payment.Payload)
	}
	if len(order.Events) != 1 {
		t.Fatalf("expected one status event, got %d", len(order.Events))
	}
	if order.Events[0].From != nil || order.Events[0].To != domain.OrderStatusRequested {
		t.Errorf("unexpected creation event: %+v", order.Events[0])
	}
	if order.Events[0].ActorID == nil || *order.Events[0].ActorID != "stu_1" {
		t.Errorf("expected creation event actor stu_1, got %v", order.Events[0].ActorID)
	}

	if inserted == nil {
		t.Fatal("expected order to be inserted")
	}
	if inserted.OrderNumber != "20250310-0001" {
		t.Errorf("inserted order number mismatch: %s", inserted.OrderNumber)
	}

	if len(fixture.publisher.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(fixture.publisher.events))
	}
	event := fixture.publisher.events[0]
	if event.Type != domain.OrderEventCreated {
		t.Errorf("unexpected event type: %s", event.Type)
	}
	if event.CurrentStatus != string(domain.OrderStatusRequested) {
		t.Errorf("unexpected event status: %s", event.CurrentStatus)
	}
}

func TestSubmitCounterOrderUsesMarkerPayload(t *testing.T) {
	fixture := &orderServiceFixture{}
	svc := newTestOrderService(t, fixture)

	order, err := svc.Submit(context.Background(), SubmitOrderCommand{
		StudentID:     "stu_1",
		CanteenID:     "cnt_main",
		PaymentMethod: "counter",
		Lines:         []SubmitOrderLine{{MenuItemID: "itm_tea", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if order.Payment.Method != domain.PaymentMethodCounter {
		t.Errorf("unexpected payment method: %s", order.Payment.Method)
	}
	if order.Payment.Payload != "COUNTER_PAYMENT" {
		t.Errorf("unexpected payload: %s", order.Payment.Payload)
	}
}

func TestSubmitRejectsUnknownMenuItem(t *testing.T) {
	svc := newTestOrderService(t, &orderServiceFixture{})

	_, err := svc.Submit(context.Background(), SubmitOrderCommand{
		StudentID:     "stu_1",
		CanteenID:     "cnt_main",
		PaymentMethod: "ONLINE",
		Lines:         []SubmitOrderLine{{MenuItemID: "itm_ghost", Quantity: 1}},
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestSubmitRejectsUnsupportedPaymentMethod(t *testing.T) {
	svc := newTestOrderService(t, &orderServiceFixture{})

	_, err := svc.Submit(context.Background(), SubmitOrderCommand{
		StudentID:     "stu_1",
		CanteenID:     "cnt_main",
		PaymentMethod: "CARD",
		Lines:         []SubmitOrderLine{{MenuItemID: "itm_tea", Quantity: 1}},
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestSubmitCanteenClosed(t *testing.T) {
	closed := testCanteen()
	closed.AcceptingOrders = false
	svc := newTestOrderService(t, &orderServiceFixture{
		canteens: &stubCanteenRepository{
			findByID: func(context.Context, string) (domain.Canteen, error) {
				return closed, nil
			},
		},
	})

	_, err := svc.Submit(context.Background(), SubmitOrderCommand{
		StudentID:     "stu_1",
		CanteenID:     "cnt_main",
		PaymentMethod: "ONLINE",
		Lines:         []SubmitOrderLine{{MenuItemID: "itm_tea", Quantity: 1}},
	})
	if !errors.Is(err, ErrCanteenClosed) {
		t.Fatalf("expected ErrCanteenClosed, got %v", err)
	}
}

func TestSubmitCapacityExceeded(t *testing.T) {
	inserts := 0
	svc := newTestOrderService(t, &orderServiceFixture{
		orders: &stubOrderRepository{
			countActive: func(context.Context, string) (int, error) { return 10, nil },
			insert: func(context.Context, domain.Order) error {
				inserts++
				return nil
			},
		},
	})

	_, err := svc.Submit(context.Background(), SubmitOrderCommand{
		StudentID:     "stu_1",
		CanteenID:     "cnt_main",
		PaymentMethod: "ONLINE",
		Lines:         []SubmitOrderLine{{MenuItemID: "itm_tea", Quantity: 1}},
	})
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if inserts != 0 {
		t.Errorf("expected no insert, got %d", inserts)
	}
}

func TestSubmitRejectsDuplicateMenuItems(t *testing.T) {
	inserts := 0
	svc := newTestOrderService(t, &orderServiceFixture{
		orders: &stubOrderRepository{
			insert: func(context.Context, domain.Order) error {
				inserts++
				return nil
			},
		},
	})

	_, err := svc.Submit(context.Background(), SubmitOrderCommand{
		StudentID:     "stu_1",
		CanteenID:     "cnt_main",
		PaymentMethod: "ONLINE",
		Lines: []SubmitOrderLine{
			{MenuItemID: "itm_tea", Quantity: 1},
			{MenuItemID: "itm_samosa", Quantity: 2},
			{MenuItemID: "itm_tea", Quantity: 1},
		},
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for repeated line items, got %v", err)
	}
	if inserts != 0 {
		t.Errorf("expected no insert, got %d", inserts)
	}
}

func TestAcceptOnlineOpensPaymentWindow(t *testing.T) {
	stored := domain.Order{
		ID:        "ord_req",
		CanteenID: "cnt_main",
		StudentID: "stu_1",
		Status:    domain.OrderStatusRequested,
		Payment: &domain.Payment{
			Method: domain.PaymentMethodOnline,
			Status: domain.PaymentStatusPending,
		},
	}
	var updated *domain.Order
	fixture := &orderServiceFixture{
		orders: &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return stored, nil },
			update: func(_ context.Context, order domain.Order) error {
				updated = &order
				return nil
			},
		},
		publisher: &capturingPublisher{},
	}
	svc := newTestOrderService(t, fixture)

	order, err := svc.Accept(context.Background(), AcceptOrderCommand{OrderID: "ord_req", ActorID: "staff_1"})
	if err != nil {
		t.Fatalf("Accept returned error: %v", err)
	}

	if order.Status != domain.OrderStatusPaymentPending {
		t.Errorf("unexpected status: %s", order.Status)
	}
	if order.AcceptedAt == nil || !order.AcceptedAt.Equal(testNow) {
		t.Errorf("expected accepted at %s, got %v", testNow, order.AcceptedAt)
	}
	wantExpiry := testNow.Add(10 * time.Minute)
	if order.PaymentExpiresAt == nil || !order.PaymentExpiresAt.Equal(wantExpiry) {
		t.Errorf("expected payment window to close at %s, got %v", wantExpiry, order.PaymentExpiresAt)
	}
	if updated == nil {
		t.Fatal("expected update to be persisted")
	}
	if len(fixture.publisher.events) != 1 || fixture.publisher.events[0].Type != domain.OrderEventStatusChanged {
		t.Fatalf("expected one status change event, got %+v", fixture.publisher.events)
	}
	if fixture.publisher.events[0].PreviousStatus != string(domain.OrderStatusRequested) {
		t.Errorf("unexpected previous status: %s", fixture.publisher.events[0].PreviousStatus)
	}
}

func TestAcceptCounterSkipsPaymentWindow(t *testing.T) {
	stored := domain.Order{
		ID:        "ord_counter",
		CanteenID: "cnt_main",
		StudentID: "stu_1",
		Status:    domain.OrderStatusRequested,
		Payment: &domain.Payment{
			Method:  domain.PaymentMethodCounter,
			Status:  domain.PaymentStatusPending,
			Payload: "COUNTER_PAYMENT",
		},
	}
	var updated *domain.Order
	svc := newTestOrderService(t, &orderServiceFixture{
		orders: &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return stored, nil },
			update: func(_ context.Context, order domain.Order) error {
				updated = &order
				return nil
			},
		},
	})

	order, err := svc.Accept(context.Background(), AcceptOrderCommand{OrderID: "ord_counter", ActorID: "staff_1"})
	if err != nil {
		t.Fatalf("Accept returned error: %v", err)
	}

	if order.Status != domain.OrderStatusPreparing {
		t.Errorf("expected counter accept to start preparation, got %s", order.Status)
	}
	if order.PaymentExpiresAt != nil {
		t.Errorf("expected no payment window for counter orders, got %v", order.PaymentExpiresAt)
	}
	if order.PickupCode == nil || *order.PickupCode != "0007" {
		t.Errorf("expected pickup code 0007, got %v", order.PickupCode)
	}
	if order.Payment.Status != domain.PaymentStatusSuccess {
		t.Errorf("unexpected payment status: %s", order.Payment.Status)
	}
	if order.PaidAt == nil || !order.PaidAt.Equal(testNow) {
		t.Errorf("expected paid at %s, got %v", testNow, order.PaidAt)
	}
	if updated == nil {
		t.Fatal("expected update to be persisted")
	}
}

func TestAcceptBackfillsMissingPayment(t *testing.T) {
	stored := domain.Order{
		ID:          "ord_legacy",
		CanteenID:   "cnt_main",
		StudentID:   "stu_1",
		Status:      domain.OrderStatusRequested,
		TotalAmount: 6000,
	}
	var updated *domain.Order
	svc := newTestOrderService(t, &orderServiceFixture{
		orders: &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return stored, nil },
			update: func(_ context.Context, order domain.Order) error {
				updated = &order
				return nil
			},
		},
	})

	order, err := svc.Accept(context.Background(), AcceptOrderCommand{OrderID: "ord_legacy", ActorID: "staff_1"})
	if err != nil {
		t.Fatalf("Accept returned error: %v", err)
	}

	if order.Status != domain.OrderStatusPaymentPending {
		t.Errorf("unexpected status: %s", order.Status)
	}
	if order.Payment == nil {
		t.Fatal("expected the payment record to be backfilled")
	}
	if order.Payment.Method != domain.PaymentMethodOnline || order.Payment.Status != domain.PaymentStatusPending {
		t.Errorf("unexpected backfilled payment %+v", order.Payment)
	}
	if order.Payment.Amount != 6000 {
		t.Errorf("expected payment amount 6000, got %d", order.Payment.Amount)
	}
	want := "upi://pay?pa=canteen@upi&am=60.00&cu=INR&tn=Order%20ord_legacy"
	if order.Payment.Payload != want {
		t.Errorf("unexpected payload %q", order.Payment.Payload)
	}
	if updated == nil || updated.Payment == nil {
		t.Fatal("expected the backfilled payment to be persisted")
	}
}

func TestAcceptRejectsNonRequestedOrder(t *testing.T) {
	stored := pendingOnlineOrder()
	svc := newTestOrderService(t, &orderServiceFixture{
		orders: &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return stored, nil },
		},
	})

	_, err := svc.Accept(context.Background(), AcceptOrderCommand{OrderID: stored.ID, ActorID: "staff_1"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestDeclineRequiresReason(t *testing.T) {
	svc := newTestOrderService(t, &orderServiceFixture{})

	_, err := svc.Decline(context.Background(), DeclineOrderCommand{OrderID: "ord_req", ActorID: "staff_1"})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestDeclineRecordsReason(t *testing.T) {
	stored := domain.Order{
		ID:        "ord_req",
		CanteenID: "cnt_main",
		StudentID: "stu_1",
		Status:    domain.OrderStatusRequested,
	}
	svc := newTestOrderService(t, &orderServiceFixture{
		orders: &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return stored, nil },
		},
	})

	order, err := svc.Decline(context.Background(), DeclineOrderCommand{
		OrderID: "ord_req",
		ActorID: "staff_1",
		Reason:  "out of stock",
	})
	if err != nil {
		t.Fatalf("Decline returned error: %v", err)
	}
	if order.Status != domain.OrderStatusDeclined {
		t.Errorf("unexpected status: %s", order.Status)
	}
	if order.DeclineReason == nil || *order.DeclineReason != "out of stock" {
		t.Errorf("unexpected decline reason: %v", order.DeclineReason)
	}
	if order.CancelledAt == nil {
		t.Error("expected cancelled timestamp to be set")
	}
}

func TestConfirmPaymentSettlesToPaid(t *testing.T) {
	stored := pendingOnlineOrder()
	var updated *domain.Order
	fixture := &orderServiceFixture{
		orders: &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return stored, nil },
			update: func(_ context.Context, order domain.Order) error {
				updated = &order
				return nil
			},
		},
		publisher: &capturingPublisher{},
	}
	svc := newTestOrderService(t, fixture)

	details, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{OrderID: stored.ID, ActorID: "stu_1"})
	if err != nil {
		t.Fatalf("ConfirmPayment returned error: %v", err)
	}

	order := details.Order
	if order.Status != domain.OrderStatusPaid {
		t.Errorf("unexpected status: %s", order.Status)
	}
	if order.Payment.Status != domain.PaymentStatusSuccess {
		t.Errorf("unexpected payment status: %s", order.Payment.Status)
	}
	if order.PickupCode == nil || *order.PickupCode != "0007" {
		t.Errorf("expected pickup code 0007, got %v", order.PickupCode)
	}
	if updated == nil {
		t.Fatal("expected update to be persisted")
	}
	if len(fixture.publisher.events) != 1 || fixture.publisher.events[0].Type != domain.OrderEventStatusChanged {
		t.Fatalf("expected one status change event, got %+v", fixture.publisher.events)
	}
	if details.Queue.Position != 1 || details.Queue.EstimatedMinutes != 5 {
		t.Errorf("expected the settled order first in queue, got %+v", details.Queue)
	}
}

func TestConfirmPaymentAfterDeadline(t *testing.T) {
	stored := pendingOnlineOrder()
	lapsed := testNow.Add(-time.Second)
	stored.PaymentExpiresAt = &lapsed

	var updated *domain.Order
	fixture := &orderServiceFixture{
		orders: &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return stored, nil },
			update: func(_ context.Context, order domain.Order) error {
				updated = &order
				return nil
			},
		},
		publisher: &capturingPublisher{},
	}
	svc := newTestOrderService(t, fixture)

	details, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{OrderID: stored.ID, ActorID: "stu_1"})
	if !errors.Is(err, ErrPaymentWindowExpired) {
		t.Fatalf("expected ErrPaymentWindowExpired, got %v", err)
	}

	order := details.Order
	if order.Status != domain.OrderStatusCancelledTimeout {
		t.Errorf("unexpected status: %s", order.Status)
	}
	if order.Payment.Status != domain.PaymentStatusExpired {
		t.Errorf("unexpected payment status: %s", order.Payment.Status)
	}
	if updated == nil {
		t.Fatal("expected the expiry to be persisted despite the error")
	}
	if updated.Status != domain.OrderStatusCancelledTimeout {
		t.Errorf("persisted status mismatch: %s", updated.Status)
	}

	if len(fixture.publisher.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(fixture.publisher.events))
	}
	event := fixture.publisher.events[0]
	if event.Type != domain.OrderEventPaymentExpired {
		t.Errorf("unexpected event type: %s", event.Type)
	}
	if event.ActorID != "" {
		t.Errorf("expiry events are system-initiated, got actor %q", event.ActorID)
	}

	last := order.Events[len(order.Events)-1]
	if last.ActorID != nil {
		t.Errorf("expected nil actor on expiry event, got %v", last.ActorID)
	}
}

func TestReconcileSuccessMovesToPreparing(t *testing.T) {
	stored := pendingOnlineOrder()
	var updated *domain.Order
	svc := newTestOrderService(t, &orderServiceFixture{
		orders: &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return stored, nil },
			update: func(_ context.Context, order domain.Order) error {
				updated = &order
				return nil
			},
		},
	})

	details, err := svc.ReconcilePayment(context.Background(), ReconcilePaymentCommand{
		OrderID:       stored.ID,
		GatewayStatus: "SUCCESS",
		TransactionID: "txn_123",
		RawResponse:   `{"status":"SUCCESS"}`,
	})
	if err != nil {
		t.Fatalf("ReconcilePayment returned error: %v", err)
	}

	order := details.Order
	if order.Status != domain.OrderStatusPreparing {
		t.Errorf("expected gateway success to start preparation, got %s", order.Status)
	}
	if order.Payment.Status != domain.PaymentStatusSuccess {
		t.Errorf("unexpected payment status: %s", order.Payment.Status)
	}
	if order.Payment.TransactionID == nil || *order.Payment.TransactionID != "txn_123" {
		t.Errorf("unexpected transaction id: %v", order.Payment.TransactionID)
	}
	if order.PickupCode == nil {
		t.Error("expected pickup code to be allocated")
	}
	if updated == nil {
		t.Fatal("expected update to be persisted")
	}
	if details.Queue.Position != 1 || details.Queue.EstimatedMinutes != 5 {
		t.Errorf("expected the settled order first in queue, got %+v", details.Queue)
	}
}

func TestReconcileReplayIsNoOp(t *testing.T) {
	stored := pendingOnlineOrder()
	stored.Status = domain.OrderStatusPreparing
	txn := "txn_123"
	stored.Payment.Status = domain.PaymentStatusSuccess
	stored.Payment.TransactionID = &txn

	updates := 0
	fixture := &orderServiceFixture{
		orders: &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return stored, nil },
			update: func(context.Context, domain.Order) error {
				updates++
				return nil
			},
		},
		publisher: &capturingPublisher{},
	}
	svc := newTestOrderService(t, fixture)

	details, err := svc.ReconcilePayment(context.Background(), ReconcilePaymentCommand{
		OrderID:       stored.ID,
		GatewayStatus: "SUCCESS",
		TransactionID: "txn_123",
	})
	if err != nil {
		t.Fatalf("expected replayed callback to be a no-op, got %v", err)
	}
	if updates != 0 {
		t.Errorf("expected no update on replay, got %d", updates)
	}
	if len(fixture.publisher.events) != 0 {
		t.Errorf("expected no events on replay, got %d", len(fixture.publisher.events))
	}
	if details.Order.Status != domain.OrderStatusPreparing {
		t.Errorf("unexpected status: %s", details.Order.Status)
	}
}

func TestReconcileFailureKeepsWindowOpen(t *testing.T) {
	stored := pendingOnlineOrder()
	var updated *domain.Order
	svc := newTestOrderService(t, &orderServiceFixture{
		orders: &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return stored, nil },
			update: func(_ context.Context, order domain.Order) error {
				updated = &order
				return nil
			},
		},
	})

	details, err := svc.ReconcilePayment(context.Background(), ReconcilePaymentCommand{
		OrderID:       stored.ID,
		GatewayStatus: "FAILURE",
		TransactionID: "txn_999",
	})
	if err != nil {
		t.Fatalf("ReconcilePayment returned error: %v", err)
	}

	order := details.Order
	if order.Status != domain.OrderStatusPaymentPending {
		t.Errorf("failed payments must keep the window open, got %s", order.Status)
	}
	if order.Payment.Status != domain.PaymentStatusFailed {
		t.Errorf("unexpected payment status: %s", order.Payment.Status)
	}
	if updated == nil {
		t.Fatal("expected update to be persisted")
	}
}

func TestReconcileInconclusiveStatusStaysPending(t *testing.T) {
	stored := pendingOnlineOrder()
	svc := newTestOrderService(t, &orderServiceFixture{
		orders: &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return stored, nil },
		},
	})

	details, err := svc.ReconcilePayment(context.Background(), ReconcilePaymentCommand{
		OrderID:       stored.ID,
		GatewayStatus: "SUBMITTED",
	})
	if err != nil {
		t.Fatalf("ReconcilePayment returned error: %v", err)
	}
	if details.Order.Status != domain.OrderStatusPaymentPending {
		t.Errorf("unexpected status: %s", details.Order.Status)
	}
	if details.Order.Payment.Status != domain.PaymentStatusPending {
		t.Errorf("unexpected payment status: %s", details.Order.Payment.Status)
	}
}

func TestCancelFailedPaymentDeclinesOrder(t *testing.T) {
	stored := pendingOnlineOrder()
	stored.Payment.Status = domain.PaymentStatusFailed

	var updated *domain.Order
	svc := newTestOrderService(t, &orderServiceFixture{
		orders: &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return stored, nil },
			update: func(_ context.Context, order domain.Order) error {
				updated = &order
				return nil
			},
		},
	})

	order, err := svc.CancelFailedPayment(context.Background(), CancelFailedPaymentCommand{
		OrderID: stored.ID,
		ActorID: "staff_1",
	})
	if err != nil {
		t.Fatalf("CancelFailedPayment returned error: %v", err)
	}
	if order.Status != domain.OrderStatusDeclined {
		t.Errorf("unexpected status: %s", order.Status)
	}
	if order.DeclineReason == nil || *order.DeclineReason != "Payment failed - cancelled by admin" {
		t.Errorf("expected the system-authored decline reason, got %v", order.DeclineReason)
	}
	if order.Payment.Status != domain.PaymentStatusFailed {
		t.Errorf("payment must keep its failed record, got %s", order.Payment.Status)
	}
	if order.CancelledAt == nil || !order.CancelledAt.Equal(testNow) {
		t.Errorf("expected cancelled at %s, got %v", testNow, order.CancelledAt)
	}
	if updated == nil {
		t.Fatal("expected update to be persisted")
	}
	last := order.Events[len(order.Events)-1]
	if last.To != domain.OrderStatusDeclined || last.ActorID == nil || *last.ActorID != "staff_1" {
		t.Errorf("unexpected closing event %+v", last)
	}
}

func TestCancelFailedPaymentRejectsPendingPayment(t *testing.T) {
	stored := pendingOnlineOrder()
	svc := newTestOrderService(t, &orderServiceFixture{
		orders: &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return stored, nil },
		},
	})

	_, err := svc.CancelFailedPayment(context.Background(), CancelFailedPaymentCommand{
		OrderID: stored.ID,
		ActorID: "staff_1",
	})
	if !errors.Is(err, ErrPaymentNotFailed) {
		t.Fatalf("expected ErrPaymentNotFailed, got %v", err)
	}
}

func TestAdvancePreparingToReady(t *testing.T) {
	paidAt := testNow.Add(-5 * time.Minute)
	stored := pendingOnlineOrder()
	stored.Status = domain.OrderStatusPreparing
	stored.Payment.Status = domain.PaymentStatusSuccess
	stored.PaidAt = &paidAt
	code := "0042"
	stored.PickupCode = &code

	svc := newTestOrderService(t, &orderServiceFixture{
		orders: &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return stored, nil },
		},
	})

	order, err := svc.Advance(context.Background(), AdvanceOrderCommand{
		OrderID:      stored.ID,
		ActorID:      "staff_1",
		TargetStatus: domain.OrderStatusReady,
	})
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if order.Status != domain.OrderStatusReady {
		t.Errorf("unexpected status: %s", order.Status)
	}
}

func TestAdvanceCollectChecksPickupCode(t *testing.T) {
	stored := pendingOnlineOrder()
	stored.Status = domain.OrderStatusReady
	stored.Payment.Status = domain.PaymentStatusSuccess
	code := "0042"
	stored.PickupCode = &code

	svc := newTestOrderService(t, &orderServiceFixture{
		orders: &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return stored, nil },
		},
	})

	_, err := svc.Advance(context.Background(), AdvanceOrderCommand{
		OrderID:      stored.ID,
		ActorID:      "staff_1",
		TargetStatus: domain.OrderStatusCollected,
		PickupCode:   "9999",
	})
	if !errors.Is(err, ErrPickupCodeMismatch) {
		t.Fatalf("expected ErrPickupCodeMismatch, got %v", err)
	}

	order, err := svc.Advance(context.Background(), AdvanceOrderCommand{
		OrderID:      stored.ID,
		ActorID:      "staff_1",
		TargetStatus: domain.OrderStatusCollected,
		PickupCode:   "0042",
	})
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if order.Status != domain.OrderStatusCollected {
		t.Errorf("unexpected status: %s", order.Status)
	}
	if order.CollectedAt == nil || !order.CollectedAt.Equal(testNow) {
		t.Errorf("expected collected at %s, got %v", testNow, order.CollectedAt)
	}
}

func TestAdvanceCollectSettlesCounterPayment(t *testing.T) {
	stored := pendingOnlineOrder()
	stored.Status = domain.OrderStatusReady
	stored.Payment.Method = domain.PaymentMethodCounter
	stored.Payment.Status = domain.PaymentStatusPending
	code := "0042"
	stored.PickupCode = &code

	svc := newTestOrderService(t, &orderServiceFixture{
		orders: &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return stored, nil },
		},
	})

	order, err := svc.Advance(context.Background(), AdvanceOrderCommand{
		OrderID:      stored.ID,
		ActorID:      "staff_1",
		TargetStatus: domain.OrderStatusCollected,
		PickupCode:   "0042",
	})
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if order.Payment.Status != domain.PaymentStatusSuccess {
		t.Errorf("expected counter payment to settle on pickup, got %s", order.Payment.Status)
	}
	if order.PaidAt == nil {
		t.Error("expected paid timestamp on settlement")
	}
}

func TestAdvanceRejectsSkippingStates(t *testing.T) {
	stored := pendingOnlineOrder()
	stored.Status = domain.OrderStatusPreparing
	stored.Payment.Status = domain.PaymentStatusSuccess

	svc := newTestOrderService(t, &orderServiceFixture{
		orders: &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return stored, nil },
		},
	})

	_, err := svc.Advance(context.Background(), AdvanceOrderCommand{
		OrderID:      stored.ID,
		ActorID:      "staff_1",
		TargetStatus: domain.OrderStatusCollected,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestExpireOverdueIsIdempotent(t *testing.T) {
	stored := pendingOnlineOrder()
	updates := 0
	svc := newTestOrderService(t, &orderServiceFixture{
		orders: &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return stored, nil },
			update: func(context.Context, domain.Order) error {
				updates++
				return nil
			},
		},
	})
	expirer := svc.(OrderExpirer)

	_, changed, err := expirer.ExpireOverdue(context.Background(), stored.ID)
	if err != nil {
		t.Fatalf("ExpireOverdue returned error: %v", err)
	}
	if changed {
		t.Error("order inside its window must not expire")
	}
	if updates != 0 {
		t.Errorf("expected no update, got %d", updates)
	}
}

func TestGetOrderExpiresLapsedWindow(t *testing.T) {
	stored := pendingOnlineOrder()
	lapsed := testNow.Add(-time.Minute)
	stored.PaymentExpiresAt = &lapsed

	current := stored
	svc := newTestOrderService(t, &orderServiceFixture{
		orders: &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return current, nil },
			update: func(_ context.Context, order domain.Order) error {
				current = order
				return nil
			},
		},
	})

	details, err := svc.GetOrder(context.Background(), stored.ID)
	if err != nil {
		t.Fatalf("GetOrder returned error: %v", err)
	}
	if details.Order.Status != domain.OrderStatusCancelledTimeout {
		t.Errorf("expected read to surface the expired state, got %s", details.Order.Status)
	}
	if details.Queue.Position != 0 {
		t.Errorf("cancelled orders hold no queue slot, got position %d", details.Queue.Position)
	}
}

func TestGetOrderLogsFailedExpiry(t *testing.T) {
	stored := pendingOnlineOrder()
	lapsed := testNow.Add(-time.Minute)
	stored.PaymentExpiresAt = &lapsed

	var events []string
	svc := newTestOrderService(t, &orderServiceFixture{
		orders: &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return stored, nil },
			update: func(context.Context, domain.Order) error {
				return errors.New("firestore unavailable")
			},
		},
		logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	})

	details, err := svc.GetOrder(context.Background(), stored.ID)
	if err != nil {
		t.Fatalf("GetOrder returned error: %v", err)
	}
	if details.Order.Status != domain.OrderStatusPaymentPending {
		t.Errorf("read must still return the stored order, got %s", details.Order.Status)
	}

	logged := false
	for _, event := range events {
		if event == "order.expiry.failed" {
			logged = true
		}
	}
	if !logged {
		t.Errorf("expected order.expiry.failed to be logged, got %v", events)
	}
}

func TestGetOrderReportsQueuePosition(t *testing.T) {
	paidAt := testNow.Add(-3 * time.Minute)
	stored := pendingOnlineOrder()
	stored.Status = domain.OrderStatusPreparing
	stored.Payment.Status = domain.PaymentStatusSuccess
	stored.PaidAt = &paidAt

	svc := newTestOrderService(t, &orderServiceFixture{
		orders: &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return stored, nil },
			countQueueAhead: func(_ context.Context, canteenID string, paidBefore time.Time, excludeOrderID string) (int, error) {
				if canteenID != "cnt_main" {
					t.Errorf("unexpected canteen id: %s", canteenID)
				}
				if !paidBefore.Equal(paidAt) {
					t.Errorf("unexpected paid-before bound: %s", paidBefore)
				}
				if excludeOrderID != stored.ID {
					t.Errorf("unexpected exclusion: %s", excludeOrderID)
				}
				return 2, nil
			},
		},
	})

	details, err := svc.GetOrder(context.Background(), stored.ID)
	if err != nil {
		t.Fatalf("GetOrder returned error: %v", err)
	}
	if details.Queue.Position != 3 {
		t.Errorf("expected queue position 3, got %d", details.Queue.Position)
	}
	if details.Queue.EstimatedMinutes != 15 {
		t.Errorf("expected 15 minute estimate, got %d", details.Queue.EstimatedMinutes)
	}
}

func TestListOrdersSweepsOverdueFirst(t *testing.T) {
	overdue := pendingOnlineOrder()
	lapsed := testNow.Add(-time.Minute)
	overdue.PaymentExpiresAt = &lapsed

	current := overdue
	listed := false
	svc := newTestOrderService(t, &orderServiceFixture{
		orders: &stubOrderRepository{
			listOverdue: func(_ context.Context, canteenID string, _ time.Time, _ int) ([]domain.Order, error) {
				if listed {
					return nil, nil
				}
				if canteenID != "cnt_main" {
					t.Errorf("unexpected canteen filter: %s", canteenID)
				}
				return []domain.Order{overdue}, nil
			},
			findByID: func(context.Context, string) (domain.Order, error) { return current, nil },
			update: func(_ context.Context, order domain.Order) error {
				current = order
				return nil
			},
			list: func(_ context.Context, _ repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
				listed = true
				return domain.CursorPage[domain.Order]{Items: []domain.Order{current}}, nil
			},
		},
	})

	page, err := svc.ListOrders(context.Background(), OrderListFilter{CanteenID: "cnt_main"})
	if err != nil {
		t.Fatalf("ListOrders returned error: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected one order, got %d", len(page.Items))
	}
	if page.Items[0].Status != domain.OrderStatusCancelledTimeout {
		t.Errorf("expected listing to reflect the swept state, got %s", page.Items[0].Status)
	}
}
