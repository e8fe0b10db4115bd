package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/campus-canteen/api/internal/domain"
	pfirestore "github.com/campus-canteen/api/internal/platform/firestore"
	"github.com/campus-canteen/api/internal/platform/pagination"
	"github.com/campus-canteen/api/internal/repositories"
)

const ordersCollection = "orders"

// defaultOverdueScanLimit bounds a single sweep batch.
const defaultOverdueScanLimit = 100

type orderLineDocument struct {
	MenuItemID string `firestore:"menuItemId"`
	Name       string `firestore:"name"`
	Quantity   int    `firestore:"quantity"`
	UnitPrice  int64  `firestore:"unitPrice"`
}

type paymentDocument struct {
	Method          string     `firestore:"method"`
	Status          string     `firestore:"status"`
	Amount          int64      `firestore:"amount"`
	Payload         string     `firestore:"payload"`
	TransactionID   *string    `firestore:"transactionId,omitempty"`
	GatewayResponse *string    `firestore:"gatewayResponse,omitempty"`
	CreatedAt       time.Time  `firestore:"createdAt"`
	PaidAt          *time.Time `firestore:"paidAt,omitempty"`
}

type orderEventDocument struct {
	From      *string   `firestore:"from,omitempty"`
	To        string    `firestore:"to"`
	ActorID   *string   `firestore:"actorId,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type orderDocument struct {
	OrderNumber string               `firestore:"orderNumber"`
	CanteenID   string               `firestore:"canteenId"`
	StudentID   string               `firestore:"studentId"`
	Status      string               `firestore:"status"`
	TotalAmount int64                `firestore:"totalAmount"`
	Lines       []orderLineDocument  `firestore:"lines"`
	Payment     *paymentDocument     `firestore:"payment,omitempty"`
	Events      []orderEventDocument `firestore:"events"`

	PickupCode    *string `firestore:"pickupCode,omitempty"`
	DeclineReason *string `firestore:"declineReason,omitempty"`

	PaymentExpiresAt *time.Time `firestore:"paymentExpiresAt,omitempty"`
	AcceptedAt       *time.Time `firestore:"acceptedAt,omitempty"`
	PaidAt           *time.Time `firestore:"paidAt,omitempty"`
	CollectedAt      *time.Time `firestore:"collectedAt,omitempty"`
	CancelledAt      *time.Time `firestore:"cancelledAt,omitempty"`

	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// orderCursor keys the createdAt+id listing sort. Typed so the timestamp
// survives the token round trip as time.Time; a string against the createdAt
// OrderBy would misposition StartAfter under Firestore's type ordering.
type orderCursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

// OrderRepository implements repositories.OrderRepository on Firestore order
// aggregate documents. Methods join a transaction carried on the context.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
	}, nil
}

// Insert creates the order aggregate document. A conflict error is returned when the ID already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	ref, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	doc := encodeOrder(order)
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return pfirestore.WrapError("orders.insert", tx.Create(ref, doc))
	}
	_, err = ref.Create(ctx, doc)
	return pfirestore.WrapError("orders.insert", err)
}

// Update replaces the full aggregate document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	ref, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	doc := encodeOrder(order)
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return pfirestore.WrapError("orders.update", tx.Set(ref, doc))
	}
	_, err = ref.Set(ctx, doc)
	return pfirestore.WrapError("orders.update", err)
}

// FindByID loads the full aggregate.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	ref, err := r.orders.DocumentRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.get", err)
		}
		return decodeOrderSnapshot(snap)
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	return decodeOrderSnapshot(snap)
}

// List returns a filtered, newest-first page of orders.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	query := coll.Query
	if canteenID := strings.TrimSpace(filter.CanteenID); canteenID != "" {
		query = query.Where("canteenId", "==", canteenID)
	}
	if studentID := strings.TrimSpace(filter.StudentID); studentID != "" {
		query = query.Where("studentId", "==", studentID)
	}
	if len(filter.Status) > 0 {
		query = query.Where("status", "in", statusStrings(filter.Status))
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken[orderCursor](filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	if !cursor.CreatedAt.IsZero() {
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}
	query = query.Limit(pageSize + 1)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var (
		orders  []domain.Order
		lastDoc *firestore.DocumentSnapshot
	)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		if len(orders) == pageSize {
			lastDoc = snap
			break
		}
		order, err := decodeOrderSnapshot(snap)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		orders = append(orders, order)
	}

	page := domain.CursorPage[domain.Order]{Items: orders}
	if lastDoc != nil && len(orders) > 0 {
		last := orders[len(orders)-1]
		token, err := pagination.EncodeToken(orderCursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// CountActive counts the canteen's orders in admission-relevant states.
func (r *OrderRepository) CountActive(ctx context.Context, canteenID string) (int, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return 0, err
	}
	query := coll.Query.
		Where("canteenId", "==", strings.TrimSpace(canteenID)).
		Where("status", "in", statusStrings(domain.ActiveOrderStatuses)).
		Select()
	return r.countDocuments(ctx, query, "orders.count_active")
}

// PickupCodeInUse reports whether any uncollected order of the canteen holds the code.
func (r *OrderRepository) PickupCodeInUse(ctx context.Context, canteenID string, code string) (bool, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return false, err
	}
	uncollected := make([]string, 0, 7)
	for _, status := range []domain.OrderStatus{
		domain.OrderStatusRequested,
		domain.OrderStatusPaymentPending,
		domain.OrderStatusPaid,
		domain.OrderStatusPreparing,
		domain.OrderStatusReady,
		domain.OrderStatusDeclined,
		domain.OrderStatusCancelledTimeout,
	} {
		uncollected = append(uncollected, string(status))
	}
	query := coll.Query.
		Where("canteenId", "==", strings.TrimSpace(canteenID)).
		Where("pickupCode", "==", code).
		Where("status", "in", uncollected).
		Limit(1).
		Select()
	count, err := r.countDocuments(ctx, query, "orders.code_in_use")
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountQueueAhead counts successfully paid orders of the canteen queued before the given timestamp.
func (r *OrderRepository) CountQueueAhead(ctx context.Context, canteenID string, paidBefore time.Time, excludeOrderID string) (int, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return 0, err
	}
	query := coll.Query.
		Where("canteenId", "==", strings.TrimSpace(canteenID)).
		Where("status", "in", []string{string(domain.OrderStatusPaid), string(domain.OrderStatusPreparing)}).
		Where("payment.status", "==", string(domain.PaymentStatusSuccess)).
		Where("paidAt", "<", paidBefore)

	iter := r.documents(ctx, query)
	defer iter.Stop()

	count := 0
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return 0, pfirestore.WrapError("orders.count_queue_ahead", err)
		}
		if snap.Ref.ID == excludeOrderID {
			continue
		}
		count++
	}
	return count, nil
}

// ListOverdue returns PAYMENT_PENDING orders whose payment window closed before now.
func (r *OrderRepository) ListOverdue(ctx context.Context, canteenID string, now time.Time, limit int) ([]domain.Order, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultOverdueScanLimit
	}
	query := coll.Query.
		Where("status", "==", string(domain.OrderStatusPaymentPending)).
		Where("paymentExpiresAt", "<=", now)
	if canteenID = strings.TrimSpace(canteenID); canteenID != "" {
		query = query.Where("canteenId", "==", canteenID)
	}
	query = query.Limit(limit)

	iter := r.documents(ctx, query)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("orders.list_overdue", err)
		}
		order, err := decodeOrderSnapshot(snap)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (r *OrderRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(ordersCollection), nil
}

func (r *OrderRepository) documents(ctx context.Context, query firestore.Query) *firestore.DocumentIterator {
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return tx.Documents(query)
	}
	return query.Documents(ctx)
}

func (r *OrderRepository) countDocuments(ctx context.Context, query firestore.Query, op string) (int, error) {
	iter := r.documents(ctx, query)
	defer iter.Stop()

	count := 0
	for {
		_, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return 0, pfirestore.WrapError(op, err)
		}
		count++
	}
	return count, nil
}

func statusStrings(statuses []domain.OrderStatus) []string {
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}
	return values
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:      order.OrderNumber,
		CanteenID:        order.CanteenID,
		StudentID:        order.StudentID,
		Status:           string(order.Status),
		TotalAmount:      order.TotalAmount,
		PickupCode:       order.PickupCode,
		DeclineReason:    order.DeclineReason,
		PaymentExpiresAt: order.PaymentExpiresAt,
		AcceptedAt:       order.AcceptedAt,
		PaidAt:           order.PaidAt,
		CollectedAt:      order.CollectedAt,
		CancelledAt:      order.CancelledAt,
		CreatedAt:        order.CreatedAt,
		UpdatedAt:        order.UpdatedAt,
	}
	doc.Lines = make([]orderLineDocument, 0, len(order.Lines))
	for _, line := range order.Lines {
		doc.Lines = append(doc.Lines, orderLineDocument{
			MenuItemID: line.MenuItemID,
			Name:       line.Name,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
		})
	}
	doc.Events = make([]orderEventDocument, 0, len(order.Events))
	for _, event := range order.Events {
		entry := orderEventDocument{
			To:        string(event.To),
			ActorID:   event.ActorID,
			CreatedAt: event.CreatedAt,
		}
		if event.From != nil {
			from := string(*event.From)
			entry.From = &from
		}
		doc.Events = append(doc.Events, entry)
	}
	if order.Payment != nil {
		doc.Payment = &paymentDocument{
			Method:          string(order.Payment.Method),
			Status:          string(order.Payment.Status),
			Amount:          order.Payment.Amount,
			Payload:         order.Payment.Payload,
			TransactionID:   order.Payment.TransactionID,
			GatewayResponse: order.Payment.GatewayResponse,
			CreatedAt:       order.Payment.CreatedAt,
			PaidAt:          order.Payment.PaidAt,
		}
	}
	return doc
}

func decodeOrderSnapshot(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("firestore orders decode %s: %w", snap.Ref.ID, err)
	}

	order := domain.Order{
		ID:               snap.Ref.ID,
		OrderNumber:      doc.OrderNumber,
		CanteenID:        doc.CanteenID,
		StudentID:        doc.StudentID,
		Status:           domain.OrderStatus(doc.Status),
		TotalAmount:      doc.TotalAmount,
		PickupCode:       doc.PickupCode,
		DeclineReason:    doc.DeclineReason,
		PaymentExpiresAt: doc.PaymentExpiresAt,
		AcceptedAt:       doc.AcceptedAt,
		PaidAt:           doc.PaidAt,
		CollectedAt:      doc.CollectedAt,
		CancelledAt:      doc.CancelledAt,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
	order.Lines = make([]domain.OrderLine, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		order.Lines = append(order.Lines, domain.OrderLine{
			MenuItemID: line.MenuItemID,
			Name:       line.Name,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
		})
	}
	order.Events = make([]domain.OrderStatusEvent, 0, len(doc.Events))
	for _, event := range doc.Events {
		entry := domain.OrderStatusEvent{
			To:        domain.OrderStatus(event.To),
			ActorID:   event.ActorID,
			CreatedAt: event.CreatedAt,
		}
		if event.From != nil {
			from := domain.OrderStatus(*event.From)
			entry.From = &from
		}
		order.Events = append(order.Events, entry)
	}
	if doc.Payment != nil {
		order.Payment = &domain.Payment{
			Method:          domain.PaymentMethod(doc.Payment.Method),
			Status:          domain.PaymentStatus(doc.Payment.Status),
			Amount:          doc.Payment.Amount,
			Payload:         doc.Payment.Payload,
			TransactionID:   doc.Payment.TransactionID,
			GatewayResponse: doc.Payment.GatewayResponse,
			CreatedAt:       doc.Payment.CreatedAt,
			PaidAt:          doc.Payment.PaidAt,
		}
	}
	return order, nil
}
