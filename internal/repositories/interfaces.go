package repositories

import (
	"context"
	"time"

	domain "github.com/campus-canteen/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Canteens() CanteenRepository
	MenuItems() MenuItemRepository
	Counters() CounterRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates and provides the query helpers the
// lifecycle engine needs. Implementations must participate in a transaction
// carried on the context when called inside UnitOfWork.RunInTx.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)

	// CountActive counts orders in admission-relevant states for one canteen.
	CountActive(ctx context.Context, canteenID string) (int, error)
	// PickupCodeInUse reports whether an uncollected order of the canteen holds the code.
	PickupCodeInUse(ctx context.Context, canteenID string, code string) (bool, error)
	// CountQueueAhead counts successfully paid PAID/PREPARING orders of the
	// canteen whose paid timestamp precedes the given one.
	CountQueueAhead(ctx context.Context, canteenID string, paidBefore time.Time, excludeOrderID string) (int, error)
	// ListOverdue returns PAYMENT_PENDING orders whose payment window closed
	// before now. CanteenID narrows the scan when non-empty.
	ListOverdue(ctx context.Context, canteenID string, now time.Time, limit int) ([]domain.Order, error)
}

// CanteenRepository reads canteen operational settings.
type CanteenRepository interface {
	FindByID(ctx context.Context, canteenID string) (domain.Canteen, error)
	List(ctx context.Context) ([]domain.Canteen, error)
}

// MenuItemRepository reads menu entries stored under a canteen.
type MenuItemRepository interface {
	FindByID(ctx context.Context, canteenID string, itemID string) (domain.MenuItem, error)
	ListByCanteen(ctx context.Context, canteenID string) ([]domain.MenuItem, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// OrderListFilter narrows and paginates order listings.
type OrderListFilter struct {
	CanteenID  string
	StudentID  string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
