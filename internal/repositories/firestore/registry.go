package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/campus-canteen/api/internal/platform/firestore"
	"github.com/campus-canteen/api/internal/repositories"
)

// Registry bundles the Firestore repositories behind repositories.Registry and
// provides the transactional unit of work shared by the services.
type Registry struct {
	provider  *pfirestore.Provider
	orders    *OrderRepository
	canteens  *CanteenRepository
	menuItems *MenuItemRepository
	counters  *CounterRepository
}

// NewRegistry wires every repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	canteens, err := NewCanteenRepository(provider)
	if err != nil {
		return nil, err
	}
	menuItems, err := NewMenuItemRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider:  provider,
		orders:    orders,
		canteens:  canteens,
		menuItems: menuItems,
		counters:  counters,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Canteens returns the canteen repository.
func (r *Registry) Canteens() repositories.CanteenRepository { return r.canteens }

// MenuItems returns the menu item repository.
func (r *Registry) MenuItems() repositories.MenuItemRepository { return r.menuItems }

// Counters returns the counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// RunInTx executes fn inside a Firestore transaction. The transaction handle is
// carried on the context so repository calls made by fn participate in it.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is nil")
	}
	if _, ok := pfirestore.TxFromContext(ctx); ok {
		// Already inside a transaction; Firestore does not support nesting.
		return fn(ctx)
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(pfirestore.ContextWithTx(ctx, tx))
	})
}
