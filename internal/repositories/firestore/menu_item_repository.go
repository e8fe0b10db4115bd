package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/campus-canteen/api/internal/domain"
	pfirestore "github.com/campus-canteen/api/internal/platform/firestore"
)

const menuItemsSubcollection = "menuItems"

type menuItemDocument struct {
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Available bool   `firestore:"available"`
}

// MenuItemRepository reads menu entries stored under canteens/{id}/menuItems.
type MenuItemRepository struct {
	provider *pfirestore.Provider
}

// NewMenuItemRepository constructs a Firestore-backed menu item repository.
func NewMenuItemRepository(provider *pfirestore.Provider) (*MenuItemRepository, error) {
	if provider == nil {
		return nil, errors.New("menu item repository requires firestore provider")
	}
	return &MenuItemRepository{provider: provider}, nil
}

// FindByID loads one menu entry of the canteen.
func (r *MenuItemRepository) FindByID(ctx context.Context, canteenID string, itemID string) (domain.MenuItem, error) {
	coll, err := r.collection(ctx, canteenID)
	if err != nil {
		return domain.MenuItem{}, err
	}
	if strings.TrimSpace(itemID) == "" {
		return domain.MenuItem{}, pfirestore.WrapError("menu_items.get", errors.New("firestore: document id is required"))
	}

	ref := coll.Doc(itemID)
	var snap *firestore.DocumentSnapshot
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return domain.MenuItem{}, pfirestore.WrapError("menu_items.get", err)
	}

	var doc menuItemDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.MenuItem{}, pfirestore.WrapError("menu_items.get", err)
	}
	return decodeMenuItem(canteenID, snap.Ref.ID, doc), nil
}

// ListByCanteen returns the canteen's menu ordered by name.
func (r *MenuItemRepository) ListByCanteen(ctx context.Context, canteenID string) ([]domain.MenuItem, error) {
	coll, err := r.collection(ctx, canteenID)
	if err != nil {
		return nil, err
	}

	iter := coll.Query.OrderBy("name", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var items []domain.MenuItem
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("menu_items.list", err)
		}
		var doc menuItemDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, pfirestore.WrapError("menu_items.list", err)
		}
		items = append(items, decodeMenuItem(canteenID, snap.Ref.ID, doc))
	}
	return items, nil
}

func (r *MenuItemRepository) collection(ctx context.Context, canteenID string) (*firestore.CollectionRef, error) {
	if strings.TrimSpace(canteenID) == "" {
		return nil, pfirestore.WrapError("menu_items.collection", errors.New("firestore: canteen id is required"))
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(canteensCollection).Doc(canteenID).Collection(menuItemsSubcollection), nil
}

func decodeMenuItem(canteenID string, id string, doc menuItemDocument) domain.MenuItem {
	return domain.MenuItem{
		ID:        id,
		CanteenID: canteenID,
		Name:      doc.Name,
		UnitPrice: doc.UnitPrice,
		Available: doc.Available,
	}
}
