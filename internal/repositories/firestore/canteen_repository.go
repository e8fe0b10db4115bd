package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/campus-canteen/api/internal/domain"
	pfirestore "github.com/campus-canteen/api/internal/platform/firestore"
)

const canteensCollection = "canteens"

type canteenDocument struct {
	Name            string    `firestore:"name"`
	AvgPrepMinutes  int       `firestore:"avgPrepMinutes"`
	PayeeVPA        string    `firestore:"payeeVpa"`
	MaxActiveOrders int       `firestore:"maxActiveOrders"`
	IsActive        bool      `firestore:"isActive"`
	AcceptingOrders bool      `firestore:"acceptingOrders"`
	OpensAt         string    `firestore:"opensAt"`
	ClosesAt        string    `firestore:"closesAt"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

// CanteenRepository implements repositories.CanteenRepository backed by Firestore.
type CanteenRepository struct {
	provider *pfirestore.Provider
	canteens *pfirestore.BaseRepository[canteenDocument]
}

// NewCanteenRepository constructs a Firestore-backed canteen repository.
func NewCanteenRepository(provider *pfirestore.Provider) (*CanteenRepository, error) {
	if provider == nil {
		return nil, errors.New("canteen repository requires firestore provider")
	}
	return &CanteenRepository{
		provider: provider,
		canteens: pfirestore.NewBaseRepository[canteenDocument](provider, canteensCollection, nil, nil),
	}, nil
}

// FindByID loads a single canteen.
func (r *CanteenRepository) FindByID(ctx context.Context, canteenID string) (domain.Canteen, error) {
	ref, err := r.canteens.DocumentRef(ctx, canteenID)
	if err != nil {
		return domain.Canteen{}, err
	}
	var snap *firestore.DocumentSnapshot
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return domain.Canteen{}, pfirestore.WrapError("canteens.get", err)
	}
	var doc canteenDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Canteen{}, pfirestore.WrapError("canteens.get", err)
	}
	return decodeCanteen(snap.Ref.ID, doc), nil
}

// List returns every canteen ordered by name.
func (r *CanteenRepository) List(ctx context.Context) ([]domain.Canteen, error) {
	docs, err := r.canteens.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.OrderBy("name", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	canteens := make([]domain.Canteen, 0, len(docs))
	for _, doc := range docs {
		canteens = append(canteens, decodeCanteen(doc.ID, doc.Data))
	}
	return canteens, nil
}

func decodeCanteen(id string, doc canteenDocument) domain.Canteen {
	return domain.Canteen{
		ID:              id,
		Name:            doc.Name,
		AvgPrepMinutes:  doc.AvgPrepMinutes,
		PayeeVPA:        doc.PayeeVPA,
		MaxActiveOrders: doc.MaxActiveOrders,
		IsActive:        doc.IsActive,
		AcceptingOrders: doc.AcceptingOrders,
		OpensAt:         doc.OpensAt,
		ClosesAt:        doc.ClosesAt,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
}
