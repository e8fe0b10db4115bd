package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/campus-canteen/api/internal/repositories"
)

const (
	defaultPickupCodeAttempts = 5
	pickupCodeSpace           = 10000
)

// ErrPickupCodeExhausted signals the allocator could not find a free code
// within its attempt budget. This is a system fault, not a caller mistake.
var ErrPickupCodeExhausted = errors.New("order: pickup code space exhausted")

// pickupCodeAllocator draws 4-digit pickup codes that are unique among the
// canteen's uncollected orders. The random source is injectable for tests.
type pickupCodeAllocator struct {
	orders   repositories.OrderRepository
	randInt  func(n int) int
	attempts int
}

func newPickupCodeAllocator(orders repositories.OrderRepository, randInt func(n int) int, attempts int) *pickupCodeAllocator {
	if randInt == nil {
		randInt = rand.Intn
	}
	if attempts <= 0 {
		attempts = defaultPickupCodeAttempts
	}
	return &pickupCodeAllocator{
		orders:   orders,
		randInt:  randInt,
		attempts: attempts,
	}
}

// allocate returns a code no uncollected order of the canteen currently holds.
// It must run inside the transaction that commits the code assignment so the
// uniqueness check and the write are serialized per canteen.
func (a *pickupCodeAllocator) allocate(ctx context.Context, canteenID string) (string, error) {
	for attempt := 0; attempt < a.attempts; attempt++ {
		code := fmt.Sprintf("%04d", a.randInt(pickupCodeSpace))
		taken, err := a.orders.PickupCodeInUse(ctx, canteenID, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: no free code after %d attempts", ErrPickupCodeExhausted, a.attempts)
}
