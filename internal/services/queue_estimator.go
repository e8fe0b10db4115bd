package services

import (
	"context"

	domain "github.com/campus-canteen/api/internal/domain"
	"github.com/campus-canteen/api/internal/repositories"
)

// queueEstimator derives a paid order's position in the preparation queue and
// the rough wait derived from the canteen's average preparation time.
type queueEstimator struct {
	orders repositories.OrderRepository
}

func newQueueEstimator(orders repositories.OrderRepository) *queueEstimator {
	return &queueEstimator{orders: orders}
}

// estimate returns zero values for orders that are not queued: only PAID and
// PREPARING orders with a successful payment occupy a queue slot.
func (e *queueEstimator) estimate(ctx context.Context, order domain.Order, canteen domain.Canteen) (domain.QueueInfo, error) {
	if !queueEligible(order) {
		return domain.QueueInfo{}, nil
	}

	ahead, err := e.orders.CountQueueAhead(ctx, order.CanteenID, *order.PaidAt, order.ID)
	if err != nil {
		return domain.QueueInfo{}, err
	}

	position := ahead + 1
	return domain.QueueInfo{
		Position:         position,
		EstimatedMinutes: canteen.AvgPrepMinutes * position,
	}, nil
}

func queueEligible(order domain.Order) bool {
	if order.Status != domain.OrderStatusPaid && order.Status != domain.OrderStatusPreparing {
		return false
	}
	if order.Payment == nil || order.Payment.Status != domain.PaymentStatusSuccess {
		return false
	}
	return order.PaidAt != nil
}
