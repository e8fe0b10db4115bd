package services

import (
	"fmt"
	"strings"
	"time"

	domain "github.com/campus-canteen/api/internal/domain"
)

// counterPaymentMarker is the payload stored for payments settled at the counter.
const counterPaymentMarker = "COUNTER_PAYMENT"

// paymentProcessor builds and mutates the embedded payment record of an order.
// It holds no state; the order service owns persistence.
type paymentProcessor struct{}

// normalizeMethod maps raw client input onto a supported payment method.
// Legacy aliases UPI_QR and UPI_INTENT collapse into ONLINE.
func (paymentProcessor) normalizeMethod(raw string) (domain.PaymentMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(domain.PaymentMethodOnline), "UPI_QR", "UPI_INTENT":
		return domain.PaymentMethodOnline, nil
	case string(domain.PaymentMethodCounter):
		return domain.PaymentMethodCounter, nil
	default:
		return "", fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, raw)
	}
}

// newPayment embeds the initial payment record at submission time.
func (paymentProcessor) newPayment(method domain.PaymentMethod, amount int64, now time.Time) *domain.Payment {
	return &domain.Payment{
		Method:    method,
		Status:    domain.PaymentStatusPending,
		Amount:    amount,
		CreatedAt: now,
	}
}

// buildPayload renders the instruction handed to the client once staff accept
// the order: a UPI intent URI for online payments, a fixed marker for counter
// settlement.
func (paymentProcessor) buildPayload(method domain.PaymentMethod, payeeVPA string, orderID string, amount int64) string {
	if method == domain.PaymentMethodCounter {
		return counterPaymentMarker
	}
	return fmt.Sprintf("upi://pay?pa=%s&am=%s&cu=INR&tn=Order%%20%s", payeeVPA, formatMinorUnits(amount), orderID)
}

// markSuccess settles the payment and stamps paid timestamps on the aggregate.
func (paymentProcessor) markSuccess(order *domain.Order, now time.Time) {
	if order.Payment == nil {
		return
	}
	order.Payment.Status = domain.PaymentStatusSuccess
	order.Payment.PaidAt = &now
	order.PaidAt = &now
}

// markFailed records a gateway failure; the order stays in its payment window.
func (paymentProcessor) markFailed(order *domain.Order) {
	if order.Payment == nil {
		return
	}
	order.Payment.Status = domain.PaymentStatusFailed
}

// markExpired voids the payment when the window closes or the order is cancelled.
func (paymentProcessor) markExpired(order *domain.Order) {
	if order.Payment == nil {
		return
	}
	order.Payment.Status = domain.PaymentStatusExpired
}

// resetPending returns the payment to its awaiting state after an inconclusive callback.
func (paymentProcessor) resetPending(order *domain.Order) {
	if order.Payment == nil {
		return
	}
	order.Payment.Status = domain.PaymentStatusPending
}

// formatMinorUnits renders paise as rupees with exactly two decimals.
func formatMinorUnits(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}
