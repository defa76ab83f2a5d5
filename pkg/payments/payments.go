// Package payments holds the gateway-neutral payment types shared by the order engine and
// the gateway adapters.
package payments

import (
	"strings"

	"github.com/shopspring/decimal"
)

// IntentStatus mirrors the lifecycle of a gateway payment intent.
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentCanceled              IntentStatus = "canceled"
	IntentSucceeded             IntentStatus = "succeeded"
)

// RefundStatus mirrors the gateway refund lifecycle.
type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundSucceeded RefundStatus = "succeeded"
	RefundFailed    RefundStatus = "failed"
	RefundCanceled  RefundStatus = "canceled"
)

// Metadata keys attached to every intent so webhooks can correlate back to the order.
const (
	MetadataOrderID = "order_id"
	MetadataUserID  = "user_id"
)

// PaymentIntentParams describes the amount to collect for an order.
type PaymentIntentParams struct {
	AmountMinor    int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// PaymentIntent is the gateway view of a payment handle.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	AmountMinor  int64
	Currency     string
	Status       IntentStatus
	Metadata     map[string]string
}

// OrderID returns the order id recorded in the intent metadata.
func (p PaymentIntent) OrderID() string {
	if p.Metadata == nil {
		return ""
	}
	return strings.TrimSpace(p.Metadata[MetadataOrderID])
}

// Succeeded reports whether the gateway captured the funds.
func (p PaymentIntent) Succeeded() bool {
	return p.Status == IntentSucceeded
}

// RefundParams identifies the payment to refund; AmountMinor zero refunds the full amount.
type RefundParams struct {
	PaymentIntentID string
	AmountMinor     int64
	IdempotencyKey  string
	Metadata        map[string]string
}

// Refund is the gateway view of a refund.
type Refund struct {
	ID     string
	Status RefundStatus
}

// ToMinorUnits converts a two-decimal money amount into the smallest currency unit.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts a smallest-unit amount back into a decimal money value.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// RefundIdempotencyKey is the gateway idempotency key used for an order refund.
func RefundIdempotencyKey(orderID string) string {
	return "refund-" + orderID
}
