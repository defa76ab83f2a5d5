package ledger

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// Summary folds an order's ledger rows into running totals.
type Summary struct {
	OrderID  uuid.UUID
	Currency string
	// Collected is money taken by card capture or cash on delivery.
	Collected decimal.Decimal
	Refunded  decimal.Decimal
	// PendingRefund is requested but not yet confirmed by the gateway.
	PendingRefund decimal.Decimal
	Events        []models.LedgerEvent
}

// Net is what the marketplace currently holds for the order.
func (s Summary) Net() decimal.Decimal {
	return s.Collected.Sub(s.Refunded)
}

func summarize(events []models.LedgerEvent) Summary {
	sum := Summary{Events: events}
	for _, ev := range events {
		if sum.Currency == "" {
			sum.Currency = ev.Currency
		}
		switch ev.Type {
		case enums.LedgerEventTypePaymentCaptured, enums.LedgerEventTypeCashCollected:
			sum.Collected = sum.Collected.Add(ev.Amount)
		case enums.LedgerEventTypeRefundRequested:
			sum.PendingRefund = sum.PendingRefund.Add(ev.Amount)
		case enums.LedgerEventTypeRefundSucceeded:
			sum.Refunded = sum.Refunded.Add(ev.Amount)
			sum.PendingRefund = sum.PendingRefund.Sub(ev.Amount)
		case enums.LedgerEventTypeRefundFailed:
			sum.PendingRefund = sum.PendingRefund.Sub(ev.Amount)
		}
	}
	if sum.PendingRefund.IsNegative() {
		sum.PendingRefund = decimal.Zero
	}
	return sum
}
