package enums

// LedgerEventType classifies a money movement recorded against an order.
type LedgerEventType string

const (
	LedgerEventTypePaymentCaptured LedgerEventType = "payment_captured"
	LedgerEventTypeCashCollected   LedgerEventType = "cash_collected"
	LedgerEventTypeRefundRequested LedgerEventType = "refund_requested"
	LedgerEventTypeRefundSucceeded LedgerEventType = "refund_succeeded"
	LedgerEventTypeRefundFailed    LedgerEventType = "refund_failed"
)

var validLedgerEventTypes = newSet("ledger event type",
	LedgerEventTypePaymentCaptured,
	LedgerEventTypeCashCollected,
	LedgerEventTypeRefundRequested,
	LedgerEventTypeRefundSucceeded,
	LedgerEventTypeRefundFailed,
)

// IsValid reports whether the value matches the canonical ledger event enum.
func (t LedgerEventType) IsValid() bool {
	return validLedgerEventTypes.has(t)
}

// ParseLedgerEventType converts raw input into LedgerEventType.
func ParseLedgerEventType(value string) (LedgerEventType, error) {
	return validLedgerEventTypes.parse(value)
}
