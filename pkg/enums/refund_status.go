package enums

// RefundStatus tracks the refund owed on a cancelled order.
type RefundStatus string

const (
	RefundStatusNone      RefundStatus = "none"
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusSucceeded RefundStatus = "succeeded"
	RefundStatusFailed    RefundStatus = "failed"
)

var validRefundStatuses = newSet("refund status",
	RefundStatusNone,
	RefundStatusPending,
	RefundStatusSucceeded,
	RefundStatusFailed,
)

// String implements fmt.Stringer.
func (r RefundStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundStatus.
func (r RefundStatus) IsValid() bool {
	return validRefundStatuses.has(r)
}

// ParseRefundStatus converts raw input into a RefundStatus.
func ParseRefundStatus(value string) (RefundStatus, error) {
	return validRefundStatuses.parse(value)
}
