package enums

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregateProduct OutboxAggregateType = "product"
)

var validAggregateTypes = newSet("aggregate type",
	AggregateOrder,
	AggregateProduct,
)

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	return validAggregateTypes.has(a)
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return validAggregateTypes.parse(value)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventOrderCreated         OutboxEventType = "order_created"
	EventOrderPaid            OutboxEventType = "order_paid"
	EventOrderStatusChanged   OutboxEventType = "order_status_changed"
	EventOrderCanceled        OutboxEventType = "order_canceled"
	EventOrderRefundRequested OutboxEventType = "order_refund_requested"
	EventOrderDeleted         OutboxEventType = "order_deleted"
	EventInventoryAdjusted    OutboxEventType = "inventory_adjusted"
)

var validOutboxEventTypes = newSet("event type",
	EventOrderCreated,
	EventOrderPaid,
	EventOrderStatusChanged,
	EventOrderCanceled,
	EventOrderRefundRequested,
	EventOrderDeleted,
	EventInventoryAdjusted,
)

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	return validOutboxEventTypes.has(e)
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return validOutboxEventTypes.parse(value)
}
