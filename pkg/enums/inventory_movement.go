package enums

// InventoryMovementReason explains a journaled stock mutation.
type InventoryMovementReason string

const (
	MovementOrderCommitted   InventoryMovementReason = "order_committed"
	MovementOrderCancelled   InventoryMovementReason = "order_cancelled"
	MovementOrderDeleted     InventoryMovementReason = "order_deleted"
	MovementManualAdjustment InventoryMovementReason = "manual_adjustment"
)

var validMovementReasons = newSet("inventory movement reason",
	MovementOrderCommitted,
	MovementOrderCancelled,
	MovementOrderDeleted,
	MovementManualAdjustment,
)

// IsValid reports whether the value is a known movement reason.
func (r InventoryMovementReason) IsValid() bool {
	return validMovementReasons.has(r)
}

// ParseInventoryMovementReason converts raw input into an InventoryMovementReason.
func ParseInventoryMovementReason(value string) (InventoryMovementReason, error) {
	return validMovementReasons.parse(value)
}
