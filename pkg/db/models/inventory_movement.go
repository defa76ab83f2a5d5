package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// InventoryMovement journals one stock mutation.
type InventoryMovement struct {
	ID          uuid.UUID                     `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID   uuid.UUID                     `gorm:"column:product_id;type:uuid;not null"`
	OrderID     *uuid.UUID                    `gorm:"column:order_id;type:uuid"`
	Delta       int                           `gorm:"column:delta;not null"`
	Reason      enums.InventoryMovementReason `gorm:"column:reason;type:inventory_movement_reason;not null"`
	ActorUserID *uuid.UUID                    `gorm:"column:actor_user_id;type:uuid"`
	CreatedAt   time.Time                     `gorm:"column:created_at;autoCreateTime"`
}

func (m *InventoryMovement) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
