package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// OrderCreatedEvent is emitted once an order row is persisted.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	UserID        uuid.UUID           `json:"user_id"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	TotalPrice    decimal.Decimal     `json:"total_price"`
	Currency      string              `json:"currency"`
	ItemCount     int                 `json:"item_count"`
}

// OrderPaidEvent is emitted when money for the order is captured or collected.
type OrderPaidEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	UserID        uuid.UUID           `json:"user_id"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	PaymentRef    string              `json:"payment_ref"`
	Amount        decimal.Decimal     `json:"amount"`
	Currency      string              `json:"currency"`
	PaidAt        time.Time           `json:"paid_at"`
}

// OrderStatusChangedEvent records an administrative status transition.
type OrderStatusChangedEvent struct {
	OrderID uuid.UUID         `json:"order_id"`
	UserID  uuid.UUID         `json:"user_id"`
	From    enums.OrderStatus `json:"from"`
	To      enums.OrderStatus `json:"to"`
}

// OrderCanceledEvent is emitted whenever an order reaches the cancelled state.
type OrderCanceledEvent struct {
	OrderID   uuid.UUID         `json:"order_id"`
	UserID    uuid.UUID         `json:"user_id"`
	From      enums.OrderStatus `json:"from"`
	Reason    string            `json:"reason"`
	Restocked bool              `json:"restocked"`
}

// OrderRefundRequestedEvent asks the worker to return captured funds.
type OrderRefundRequestedEvent struct {
	OrderID    uuid.UUID       `json:"order_id"`
	PaymentRef string          `json:"payment_ref"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Reason     string          `json:"reason"`
}

// OrderDeletedEvent is emitted when an administrator removes an order.
type OrderDeletedEvent struct {
	OrderID   uuid.UUID         `json:"order_id"`
	UserID    uuid.UUID         `json:"user_id"`
	Status    enums.OrderStatus `json:"status"`
	Restocked bool              `json:"restocked"`
}

// InventoryAdjustedEvent records a manual stock correction.
type InventoryAdjustedEvent struct {
	ProductID uuid.UUID `json:"product_id"`
	Delta     int       `json:"delta"`
	Stock     int       `json:"stock"`
}
