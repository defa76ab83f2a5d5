package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/types"
)

// Order is the aggregate root of the order lifecycle. Prices are immutable after creation.
type Order struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID        uuid.UUID          `gorm:"column:user_id;type:uuid;not null"`
	ShippingInfo  types.ShippingInfo `gorm:"column:shipping_info;type:jsonb;not null"`
	ItemsPrice    decimal.Decimal    `gorm:"column:items_price;type:numeric(12,2);not null"`
	TaxPrice      decimal.Decimal    `gorm:"column:tax_price;type:numeric(12,2);not null"`
	ShippingPrice decimal.Decimal    `gorm:"column:shipping_price;type:numeric(12,2);not null"`
	TotalPrice    decimal.Decimal    `gorm:"column:total_price;type:numeric(12,2);not null"`
	Currency      string             `gorm:"column:currency;not null"`
	Status        enums.OrderStatus  `gorm:"column:status;type:order_status;not null"`

	PaymentMethod enums.PaymentMethod `gorm:"column:payment_method;type:payment_method;not null"`
	PaymentRef    string              `gorm:"column:payment_ref;not null"`
	PaymentStatus enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null"`
	PaidAt        *time.Time          `gorm:"column:paid_at"`

	StockCommitted bool               `gorm:"column:stock_committed;not null;default:false"`
	RefundStatus   enums.RefundStatus `gorm:"column:refund_status;type:refund_status;not null;default:'none'"`
	RefundRef      *string            `gorm:"column:refund_ref"`
	RefundedAt     *time.Time         `gorm:"column:refunded_at"`
	CancelReason   *string            `gorm:"column:cancel_reason"`
	DeliveredAt    *time.Time         `gorm:"column:delivered_at"`
	CancelledAt    *time.Time         `gorm:"column:cancelled_at"`

	Items     []OrderLineItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.RefundStatus == "" {
		o.RefundStatus = enums.RefundStatusNone
	}
	return nil
}
