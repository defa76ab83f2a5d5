package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderReceipt stores the rendered PDF receipt of a paid order.
type OrderReceipt struct {
	OrderID     uuid.UUID `gorm:"column:order_id;type:uuid;primaryKey"`
	FileName    string    `gorm:"column:file_name;not null"`
	ContentType string    `gorm:"column:content_type;not null"`
	Content     []byte    `gorm:"column:content;type:bytea;not null"`
	SizeBytes   int64     `gorm:"column:size_bytes;not null"`
	GeneratedAt time.Time `gorm:"column:generated_at;not null"`
}
