package orders

import (
	"context"
	"time"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/pagination"
	"github.com/angelmondragon/marketplace-backend/pkg/payments"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentGateway is the payment processor surface the engine depends on.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, params payments.PaymentIntentParams) (payments.PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (payments.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string) error
	Refund(ctx context.Context, params payments.RefundParams) (payments.Refund, error)
}

// ProductReader snapshots catalog rows at order creation.
type ProductReader interface {
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Guard lists the column values a conditional update requires to still hold.
type Guard map[string]any

// Repository defines persistence operations for orders and their line items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByPaymentRef(ctx context.Context, ref string) (*models.Order, error)
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.Order], error)
	ListAll(ctx context.Context, filters ListFilters, params pagination.Params) (pagination.Page[models.Order], error)
	Stats(ctx context.Context) (*Stats, error)
	// CompareAndSet applies updates only while every guard column still matches.
	CompareAndSet(ctx context.Context, id uuid.UUID, guard Guard, updates map[string]any) (bool, error)
	FindStaleCardOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ListFilters narrows the admin listing.
type ListFilters struct {
	Status *enums.OrderStatus
}
