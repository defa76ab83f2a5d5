package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
)

// Repository is the gorm-backed store for ledger_events. Rows are
// append-only; there is no update or delete.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) bind(tx *gorm.DB) store {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) insert(ctx context.Context, event *models.LedgerEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *Repository) forOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error) {
	var rows []models.LedgerEvent
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}
