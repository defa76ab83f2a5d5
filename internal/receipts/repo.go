package receipts

import (
	"context"
	"errors"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository stores rendered receipts.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Find returns the stored receipt for the order.
func (r *Repository) Find(ctx context.Context, orderID uuid.UUID) (*models.OrderReceipt, error) {
	var receipt models.OrderReceipt
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&receipt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "receipt not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load receipt")
	}
	return &receipt, nil
}

// Save inserts the receipt once; a receipt already stored for the order wins.
func (r *Repository) Save(ctx context.Context, receipt *models.OrderReceipt) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
		Create(receipt).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store receipt")
	}
	return nil
}
