package orders

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func withItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(q *gorm.DB) *gorm.DB {
		return q.Order("position ASC")
	})
}

// Create inserts the order and its line items.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := withItems(r.db.WithContext(ctx)).First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return &order, nil
}

// FindByIDForUpdate loads the order and, on Postgres, holds its row lock until the
// surrounding transaction ends.
func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	q := r.db.WithContext(ctx)
	if q.Dialector != nil && q.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var order models.Order
	err := withItems(q).First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
	}
	return &order, nil
}

func (r *repository) FindByPaymentRef(ctx context.Context, ref string) (*models.Order, error) {
	var order models.Order
	err := withItems(r.db.WithContext(ctx)).
		Where("payment_ref = ? AND payment_method = ?", ref, enums.PaymentMethodCard).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found for payment reference")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order by payment reference")
	}
	return &order, nil
}

func (r *repository) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.Order], error) {
	return r.list(ctx, r.db.WithContext(ctx).Where("user_id = ?", userID), params)
}

func (r *repository) ListAll(ctx context.Context, filters ListFilters, params pagination.Params) (pagination.Page[models.Order], error) {
	q := r.db.WithContext(ctx)
	if filters.Status != nil {
		q = q.Where("status = ?", *filters.Status)
	}
	return r.list(ctx, q, params)
}

func (r *repository) list(ctx context.Context, q *gorm.DB, params pagination.Params) (pagination.Page[models.Order], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.Order]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	var rows []models.Order
	err = withItems(q).Scopes(pagination.Keyset(cursor, params.Limit)).Find(&rows).Error
	if err != nil {
		return pagination.Page[models.Order]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return pagination.BuildPage(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	}), nil
}

func (r *repository) Stats(ctx context.Context) (*Stats, error) {
	var counts []struct {
		Status enums.OrderStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&counts).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count orders")
	}

	stats := &Stats{ByStatus: make(map[enums.OrderStatus]int64, len(counts))}
	for _, row := range counts {
		stats.ByStatus[row.Status] = row.Count
		stats.TotalOrders += row.Count
	}

	var sales decimal.NullDecimal
	if err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("SUM(total_price)").
		Where("payment_status = ? AND status <> ?", enums.PaymentStatusSucceeded, enums.OrderStatusCancelled).
		Row().Scan(&sales); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum sales")
	}
	stats.TotalSales = decimal.Zero
	if sales.Valid {
		stats.TotalSales = sales.Decimal.Round(2)
	}
	return stats, nil
}

func (r *repository) CompareAndSet(ctx context.Context, id uuid.UUID, guard Guard, updates map[string]any) (bool, error) {
	q := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id)
	for column, value := range guard {
		q = q.Where(column+" = ?", value)
	}
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["updated_at"] = time.Now().UTC()
	res := q.Updates(values)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update order")
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindStaleCardOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND payment_method = ? AND created_at < ?", enums.OrderStatusCreated, enums.PaymentMethodCard, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find stale orders")
	}
	return rows, nil
}

// Delete removes the order with its receipt and line items.
func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("order_id = ?", id).Delete(&models.OrderReceipt{}).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete receipt")
	}
	if err := db.Where("order_id = ?", id).Delete(&models.OrderLineItem{}).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete line items")
	}
	res := db.Where("id = ?", id).Delete(&models.Order{})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "delete order")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return nil
}
