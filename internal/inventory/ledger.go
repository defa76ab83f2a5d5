package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrInsufficientStock is returned when a decrement would drive stock below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrProductNotFound is returned when the product row does not exist.
	ErrProductNotFound = errors.New("product not found")
)

// StockError carries the product that failed a stock mutation.
type StockError struct {
	ProductID uuid.UUID
	Requested int
	Err       error
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%v: product %s (requested %d)", e.Err, e.ProductID, e.Requested)
}

func (e *StockError) Unwrap() error { return e.Err }

// Movement describes why a stock mutation happened.
type Movement struct {
	OrderID     *uuid.UUID
	ActorUserID *uuid.UUID
	Reason      enums.InventoryMovementReason
}

// Ledger owns the stock column of products. Every mutation is a single conditional UPDATE
// followed by a journal row in inventory_movements.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// WithTx binds the ledger to the caller's transaction.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	if tx == nil {
		return l
	}
	return &Ledger{db: tx}
}

// CheckAvailable reports whether the product currently holds at least qty units. It takes
// no hold; the authoritative check happens again inside Decrement.
func (l *Ledger) CheckAvailable(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	if qty <= 0 {
		return false, fmt.Errorf("quantity must be positive")
	}
	stock, err := l.Stock(ctx, productID)
	if err != nil {
		return false, err
	}
	return stock >= qty, nil
}

// Stock returns the current count for productID.
func (l *Ledger) Stock(ctx context.Context, productID uuid.UUID) (int, error) {
	var product models.Product
	err := l.db.WithContext(ctx).Select("id", "stock").First(&product, "id = ?", productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, &StockError{ProductID: productID, Err: ErrProductNotFound}
	}
	if err != nil {
		return 0, fmt.Errorf("load stock: %w", err)
	}
	return product.Stock, nil
}

// Decrement atomically removes qty units or fails with ErrInsufficientStock.
func (l *Ledger) Decrement(ctx context.Context, productID uuid.UUID, qty int, mv Movement) error {
	if qty <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if !mv.Reason.IsValid() {
		return fmt.Errorf("invalid movement reason %q", mv.Reason)
	}
	res := l.db.WithContext(ctx).Exec(
		`UPDATE products SET stock = stock - ?, updated_at = ? WHERE id = ? AND stock >= ?`,
		qty, time.Now().UTC(), productID, qty,
	)
	if res.Error != nil {
		return fmt.Errorf("decrement stock: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return l.missOrShort(ctx, productID, qty)
	}
	return l.journal(ctx, productID, -qty, mv)
}

// Increment returns qty units to stock.
func (l *Ledger) Increment(ctx context.Context, productID uuid.UUID, qty int, mv Movement) error {
	if qty <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if !mv.Reason.IsValid() {
		return fmt.Errorf("invalid movement reason %q", mv.Reason)
	}
	res := l.db.WithContext(ctx).Exec(
		`UPDATE products SET stock = stock + ?, updated_at = ? WHERE id = ?`,
		qty, time.Now().UTC(), productID,
	)
	if res.Error != nil {
		return fmt.Errorf("increment stock: %w", res.Error)
	}
	// a deleted catalog row leaves nothing to restock; the journal still records the return
	return l.journal(ctx, productID, qty, mv)
}

// Adjust applies a signed manual correction that never drives stock below zero and returns
// the resulting count.
func (l *Ledger) Adjust(ctx context.Context, productID uuid.UUID, delta int, mv Movement) (int, error) {
	if delta == 0 {
		return 0, fmt.Errorf("delta must not be zero")
	}
	if !mv.Reason.IsValid() {
		return 0, fmt.Errorf("invalid movement reason %q", mv.Reason)
	}
	res := l.db.WithContext(ctx).Exec(
		`UPDATE products SET stock = stock + ?, updated_at = ? WHERE id = ? AND stock + ? >= 0`,
		delta, time.Now().UTC(), productID, delta,
	)
	if res.Error != nil {
		return 0, fmt.Errorf("adjust stock: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, l.missOrShort(ctx, productID, -delta)
	}
	if err := l.journal(ctx, productID, delta, mv); err != nil {
		return 0, err
	}
	return l.Stock(ctx, productID)
}

// Movements lists the journal for a product, oldest first.
func (l *Ledger) Movements(ctx context.Context, productID uuid.UUID) ([]models.InventoryMovement, error) {
	var rows []models.InventoryMovement
	err := l.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (l *Ledger) missOrShort(ctx context.Context, productID uuid.UUID, qty int) error {
	var count int64
	if err := l.db.WithContext(ctx).Model(&models.Product{}).Where("id = ?", productID).Count(&count).Error; err != nil {
		return fmt.Errorf("check product: %w", err)
	}
	if count == 0 {
		return &StockError{ProductID: productID, Requested: qty, Err: ErrProductNotFound}
	}
	return &StockError{ProductID: productID, Requested: qty, Err: ErrInsufficientStock}
}

func (l *Ledger) journal(ctx context.Context, productID uuid.UUID, delta int, mv Movement) error {
	row := models.InventoryMovement{
		ProductID:   productID,
		OrderID:     mv.OrderID,
		Delta:       delta,
		Reason:      mv.Reason,
		ActorUserID: mv.ActorUserID,
	}
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("journal movement: %w", err)
	}
	return nil
}
