package inventory

import (
	"context"
	"errors"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// AdjustInput is an administrative stock correction.
type AdjustInput struct {
	ProductID   uuid.UUID
	Delta       int
	ActorUserID uuid.UUID
}

// AdjustResult reports the stock after the correction.
type AdjustResult struct {
	ProductID uuid.UUID `json:"product_id"`
	Delta     int       `json:"delta"`
	Stock     int       `json:"stock"`
}

// Service exposes the admin-facing inventory operations.
type Service struct {
	ledger *Ledger
	tx     txRunner
	outbox outboxPublisher
	logg   *logger.Logger
}

func NewService(ledger *Ledger, tx txRunner, outbox outboxPublisher, logg *logger.Logger) (*Service, error) {
	if ledger == nil {
		return nil, errors.New("inventory ledger required")
	}
	if tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if outbox == nil {
		return nil, errors.New("outbox publisher required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{ledger: ledger, tx: tx, outbox: outbox, logg: logg}, nil
}

// Adjust applies a manual correction and emits inventory_adjusted in the same transaction.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (*AdjustResult, error) {
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if input.Delta == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delta must not be zero")
	}

	var result *AdjustResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		actor := input.ActorUserID
		stock, err := s.ledger.WithTx(tx).Adjust(ctx, input.ProductID, input.Delta, Movement{
			ActorUserID: &actor,
			Reason:      enums.MovementManualAdjustment,
		})
		if err != nil {
			return err
		}
		result = &AdjustResult{ProductID: input.ProductID, Delta: input.Delta, Stock: stock}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInventoryAdjusted,
			AggregateType: enums.AggregateProduct,
			AggregateID:   input.ProductID,
			Actor:         &outbox.ActorRef{UserID: input.ActorUserID, Role: enums.UserRoleAdmin.String()},
			Data: payloads.InventoryAdjustedEvent{
				ProductID: input.ProductID,
				Delta:     input.Delta,
				Stock:     stock,
			},
		})
	})
	if err != nil {
		return nil, MapError(err)
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"product_id": input.ProductID.String(),
		"delta":      input.Delta,
		"stock":      result.Stock,
	})
	s.logg.Info(logCtx, "inventory adjusted")
	return result, nil
}

// MapError converts ledger failures into typed API errors.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	var stockErr *StockError
	if errors.As(err, &stockErr) {
		details := map[string]any{"product_id": stockErr.ProductID.String()}
		if errors.Is(err, ErrProductNotFound) {
			return pkgerrors.Newf(pkgerrors.CodeNotFound, "product %s not found", stockErr.ProductID).WithDetails(details)
		}
		details["requested"] = stockErr.Requested
		return pkgerrors.Newf(pkgerrors.CodeConflict, "insufficient stock for product %s", stockErr.ProductID).WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "inventory update failed")
}
