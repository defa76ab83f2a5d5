package orders

import (
	"context"

	"github.com/angelmondragon/marketplace-backend/internal/ledger"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-backend/pkg/payments"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Refund results reported to metrics.
const (
	refundResultSucceeded = "succeeded"
	refundResultPending   = "pending"
	refundResultFailed    = "failed"
	refundResultError     = "error"
)

// queueRefund marks the order's captured payment for return. It must run in the transaction
// that cancelled the order.
func (s *Service) queueRefund(ctx context.Context, tx *gorm.DB, order *models.Order, reason string, actor *Actor) error {
	ok, err := s.repo.WithTx(tx).CompareAndSet(ctx, order.ID,
		Guard{"refund_status": enums.RefundStatusNone},
		map[string]any{"refund_status": enums.RefundStatusPending},
	)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	order.RefundStatus = enums.RefundStatusPending

	if _, err := s.ledger.WithTx(tx).RecordEvent(ctx, ledger.RecordLedgerEventInput{
		OrderID:     order.ID,
		ActorUserID: actorID(actor),
		Type:        enums.LedgerEventTypeRefundRequested,
		Amount:      order.TotalPrice,
		Currency:    order.Currency,
		GatewayRef:  order.PaymentRef,
		Metadata:    ledgerMetadata(map[string]any{"reason": reason}),
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund request")
	}

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderRefundRequested,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(actor),
		Data: payloads.OrderRefundRequestedEvent{
			OrderID:    order.ID,
			PaymentRef: order.PaymentRef,
			Amount:     order.TotalPrice,
			Currency:   order.Currency,
			Reason:     reason,
		},
	})
}

// attemptRefund runs the first refund attempt right after commit. Failures are left to the
// worker consuming order_refund_requested.
func (s *Service) attemptRefund(ctx context.Context, orderID uuid.UUID) {
	if err := s.ProcessRefund(ctx, orderID); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "inline refund attempt failed; worker will retry")
	}
}

// ProcessRefund asks the gateway to return the order's payment. It is safe to call repeatedly:
// only pending refunds are processed and the gateway call carries a stable idempotency key.
// A returned error means the attempt should be retried.
func (s *Service) ProcessRefund(ctx context.Context, orderID uuid.UUID) error {
	ctx = s.logg.WithOrderID(ctx, orderID.String())
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil
		}
		return err
	}
	if order.RefundStatus != enums.RefundStatusPending {
		return nil
	}
	if order.RefundRef != nil && *order.RefundRef != "" {
		// Already submitted; the charge.refunded webhook finishes it.
		return nil
	}

	refund, err := s.gateway.Refund(ctx, payments.RefundParams{
		PaymentIntentID: order.PaymentRef,
		IdempotencyKey:  payments.RefundIdempotencyKey(order.ID.String()),
		Metadata: map[string]string{
			payments.MetadataOrderID: order.ID.String(),
			payments.MetadataUserID:  order.UserID.String(),
		},
	})
	if err != nil {
		s.metrics.IncRefund(refundResultError)
		return asDependency(err, "refund payment")
	}
	return s.applyRefund(ctx, order, refund)
}

// ReconcileRefund applies a refund state reported by the gateway webhook.
func (s *Service) ReconcileRefund(ctx context.Context, paymentRef string, refund payments.Refund) error {
	order, err := s.repo.FindByPaymentRef(ctx, paymentRef)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil
		}
		return err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	if order.RefundStatus != enums.RefundStatusPending {
		return nil
	}
	return s.applyRefund(ctx, order, refund)
}

func (s *Service) applyRefund(ctx context.Context, order *models.Order, refund payments.Refund) error {
	ctx = s.logg.WithField(ctx, "refund_ref", refund.ID)
	switch refund.Status {
	case payments.RefundSucceeded:
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			ok, err := s.repo.WithTx(tx).CompareAndSet(ctx, order.ID,
				Guard{"refund_status": enums.RefundStatusPending},
				refundUpdates(refund.ID, map[string]any{
					"refund_status":  enums.RefundStatusSucceeded,
					"refunded_at":    s.now(),
					"payment_status": enums.PaymentStatusRefunded,
				}),
			)
			if err != nil || !ok {
				return err
			}
			_, err = s.ledger.WithTx(tx).RecordEvent(ctx, ledger.RecordLedgerEventInput{
				OrderID:    order.ID,
				Type:       enums.LedgerEventTypeRefundSucceeded,
				Amount:     order.TotalPrice,
				Currency:   order.Currency,
				GatewayRef: refund.ID,
			})
			return err
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
		}
		s.metrics.IncRefund(refundResultSucceeded)
		s.logg.Info(ctx, "refund succeeded")
		return nil

	case payments.RefundFailed, payments.RefundCanceled:
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			ok, err := s.repo.WithTx(tx).CompareAndSet(ctx, order.ID,
				Guard{"refund_status": enums.RefundStatusPending},
				refundUpdates(refund.ID, map[string]any{"refund_status": enums.RefundStatusFailed}),
			)
			if err != nil || !ok {
				return err
			}
			_, err = s.ledger.WithTx(tx).RecordEvent(ctx, ledger.RecordLedgerEventInput{
				OrderID:    order.ID,
				Type:       enums.LedgerEventTypeRefundFailed,
				Amount:     order.TotalPrice,
				Currency:   order.Currency,
				GatewayRef: refund.ID,
				Metadata:   ledgerMetadata(map[string]any{"status": refund.Status}),
			})
			return err
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund failure")
		}
		s.metrics.IncRefund(refundResultFailed)
		s.logg.Error(ctx, "refund rejected by gateway", nil)
		return nil

	default:
		if refund.ID != "" {
			if _, err := s.repo.CompareAndSet(ctx, order.ID,
				Guard{"refund_status": enums.RefundStatusPending},
				map[string]any{"refund_ref": refund.ID},
			); err != nil {
				return err
			}
		}
		s.metrics.IncRefund(refundResultPending)
		s.logg.Info(ctx, "refund pending at gateway")
		return nil
	}
}

// refundUpdates keeps an already stored refund reference when the gateway reports none.
func refundUpdates(refundID string, updates map[string]any) map[string]any {
	if refundID != "" {
		updates["refund_ref"] = refundID
	}
	return updates
}
