package orders

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/angelmondragon/marketplace-backend/internal/inventory"
	"github.com/angelmondragon/marketplace-backend/internal/ledger"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-backend/pkg/payments"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Cancel reasons recorded on orders the engine cancels by itself.
const (
	CancelReasonInsufficientStock = "insufficient_stock"
	CancelReasonPaymentTimeout    = "payment_timeout"
	CancelReasonAdmin             = "admin_cancelled"
)

// ConfirmPayment settles a card order after the client reports a successful payment. The
// gateway is the source of truth: the intent is retrieved and checked before anything moves.
func (s *Service) ConfirmPayment(ctx context.Context, actor Actor, orderID uuid.UUID, paymentRef string) (*ConfirmResult, error) {
	ctx = s.logg.WithOrderID(ctx, orderID.String())
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && order.UserID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	if !order.PaymentMethod.UsesGateway() {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order is not paid by card")
	}
	if order.PaymentRef != paymentRef {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment does not belong to order").
			WithDetails(map[string]any{"payment_id": paymentRef})
	}
	if order.Status != enums.OrderStatusCreated && order.Status != enums.OrderStatusCancelled {
		s.metrics.IncSettlement(metrics.SourceClient, metrics.OutcomeAlreadySettled)
		return s.confirmResult(order, OutcomeAlreadySettled), nil
	}

	intent, err := s.gateway.RetrievePaymentIntent(ctx, paymentRef)
	if err != nil {
		return nil, asDependency(err, "retrieve payment intent")
	}
	if err := verifyIntent(order, intent); err != nil {
		s.metrics.IncSettlement(metrics.SourceClient, metrics.OutcomeRejected)
		return nil, err
	}

	outcome, settled, err := s.settlePayment(ctx, order.ID, intent, metrics.SourceClient)
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeRaceLost {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "items sold out before payment completed; a refund has been issued").
			WithDetails(map[string]any{"order_id": order.ID.String(), "refund": "queued"})
	}
	return s.confirmResult(settled, outcome), nil
}

func (s *Service) confirmResult(order *models.Order, outcome SettlementOutcome) *ConfirmResult {
	dto := toDTO(order, s.cfg.ReceiptBaseURL)
	return &ConfirmResult{Order: dto, Outcome: outcome, ReceiptURL: dto.ReceiptURL}
}

// verifyIntent checks that the gateway intent really paid for this order.
func verifyIntent(order *models.Order, intent payments.PaymentIntent) error {
	if intent.OrderID() != order.ID.String() {
		return pkgerrors.New(pkgerrors.CodeConflict, "payment does not belong to order")
	}
	if want := payments.ToMinorUnits(order.TotalPrice); intent.AmountMinor != want {
		return pkgerrors.New(pkgerrors.CodeConflict, "payment amount does not match order total").
			WithDetails(map[string]any{"expected": want, "received": intent.AmountMinor})
	}
	if intent.Currency != "" && !strings.EqualFold(intent.Currency, order.Currency) {
		return pkgerrors.New(pkgerrors.CodeConflict, "payment currency does not match order").
			WithDetails(map[string]any{"expected": order.Currency, "received": intent.Currency})
	}
	if !intent.Succeeded() {
		return pkgerrors.Newf(pkgerrors.CodeConflict, "payment has not succeeded (status %s)", intent.Status).
			WithDetails(map[string]any{"status": intent.Status})
	}
	return nil
}

// HandlePaymentSucceeded settles the order behind a succeeded intent reported by the gateway.
// Unknown intents are acknowledged so the gateway stops retrying.
func (s *Service) HandlePaymentSucceeded(ctx context.Context, intent payments.PaymentIntent) (SettlementOutcome, error) {
	order, err := s.resolveIntentOrder(ctx, intent)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(s.logg.WithField(ctx, "payment_ref", intent.ID), "payment succeeded for unknown order")
			return "", nil
		}
		return "", err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	if order.PaymentRef != intent.ID || !order.PaymentMethod.UsesGateway() {
		s.logg.Warn(s.logg.WithField(ctx, "payment_ref", intent.ID), "payment reference does not match order")
		return "", nil
	}
	if err := verifyIntent(order, intent); err != nil {
		s.metrics.IncSettlement(metrics.SourceWebhook, metrics.OutcomeRejected)
		s.logg.Warn(s.logg.WithField(ctx, "reason", err.Error()), "ignoring payment event")
		return "", nil
	}

	outcome, _, err := s.settlePayment(ctx, order.ID, intent, metrics.SourceWebhook)
	return outcome, err
}

// HandlePaymentFailed records a failed attempt. The order stays created so the customer can
// retry with the same intent until it expires.
func (s *Service) HandlePaymentFailed(ctx context.Context, intent payments.PaymentIntent) error {
	order, err := s.resolveIntentOrder(ctx, intent)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil
		}
		return err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	ok, err := s.repo.CompareAndSet(ctx, order.ID,
		Guard{"status": enums.OrderStatusCreated, "payment_status": enums.PaymentStatusPending, "payment_ref": intent.ID},
		map[string]any{"payment_status": enums.PaymentStatusFailed},
	)
	if err != nil {
		return err
	}
	if ok {
		s.logg.Info(ctx, "payment attempt failed")
	}
	return nil
}

func (s *Service) resolveIntentOrder(ctx context.Context, intent payments.PaymentIntent) (*models.Order, error) {
	if raw := intent.OrderID(); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			order, err := s.repo.FindByID(ctx, id)
			if err == nil || !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				return order, err
			}
		}
	}
	if intent.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return s.repo.FindByPaymentRef(ctx, intent.ID)
}

// settlePayment is the single idempotent settlement path shared by the client confirmation
// and the webhook. The status compare-and-set decides the one winner; stock is committed only
// by that winner.
func (s *Service) settlePayment(ctx context.Context, orderID uuid.UUID, intent payments.PaymentIntent, source string) (SettlementOutcome, *models.Order, error) {
	paidAt := s.now()
	var outcome SettlementOutcome

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		won, err := repo.CompareAndSet(ctx, orderID,
			Guard{"status": enums.OrderStatusCreated, "payment_method": enums.PaymentMethodCard},
			map[string]any{
				"status":          enums.OrderStatusProcessing,
				"payment_status":  enums.PaymentStatusSucceeded,
				"paid_at":         paidAt,
				"stock_committed": true,
			},
		)
		if err != nil {
			return err
		}
		if !won {
			order, err := repo.FindByID(ctx, orderID)
			if err != nil {
				return err
			}
			if order.Status == enums.OrderStatusCancelled {
				outcome = OutcomeRefundQueued
				return s.captureOnCancelled(ctx, tx, order)
			}
			outcome = OutcomeAlreadySettled
			return nil
		}

		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if err := s.decrementLines(ctx, tx, order); err != nil {
			return err
		}
		if _, err := s.ledger.WithTx(tx).RecordEvent(ctx, ledger.RecordLedgerEventInput{
			OrderID:    order.ID,
			Type:       enums.LedgerEventTypePaymentCaptured,
			Amount:     order.TotalPrice,
			Currency:   order.Currency,
			GatewayRef: intent.ID,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment")
		}
		outcome = OutcomeSettled
		return s.emitPaid(ctx, tx, order, nil)
	})

	var stockErr *inventory.StockError
	if errors.As(err, &stockErr) {
		return s.loseRace(ctx, orderID, intent, source, stockErr)
	}
	if err != nil {
		return "", nil, err
	}

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return "", nil, err
	}
	s.metrics.IncSettlement(source, string(outcome))
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"source":  source,
		"outcome": outcome,
	}), "payment settlement")
	if outcome == OutcomeRefundQueued {
		s.attemptRefund(ctx, orderID)
	}
	return outcome, order, nil
}

// captureOnCancelled records money that arrived after the order was cancelled and queues its
// return.
func (s *Service) captureOnCancelled(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if order.PaymentStatus.IsCaptured() || order.RefundStatus != enums.RefundStatusNone {
		return nil
	}
	ok, err := s.repo.WithTx(tx).CompareAndSet(ctx, order.ID,
		Guard{"status": enums.OrderStatusCancelled, "payment_status": order.PaymentStatus},
		map[string]any{"payment_status": enums.PaymentStatusSucceeded, "paid_at": s.now()},
	)
	if err != nil || !ok {
		return err
	}
	order.PaymentStatus = enums.PaymentStatusSucceeded
	return s.queueRefund(ctx, tx, order, "payment_after_cancel", nil)
}

// loseRace cancels an order whose payment arrived after its stock was sold to someone else.
// The settlement transaction already rolled back, so no partial decrement survives.
func (s *Service) loseRace(ctx context.Context, orderID uuid.UUID, intent payments.PaymentIntent, source string, stockErr *inventory.StockError) (SettlementOutcome, *models.Order, error) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"product_id": stockErr.ProductID.String(),
		"requested":  stockErr.Requested,
	})
	s.metrics.IncInventoryConflict()

	outcome := OutcomeRaceLost
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now()
		reason := CancelReasonInsufficientStock
		won, err := repo.CompareAndSet(ctx, orderID,
			Guard{"status": enums.OrderStatusCreated},
			map[string]any{
				"status":         enums.OrderStatusCancelled,
				"payment_status": enums.PaymentStatusSucceeded,
				"paid_at":        now,
				"cancelled_at":   now,
				"cancel_reason":  reason,
			},
		)
		if err != nil {
			return err
		}
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if !won {
			if order.Status == enums.OrderStatusCancelled {
				outcome = OutcomeRefundQueued
				return s.captureOnCancelled(ctx, tx, order)
			}
			outcome = OutcomeAlreadySettled
			return nil
		}
		if err := s.queueRefund(ctx, tx, order, reason, nil); err != nil {
			return err
		}
		return s.emitCanceled(ctx, tx, order, enums.OrderStatusCreated, reason, false, nil)
	})
	if err != nil {
		return "", nil, err
	}

	s.metrics.IncSettlement(source, string(outcome))
	s.logg.Warn(s.logg.WithField(ctx, "payment_ref", intent.ID), "stock sold out before payment settled")
	if outcome != OutcomeAlreadySettled {
		s.attemptRefund(ctx, orderID)
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return "", nil, err
	}
	return outcome, order, nil
}

func (s *Service) emitCanceled(ctx context.Context, tx *gorm.DB, order *models.Order, from enums.OrderStatus, reason string, restocked bool, actor *outbox.ActorRef) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCanceled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data: payloads.OrderCanceledEvent{
			OrderID:   order.ID,
			UserID:    order.UserID,
			From:      from,
			Reason:    reason,
			Restocked: restocked,
		},
	})
}

func ledgerMetadata(values map[string]any) json.RawMessage {
	raw, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return raw
}
