package orders

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/marketplace-backend/internal/ledger"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UpdateStatus moves an order through the state machine on behalf of an administrator.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, orderID uuid.UUID, rawStatus string) (*OrderDTO, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	target, err := parseAdminTarget(rawStatus)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == target {
		dto := toDTO(order, s.cfg.ReceiptBaseURL)
		return &dto, nil
	}
	if err := checkAdminTransition(order, target); err != nil {
		return nil, err
	}

	if target == enums.OrderStatusCancelled {
		err = s.cancel(ctx, order, CancelReasonAdmin, &actor)
	} else {
		err = s.advance(ctx, order, target, actor)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.IncTransition(target.String())
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"from": order.Status,
		"to":   target,
	}), "order status updated")

	updated, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	dto := toDTO(updated, s.cfg.ReceiptBaseURL)
	return &dto, nil
}

func actorRef(actor *Actor) *outbox.ActorRef {
	if actor == nil || actor.UserID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: actor.UserID, Role: actor.Role.String()}
}

func actorID(actor *Actor) *uuid.UUID {
	if actor == nil || actor.UserID == uuid.Nil {
		return nil
	}
	id := actor.UserID
	return &id
}

func staleTransition(order *models.Order) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "order was modified concurrently; reload and retry").
		WithDetails(map[string]any{"order_id": order.ID.String()})
}

// advance applies a non-cancelling transition.
func (s *Service) advance(ctx context.Context, order *models.Order, target enums.OrderStatus, actor Actor) error {
	now := s.now()
	updates := map[string]any{"status": target}
	collectCash := false
	if target == enums.OrderStatusDelivered {
		if order.DeliveredAt == nil {
			updates["delivered_at"] = now
		}
		if order.PaymentMethod == enums.PaymentMethodCashOnDelivery && !order.PaymentStatus.IsCaptured() {
			updates["payment_status"] = enums.PaymentStatusSucceeded
			updates["paid_at"] = now
			collectCash = true
		}
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).CompareAndSet(ctx, order.ID, Guard{"status": order.Status}, updates)
		if err != nil {
			return err
		}
		if !ok {
			return staleTransition(order)
		}
		ref := actorRef(&actor)
		if collectCash {
			if _, err := s.ledger.WithTx(tx).RecordEvent(ctx, ledger.RecordLedgerEventInput{
				OrderID:     order.ID,
				ActorUserID: actorID(&actor),
				Type:        enums.LedgerEventTypeCashCollected,
				Amount:      order.TotalPrice,
				Currency:    order.Currency,
				GatewayRef:  enums.CashOnDeliveryReference,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record cash collection")
			}
			paid := *order
			paid.PaidAt = &now
			if err := s.emitPaid(ctx, tx, &paid, ref); err != nil {
				return err
			}
		}
		return s.emitStatusChanged(ctx, tx, order, target, ref)
	})
}

// cancel moves the order to cancelled, restocks committed inventory exactly once and queues a
// refund when card money was captured. The refund is attempted inline after commit.
func (s *Service) cancel(ctx context.Context, order *models.Order, reason string, actor *Actor) error {
	from := order.Status
	refundQueued := false
	restocked := false

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now()
		ok, err := repo.CompareAndSet(ctx, order.ID, Guard{"status": from}, map[string]any{
			"status":        enums.OrderStatusCancelled,
			"cancelled_at":  now,
			"cancel_reason": reason,
		})
		if err != nil {
			return err
		}
		if !ok {
			return staleTransition(order)
		}

		if order.StockCommitted {
			released, err := repo.CompareAndSet(ctx, order.ID, Guard{"stock_committed": true}, map[string]any{"stock_committed": false})
			if err != nil {
				return err
			}
			if released {
				if err := s.restockLines(ctx, tx, order, enums.MovementOrderCancelled, actorID(actor)); err != nil {
					return err
				}
				restocked = true
			}
		}

		if order.PaymentMethod.UsesGateway() &&
			order.PaymentStatus == enums.PaymentStatusSucceeded &&
			order.RefundStatus == enums.RefundStatusNone {
			if err := s.queueRefund(ctx, tx, order, reason, actor); err != nil {
				return err
			}
			refundQueued = true
		}

		ref := actorRef(actor)
		if actor != nil {
			if err := s.emitStatusChanged(ctx, tx, order, enums.OrderStatusCancelled, ref); err != nil {
				return err
			}
		}
		return s.emitCanceled(ctx, tx, order, from, reason, restocked, ref)
	})
	if err != nil {
		return err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"reason":        reason,
		"restocked":     restocked,
		"refund_queued": refundQueued,
	}), "order cancelled")
	if refundQueued {
		s.attemptRefund(ctx, order.ID)
	}
	if from == enums.OrderStatusCreated && order.PaymentMethod.UsesGateway() {
		s.cancelIntentBestEffort(ctx, order.PaymentRef)
	}
	return nil
}

// Delete removes an order for an administrator, returning committed stock first. Captured
// payments are not refunded.
func (s *Service) Delete(ctx context.Context, actor Actor, orderID uuid.UUID) error {
	if !actor.IsAdmin() {
		return pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	if _, err := s.repo.FindByID(ctx, orderID); err != nil {
		return err
	}

	var order *models.Order
	restocked := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		order = current
		// A settlement may have committed stock after the first read, so the flag is
		// always released through the guarded update rather than the loaded snapshot.
		released, err := repo.CompareAndSet(ctx, order.ID, Guard{"stock_committed": true}, map[string]any{"stock_committed": false})
		if err != nil {
			return err
		}
		if released {
			if err := s.restockLines(ctx, tx, order, enums.MovementOrderDeleted, actorID(&actor)); err != nil {
				return err
			}
			restocked = true
		}
		if err := repo.Delete(ctx, order.ID); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderDeleted,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorRef(&actor),
			Data: payloads.OrderDeletedEvent{
				OrderID:   order.ID,
				UserID:    order.UserID,
				Status:    order.Status,
				Restocked: restocked,
			},
		})
	})
	if err != nil {
		return err
	}

	s.logg.Info(s.logg.WithField(ctx, "restocked", restocked), "order deleted")
	if order.Status == enums.OrderStatusCreated && order.PaymentMethod.UsesGateway() {
		s.cancelIntentBestEffort(ctx, order.PaymentRef)
	}
	return nil
}

// ExpireStale cancels card orders that never received a payment within the pending TTL.
// Stock was never committed for them, so nothing is restocked.
func (s *Service) ExpireStale(ctx context.Context, limit int) (int, error) {
	ttl := s.cfg.PendingTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	stale, err := s.repo.FindStaleCardOrders(ctx, s.now().Add(-ttl), limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range stale {
		order := &stale[i]
		orderCtx := s.logg.WithOrderID(ctx, order.ID.String())
		err := s.tx.WithTx(orderCtx, func(tx *gorm.DB) error {
			ok, err := s.repo.WithTx(tx).CompareAndSet(orderCtx, order.ID,
				Guard{"status": enums.OrderStatusCreated, "payment_method": enums.PaymentMethodCard},
				map[string]any{
					"status":        enums.OrderStatusCancelled,
					"cancelled_at":  s.now(),
					"cancel_reason": CancelReasonPaymentTimeout,
				},
			)
			if err != nil || !ok {
				if err == nil {
					err = errSkipExpiry
				}
				return err
			}
			return s.emitCanceled(orderCtx, tx, order, enums.OrderStatusCreated, CancelReasonPaymentTimeout, false, nil)
		})
		if errors.Is(err, errSkipExpiry) {
			continue
		}
		if err != nil {
			return expired, err
		}
		expired++
		s.metrics.IncTransition(enums.OrderStatusCancelled.String())
		s.cancelIntentBestEffort(orderCtx, order.PaymentRef)
		s.logg.Info(orderCtx, "expired unpaid order")
	}
	return expired, nil
}

var errSkipExpiry = pkgerrors.New(pkgerrors.CodeConflict, "order no longer awaiting payment")

func (s *Service) emitStatusChanged(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, actor *outbox.ActorRef) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data: payloads.OrderStatusChangedEvent{
			OrderID: order.ID,
			UserID:  order.UserID,
			From:    order.Status,
			To:      to,
		},
	})
}
