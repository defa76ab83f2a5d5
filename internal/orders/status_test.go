package orders

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCashOrderDeliveryCollectsPayment(t *testing.T) {
	h := newHarness(t)
	productID := h.seedProduct(t, "4.00", 5)
	ctx := context.Background()

	res, err := h.svc.Create(ctx, orderInput(uuid.New(), enums.PaymentMethodCashOnDelivery, line(productID, 2)))
	require.NoError(t, err)

	shipped, err := h.svc.UpdateStatus(ctx, admin(), res.Order.ID, "shipped")
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusShipped, shipped.Status)
	require.Equal(t, enums.PaymentStatusPending, shipped.PaymentInfo.Status)

	delivered, err := h.svc.UpdateStatus(ctx, admin(), res.Order.ID, "delivered")
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusDelivered, delivered.Status)
	require.NotNil(t, delivered.DeliveredAt)
	require.Equal(t, enums.PaymentStatusSucceeded, delivered.PaymentInfo.Status)
	require.NotNil(t, delivered.PaymentInfo.PaidAt)
	require.NotEmpty(t, delivered.ReceiptURL)

	require.Equal(t, int64(1), h.countLedger(t, res.Order.ID, enums.LedgerEventTypeCashCollected))
	require.Equal(t, int64(1), h.countEvents(t, res.Order.ID, enums.EventOrderPaid))
	require.Equal(t, int64(2), h.countEvents(t, res.Order.ID, enums.EventOrderStatusChanged))
	require.Equal(t, 3, h.stock(t, productID))

	trail, err := h.svc.Ledger(ctx, admin(), res.Order.ID)
	require.NoError(t, err)
	require.Len(t, trail.Entries, 1)
	require.True(t, trail.Collected.Equal(delivered.TotalPrice))
	require.True(t, trail.Net.Equal(delivered.TotalPrice))
	require.True(t, trail.Refunded.IsZero())

	_, err = h.svc.Ledger(ctx, customer(delivered.UserID), res.Order.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	_, err = h.svc.Ledger(ctx, admin(), uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestUpdateStatusRules(t *testing.T) {
	h := newHarness(t)
	productID := h.seedProduct(t, "4.00", 10)
	ctx := context.Background()

	card, err := h.svc.Create(ctx, orderInput(uuid.New(), enums.PaymentMethodCard, line(productID, 1)))
	require.NoError(t, err)
	cod, err := h.svc.Create(ctx, orderInput(uuid.New(), enums.PaymentMethodCashOnDelivery, line(productID, 1)))
	require.NoError(t, err)

	_, err = h.svc.UpdateStatus(ctx, customer(cod.Order.UserID), cod.Order.ID, "shipped")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	for _, raw := range []string{"created", "bogus", ""} {
		_, err = h.svc.UpdateStatus(ctx, admin(), cod.Order.ID, raw)
		require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "status %q: %v", raw, err)
	}

	_, err = h.svc.UpdateStatus(ctx, admin(), card.Order.ID, "processing")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)

	_, err = h.svc.UpdateStatus(ctx, admin(), cod.Order.ID, "delivered")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	same, err := h.svc.UpdateStatus(ctx, admin(), cod.Order.ID, "processing")
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusProcessing, same.Status)
	require.Zero(t, h.countEvents(t, cod.Order.ID, enums.EventOrderStatusChanged))

	_, err = h.svc.UpdateStatus(ctx, admin(), uuid.New(), "shipped")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestCancelAfterDeliveredIsRejected(t *testing.T) {
	h := newHarness(t)
	productID := h.seedProduct(t, "4.00", 5)
	ctx := context.Background()

	res, err := h.svc.Create(ctx, orderInput(uuid.New(), enums.PaymentMethodCashOnDelivery, line(productID, 1)))
	require.NoError(t, err)
	for _, status := range []string{"shipped", "delivered"} {
		_, err = h.svc.UpdateStatus(ctx, admin(), res.Order.ID, status)
		require.NoError(t, err)
	}

	_, err = h.svc.UpdateStatus(ctx, admin(), res.Order.ID, "cancelled")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
	require.Equal(t, enums.OrderStatusDelivered, h.order(t, res.Order.ID).Status)
	require.Equal(t, 4, h.stock(t, productID))
}

func TestCancelPaidOrderRestocksEachLineAndRefunds(t *testing.T) {
	h := newHarness(t)
	first := h.seedProduct(t, "2.00", 5)
	second := h.seedProduct(t, "3.00", 5)
	userID := uuid.New()
	ctx := context.Background()

	res, intent := h.createCard(t, userID, line(first, 1), line(second, 3))
	_, err := h.svc.ConfirmPayment(ctx, customer(userID), res.Order.ID, intent.ID)
	require.NoError(t, err)
	require.Equal(t, 4, h.stock(t, first))
	require.Equal(t, 2, h.stock(t, second))

	cancelled, err := h.svc.UpdateStatus(ctx, admin(), res.Order.ID, "cancelled")
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	require.NotNil(t, cancelled.Refund)
	require.Equal(t, enums.RefundStatusSucceeded, cancelled.Refund.Status)

	require.Equal(t, 5, h.stock(t, first))
	require.Equal(t, 5, h.stock(t, second))
	require.False(t, h.order(t, res.Order.ID).StockCommitted)

	var restocks []models.InventoryMovement
	require.NoError(t, h.conn.Where("order_id = ? AND reason = ?", res.Order.ID, enums.MovementOrderCancelled).
		Order("delta ASC").Find(&restocks).Error)
	require.Len(t, restocks, 2)
	require.Equal(t, 1, restocks[0].Delta)
	require.Equal(t, 3, restocks[1].Delta)

	_, _, refunds := h.gateway.counts()
	require.Equal(t, 1, refunds)
	require.Equal(t, int64(1), h.countEvents(t, res.Order.ID, enums.EventOrderCanceled))
	require.Equal(t, int64(1), h.countEvents(t, res.Order.ID, enums.EventOrderRefundRequested))

	_, err = h.svc.UpdateStatus(ctx, admin(), res.Order.ID, "cancelled")
	require.NoError(t, err)
	require.Equal(t, 5, h.stock(t, first))
	_, _, refunds = h.gateway.counts()
	require.Equal(t, 1, refunds)
}

func TestCancelCashOrderRestocksWithoutRefund(t *testing.T) {
	h := newHarness(t)
	productID := h.seedProduct(t, "4.00", 5)
	ctx := context.Background()

	res, err := h.svc.Create(ctx, orderInput(uuid.New(), enums.PaymentMethodCashOnDelivery, line(productID, 2)))
	require.NoError(t, err)
	_, err = h.svc.UpdateStatus(ctx, admin(), res.Order.ID, "cancelled")
	require.NoError(t, err)

	require.Equal(t, 5, h.stock(t, productID))
	order := h.order(t, res.Order.ID)
	require.Equal(t, enums.RefundStatusNone, order.RefundStatus)
	_, cancelled, refunds := h.gateway.counts()
	require.Zero(t, cancelled)
	require.Zero(t, refunds)
}

func TestDeleteRestocksAndRemovesOrder(t *testing.T) {
	h := newHarness(t)
	productID := h.seedProduct(t, "4.00", 5)
	ctx := context.Background()

	res, err := h.svc.Create(ctx, orderInput(uuid.New(), enums.PaymentMethodCashOnDelivery, line(productID, 2)))
	require.NoError(t, err)
	require.Equal(t, 3, h.stock(t, productID))

	require.True(t, pkgerrors.IsCode(h.svc.Delete(ctx, customer(res.Order.UserID), res.Order.ID), pkgerrors.CodeForbidden))
	require.NoError(t, h.svc.Delete(ctx, admin(), res.Order.ID))

	require.Equal(t, 5, h.stock(t, productID))
	require.Zero(t, h.countOrders(t))
	var items int64
	require.NoError(t, h.conn.Model(&models.OrderLineItem{}).Count(&items).Error)
	require.Zero(t, items)
	require.Equal(t, int64(1), h.countEvents(t, res.Order.ID, enums.EventOrderDeleted))
	_, _, refunds := h.gateway.counts()
	require.Zero(t, refunds)

	require.True(t, pkgerrors.IsCode(h.svc.Delete(ctx, admin(), res.Order.ID), pkgerrors.CodeNotFound))
}

// settleAfterLoad runs hook once, right after the first order read returns.
type settleAfterLoad struct {
	Repository
	fired bool
	hook  func()
}

func (r *settleAfterLoad) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := r.Repository.FindByID(ctx, id)
	if !r.fired {
		r.fired = true
		r.hook()
	}
	return order, err
}

func TestDeleteRestocksStockCommittedAfterFirstRead(t *testing.T) {
	h := newHarness(t)
	productID := h.seedProduct(t, "4.00", 5)
	ctx := context.Background()

	res, intent := h.createCard(t, uuid.New(), line(productID, 2))
	require.Equal(t, 5, h.stock(t, productID))

	h.svc.repo = &settleAfterLoad{Repository: h.svc.repo, hook: func() {
		outcome, err := h.svc.HandlePaymentSucceeded(ctx, intent)
		require.NoError(t, err)
		require.Equal(t, OutcomeSettled, outcome)
		require.Equal(t, 3, h.stock(t, productID))
	}}

	require.NoError(t, h.svc.Delete(ctx, admin(), res.Order.ID))

	require.Equal(t, 5, h.stock(t, productID))
	require.Zero(t, h.countOrders(t))
	var movements int64
	require.NoError(t, h.conn.Model(&models.InventoryMovement{}).
		Where("reason = ?", enums.MovementOrderDeleted).Count(&movements).Error)
	require.Equal(t, int64(1), movements)
	_, cancelled, _ := h.gateway.counts()
	require.Zero(t, cancelled)
}

func TestDeleteCancelsOpenPaymentIntent(t *testing.T) {
	h := newHarness(t)
	productID := h.seedProduct(t, "4.00", 5)
	ctx := context.Background()

	res, err := h.svc.Create(ctx, orderInput(uuid.New(), enums.PaymentMethodCard, line(productID, 1)))
	require.NoError(t, err)

	require.NoError(t, h.svc.Delete(ctx, admin(), res.Order.ID))

	require.Equal(t, []string{res.Order.PaymentInfo.ID}, h.gateway.cancelled)
	require.Equal(t, 5, h.stock(t, productID))
	require.Zero(t, h.countOrders(t))
}

func TestExpireStaleCancelsUnpaidCardOrders(t *testing.T) {
	h := newHarness(t)
	productID := h.seedProduct(t, "4.00", 5)
	ctx := context.Background()

	stale, err := h.svc.Create(ctx, orderInput(uuid.New(), enums.PaymentMethodCard, line(productID, 1)))
	require.NoError(t, err)
	fresh, err := h.svc.Create(ctx, orderInput(uuid.New(), enums.PaymentMethodCard, line(productID, 1)))
	require.NoError(t, err)
	require.NoError(t, h.conn.Model(&models.Order{}).Where("id = ?", stale.Order.ID).
		UpdateColumn("created_at", time.Now().UTC().Add(-2*time.Hour)).Error)

	expired, err := h.svc.ExpireStale(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	order := h.order(t, stale.Order.ID)
	require.Equal(t, enums.OrderStatusCancelled, order.Status)
	require.Equal(t, CancelReasonPaymentTimeout, *order.CancelReason)
	require.Equal(t, enums.OrderStatusCreated, h.order(t, fresh.Order.ID).Status)
	require.Equal(t, 5, h.stock(t, productID))
	require.Equal(t, []string{stale.Order.PaymentInfo.ID}, h.gateway.cancelled)
	require.Equal(t, int64(1), h.countEvents(t, stale.Order.ID, enums.EventOrderCanceled))

	expired, err = h.svc.ExpireStale(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, expired)
}
