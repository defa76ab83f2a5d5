package orderevents

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/registry"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type stubReceipts struct {
	calls []uuid.UUID
	err   error
}

func (s *stubReceipts) Generate(_ context.Context, orderID uuid.UUID) (*models.OrderReceipt, error) {
	s.calls = append(s.calls, orderID)
	if s.err != nil {
		return nil, s.err
	}
	return &models.OrderReceipt{OrderID: orderID}, nil
}

type stubRefunds struct {
	calls []uuid.UUID
	err   error
}

func (s *stubRefunds) ProcessRefund(_ context.Context, orderID uuid.UUID) error {
	s.calls = append(s.calls, orderID)
	return s.err
}

func newTestHandler(t *testing.T) (*Handler, *stubReceipts, *stubRefunds) {
	t.Helper()
	receipts := &stubReceipts{}
	refunds := &stubRefunds{}
	h, err := NewHandler(receipts, refunds, logger.Nop())
	require.NoError(t, err)
	return h, receipts, refunds
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestHandlerGeneratesReceiptOnPaid(t *testing.T) {
	h, receipts, refunds := newTestHandler(t)
	orderID := uuid.New()

	err := h.Handle(context.Background(), enums.EventOrderPaid, 1, payload(t, map[string]any{"order_id": orderID}))
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{orderID}, receipts.calls)
	require.Empty(t, refunds.calls)
}

func TestHandlerProcessesRefundRequests(t *testing.T) {
	h, receipts, refunds := newTestHandler(t)
	orderID := uuid.New()

	err := h.Handle(context.Background(), enums.EventOrderRefundRequested, 0, payload(t, map[string]any{"order_id": orderID}))
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{orderID}, refunds.calls)
	require.Empty(t, receipts.calls)
}

func TestHandlerIgnoresOtherEvents(t *testing.T) {
	h, receipts, refunds := newTestHandler(t)

	err := h.Handle(context.Background(), enums.EventOrderCreated, 1, payload(t, map[string]any{"order_id": uuid.New()}))
	require.ErrorIs(t, err, ErrUnhandled)
	require.Empty(t, receipts.calls)
	require.Empty(t, refunds.calls)
}

func TestHandlerMalformedPayloadIsNonRetryable(t *testing.T) {
	h, _, _ := newTestHandler(t)

	err := h.Handle(context.Background(), enums.EventOrderPaid, 1, json.RawMessage(`{"order_id":42}`))
	var nonRetry registry.NonRetryableError
	require.True(t, errors.As(err, &nonRetry))

	err = h.Handle(context.Background(), enums.EventOrderPaid, 3, payload(t, map[string]any{"order_id": uuid.New()}))
	require.True(t, errors.As(err, &nonRetry))
}

func TestHandlerSurfacesCollaboratorErrors(t *testing.T) {
	h, receipts, refunds := newTestHandler(t)
	receipts.err = errors.New("render failed")
	refunds.err = errors.New("gateway down")

	err := h.Handle(context.Background(), enums.EventOrderPaid, 1, payload(t, map[string]any{"order_id": uuid.New()}))
	require.ErrorContains(t, err, "render failed")
	err = h.Handle(context.Background(), enums.EventOrderRefundRequested, 1, payload(t, map[string]any{"order_id": uuid.New()}))
	require.ErrorContains(t, err, "gateway down")
}

func TestHandlerDropsEventsForDeletedOrders(t *testing.T) {
	h, receipts, refunds := newTestHandler(t)
	receipts.err = pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	refunds.err = pkgerrors.New(pkgerrors.CodeNotFound, "order not found")

	err := h.Handle(context.Background(), enums.EventOrderPaid, 1, payload(t, map[string]any{"order_id": uuid.New()}))
	require.True(t, registry.IsNonRetryable(err))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	err = h.Handle(context.Background(), enums.EventOrderRefundRequested, 1, payload(t, map[string]any{"order_id": uuid.New()}))
	require.True(t, registry.IsNonRetryable(err))

	receipts.err = pkgerrors.New(pkgerrors.CodeDependency, "database down")
	err = h.Handle(context.Background(), enums.EventOrderPaid, 1, payload(t, map[string]any{"order_id": uuid.New()}))
	require.False(t, registry.IsNonRetryable(err))
}
