package orderevents

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/registry"
)

type memoryDedupe struct {
	states   map[uuid.UUID]idempotency.State
	released []uuid.UUID
	err      error
}

func (m *memoryDedupe) Begin(_ context.Context, _ string, id uuid.UUID) (idempotency.State, error) {
	if m.err != nil {
		return idempotency.InFlight, m.err
	}
	if state, ok := m.states[id]; ok {
		return state, nil
	}
	m.states[id] = idempotency.InFlight
	return idempotency.Claimed, nil
}

func (m *memoryDedupe) Complete(_ context.Context, _ string, id uuid.UUID) error {
	m.states[id] = idempotency.Done
	return nil
}

func (m *memoryDedupe) Release(_ context.Context, _ string, id uuid.UUID) error {
	m.released = append(m.released, id)
	delete(m.states, id)
	return nil
}

type recordingHandler struct {
	calls int
	err   error
}

func (r *recordingHandler) Handle(context.Context, enums.OutboxEventType, int, json.RawMessage) error {
	r.calls++
	return r.err
}

type nopReceiver struct{}

func (nopReceiver) Receive(context.Context, func(context.Context, *gcppubsub.Message)) error {
	return nil
}

func newTestService(t *testing.T, handler eventHandler) (*Service, *memoryDedupe) {
	t.Helper()
	d := &memoryDedupe{states: map[uuid.UUID]idempotency.State{}}
	svc, err := NewService(nopReceiver{}, handler, d, logger.Nop())
	require.NoError(t, err)
	return svc, d
}

func message(t *testing.T, eventID string, eventType enums.OutboxEventType) *gcppubsub.Message {
	t.Helper()
	data, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"order_id":"` + uuid.NewString() + `"}`),
	})
	require.NoError(t, err)
	return &gcppubsub.Message{
		ID:         "msg-1",
		Data:       data,
		Attributes: map[string]string{"event_type": string(eventType)},
	}
}

func TestServiceHandlesEachEventOnce(t *testing.T) {
	handler := &recordingHandler{}
	svc, _ := newTestService(t, handler)
	msg := message(t, uuid.NewString(), enums.EventOrderPaid)

	require.Equal(t, ack, svc.process(context.Background(), msg))
	require.Equal(t, ack, svc.process(context.Background(), msg))
	require.Equal(t, 1, handler.calls)
}

func TestServiceRedeliversWhileAnotherDeliveryHoldsLease(t *testing.T) {
	handler := &recordingHandler{}
	svc, d := newTestService(t, handler)
	eventID := uuid.New()
	d.states[eventID] = idempotency.InFlight

	require.Equal(t, nack, svc.process(context.Background(), message(t, eventID.String(), enums.EventOrderPaid)))
	require.Zero(t, handler.calls)
}

func TestServiceNacksAndReleasesOnFailure(t *testing.T) {
	handler := &recordingHandler{err: errors.New("gateway down")}
	svc, d := newTestService(t, handler)
	eventID := uuid.New()
	msg := message(t, eventID.String(), enums.EventOrderRefundRequested)

	require.Equal(t, nack, svc.process(context.Background(), msg))
	require.Equal(t, []uuid.UUID{eventID}, d.released)

	handler.err = nil
	require.Equal(t, ack, svc.process(context.Background(), msg))
	require.Equal(t, 2, handler.calls)
	require.Equal(t, idempotency.Done, d.states[eventID])
}

func TestServiceAcksUnhandledAndPoisonMessages(t *testing.T) {
	handler := &recordingHandler{err: ErrUnhandled}
	svc, d := newTestService(t, handler)
	require.Equal(t, ack, svc.process(context.Background(), message(t, uuid.NewString(), enums.EventOrderCreated)))

	handler.err = registry.NewNonRetryableError(errors.New("bad payload"))
	require.Equal(t, ack, svc.process(context.Background(), message(t, uuid.NewString(), enums.EventOrderPaid)))
	require.Empty(t, d.released)

	bad := &gcppubsub.Message{ID: "msg-2", Data: []byte("not json")}
	require.Equal(t, ack, svc.process(context.Background(), bad))
	require.Equal(t, ack, svc.process(context.Background(), message(t, "not-a-uuid", enums.EventOrderPaid)))
	require.Equal(t, 2, handler.calls)
}

func TestServiceNacksWhenIdempotencyStoreFails(t *testing.T) {
	handler := &recordingHandler{}
	svc, d := newTestService(t, handler)
	d.err = errors.New("redis down")

	require.Equal(t, nack, svc.process(context.Background(), message(t, uuid.NewString(), enums.EventOrderPaid)))
	require.Zero(t, handler.calls)
}

func TestServiceAcksReceiptForDeletedOrder(t *testing.T) {
	h, receipts, _ := newTestHandler(t)
	receipts.err = pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	svc, d := newTestService(t, h)
	eventID := uuid.New()

	require.Equal(t, ack, svc.process(context.Background(), message(t, eventID.String(), enums.EventOrderPaid)))
	require.Len(t, receipts.calls, 1)
	require.Empty(t, d.released)
	require.Equal(t, idempotency.Done, d.states[eventID])
}
