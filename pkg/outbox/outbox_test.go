package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

func TestEmitWritesEnvelopeInTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	orderID := uuid.New()
	actor := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &ActorRef{UserID: actor, Role: "customer"},
			Data:          map[string]string{"order_id": orderID.String()},
		})
	})
	require.NoError(t, err)

	rows, err := repo.ListByAggregate(context.Background(), enums.AggregateOrder, orderID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	assert.Equal(t, actor, envelope.Actor.UserID)
	assert.JSONEq(t, `{"order_id":"`+orderID.String()+`"}`, string(envelope.Data))
}

func TestEmitRollsBackWithCaller(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	orderID := uuid.New()

	boom := errors.New("boom")
	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data:          struct{}{},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	rows, err := repo.ListByAggregate(context.Background(), enums.AggregateOrder, orderID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEmitValidatesEvent(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)

	assert.Error(t, svc.Emit(context.Background(), nil, DomainEvent{}))
	assert.Error(t, svc.Emit(context.Background(), conn, DomainEvent{EventType: "bogus", AggregateID: uuid.New()}))
	assert.Error(t, svc.Emit(context.Background(), conn, DomainEvent{EventType: enums.EventOrderPaid}))
}

func TestEmitStampsClockAndIDWhenUnset(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eventID := uuid.New()
	svc.now = func() time.Time { return fixed }
	svc.newID = func() uuid.UUID { return eventID }
	productID := uuid.New()

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventInventoryAdjusted,
			AggregateType: enums.AggregateProduct,
			AggregateID:   productID,
			Version:       2,
			Data:          map[string]int{"delta": -3},
		})
	}))

	rows, err := repo.ListByAggregate(context.Background(), enums.AggregateProduct, productID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, eventID.String(), envelope.EventID)
	assert.True(t, fixed.Equal(envelope.OccurredAt))
	assert.Equal(t, 2, envelope.Version)
	assert.Nil(t, envelope.Actor)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	err := DomainEvent{EventType: "bogus"}.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown outbox event type")
	assert.Contains(t, err.Error(), "aggregate id required")
}

func TestPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	first := models.OutboxEvent{EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	second := models.OutboxEvent{EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	require.NoError(t, repo.Insert(conn, first))
	require.NoError(t, repo.Insert(conn, second))

	var pending []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		pending, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, pending, 2)

	require.NoError(t, repo.MarkPublishedTx(conn, pending[0].ID))
	require.NoError(t, repo.MarkFailedTx(conn, pending[1].ID, errors.New("pubsub down")))
	require.NoError(t, repo.MarkFailedTx(conn, pending[1].ID, errors.New("pubsub down")))

	remaining, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, 2, remaining[0].AttemptCount)
	require.NotNil(t, remaining[0].LastError)

	require.NoError(t, repo.MarkTerminalTx(conn, remaining[0].ID, errors.New("gave up"), 3))
	remaining, err = repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDeletePublishedBefore(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()

	rows := []models.OutboxEvent{
		{EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), PublishedAt: &old},
		{EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), PublishedAt: &recent},
		{EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)},
	}
	for _, row := range rows {
		require.NoError(t, repo.Insert(conn, row))
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	_, err := repo.DeletePublishedBefore(context.Background(), conn, cutoff, 0)
	require.Error(t, err)
	deleted, err := repo.DeletePublishedBefore(context.Background(), conn, cutoff, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestDLQBuryTruncatesMessageAndCounts(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := NewDLQRepository(conn)
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		AttemptCount:  10,
	}
	cause := errors.New(strings.Repeat("x", maxDLQErrorLen+50))

	require.NoError(t, dlq.Bury(conn, event, enums.OutboxDLQReasonMaxAttempts, cause))
	require.Error(t, dlq.Bury(conn, event, enums.OutboxDLQErrorReason("bogus"), cause))

	found, err := dlq.FindByEventID(context.Background(), event.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Len(t, *found.ErrorMessage, maxDLQErrorLen)
	assert.Equal(t, 10, found.AttemptCount)

	missing, err := dlq.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	counts, err := dlq.CountByReason(context.Background(), time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[enums.OutboxDLQReasonMaxAttempts])
	assert.Zero(t, counts[enums.OutboxDLQReasonNonRetryable])
}
