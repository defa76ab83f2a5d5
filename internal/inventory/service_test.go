package inventory

import (
	"context"
	"testing"

	"github.com/angelmondragon/marketplace-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestServiceAdjustEmitsEvent(t *testing.T) {
	client := dbtest.Client(t)
	conn := client.DB()
	productID := seedProduct(t, conn, 1)
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), nil)

	svc, err := NewService(NewLedger(conn), client, outboxSvc, nil)
	require.NoError(t, err)

	res, err := svc.Adjust(context.Background(), AdjustInput{ProductID: productID, Delta: 4, ActorUserID: uuid.New()})
	require.NoError(t, err)
	require.Equal(t, 5, res.Stock)

	var events []models.OutboxEvent
	require.NoError(t, conn.Where("aggregate_id = ?", productID).Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, enums.EventInventoryAdjusted, events[0].EventType)
	require.Equal(t, enums.AggregateProduct, events[0].AggregateType)
}

func TestServiceAdjustMapsErrors(t *testing.T) {
	client := dbtest.Client(t)
	conn := client.DB()
	productID := seedProduct(t, conn, 1)
	svc, err := NewService(NewLedger(conn), client, outbox.NewService(outbox.NewRepository(conn), nil), nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.Adjust(ctx, AdjustInput{ProductID: productID, Delta: -2})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)

	_, err = svc.Adjust(ctx, AdjustInput{ProductID: uuid.New(), Delta: 1})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)

	_, err = svc.Adjust(ctx, AdjustInput{ProductID: productID})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	require.Zero(t, count)
}
