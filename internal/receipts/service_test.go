package receipts

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	order *models.Order
	loads atomic.Int32
}

func (f *fakeLoader) Load(_ context.Context, orderID uuid.UUID) (*models.Order, error) {
	f.loads.Add(1)
	if f.order == nil || f.order.ID != orderID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	copied := *f.order
	return &copied, nil
}

func paidOrder() *models.Order {
	paidAt := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	return &models.Order{
		ID:     uuid.New(),
		UserID: uuid.New(),
		ShippingInfo: types.ShippingInfo{
			FullName: "Zoë Buyer",
			Address:  "1 Market St",
			City:     "Springfield",
			Country:  "US",
		},
		ItemsPrice:    decimal.RequireFromString("20.00"),
		TaxPrice:      decimal.RequireFromString("1.50"),
		ShippingPrice: decimal.RequireFromString("5.00"),
		TotalPrice:    decimal.RequireFromString("26.50"),
		Currency:      "usd",
		Status:        enums.OrderStatusProcessing,
		PaymentMethod: enums.PaymentMethodCard,
		PaymentRef:    "pi_1",
		PaymentStatus: enums.PaymentStatusSucceeded,
		PaidAt:        &paidAt,
		CreatedAt:     paidAt.Add(-time.Minute),
		Items: []models.OrderLineItem{{
			ProductID: uuid.New(),
			Name:      "Crème brûlée torch with an unusually long descriptive product name",
			UnitPrice: decimal.RequireFromString("10.00"),
			Quantity:  2,
			LineTotal: decimal.RequireFromString("20.00"),
		}},
	}
}

func newService(t *testing.T, order *models.Order) (*Service, *fakeLoader) {
	t.Helper()
	loader := &fakeLoader{order: order}
	svc, err := NewService(loader, NewRepository(dbtest.Open(t)), nil)
	require.NoError(t, err)
	return svc, loader
}

func TestRenderProducesPDF(t *testing.T) {
	content, err := Render(paidOrder(), time.Now())
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(content, []byte("%PDF-")))
}

func TestGenerateIsIdempotent(t *testing.T) {
	order := paidOrder()
	svc, _ := newService(t, order)
	ctx := context.Background()

	first, err := svc.Generate(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, FileName(order.ID), first.FileName)
	require.Equal(t, "application/pdf", first.ContentType)
	require.Equal(t, int64(len(first.Content)), first.SizeBytes)

	second, err := svc.Generate(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, first.GeneratedAt.Unix(), second.GeneratedAt.Unix())
	require.Equal(t, first.Content, second.Content)
}

func TestConcurrentGenerateStoresOnce(t *testing.T) {
	order := paidOrder()
	svc, _ := newService(t, order)

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Generate(context.Background(), order.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := svc.store.Find(context.Background(), order.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored.Content)
}

func TestGenerateRequiresPayment(t *testing.T) {
	order := paidOrder()
	order.PaymentStatus = enums.PaymentStatusPending
	order.PaidAt = nil
	svc, _ := newService(t, order)

	_, err := svc.Generate(context.Background(), order.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestGetAuthorization(t *testing.T) {
	order := paidOrder()
	svc, _ := newService(t, order)
	ctx := context.Background()

	receipt, err := svc.Get(ctx, orders.Actor{UserID: order.UserID, Role: enums.UserRoleCustomer}, order.ID)
	require.NoError(t, err)
	require.NotEmpty(t, receipt.Content)

	_, err = svc.Get(ctx, orders.Actor{UserID: uuid.New(), Role: enums.UserRoleCustomer}, order.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = svc.Get(ctx, orders.Actor{UserID: uuid.New(), Role: enums.UserRoleAdmin}, order.ID)
	require.NoError(t, err)

	_, err = svc.Get(ctx, orders.Actor{UserID: order.UserID}, uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestGetUnpaidOrderIsNotFound(t *testing.T) {
	order := paidOrder()
	order.PaymentStatus = enums.PaymentStatusPending
	svc, _ := newService(t, order)

	_, err := svc.Get(context.Background(), orders.Actor{UserID: order.UserID}, order.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
