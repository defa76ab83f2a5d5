// Package receipts renders and serves the PDF receipt of a paid order.
package receipts

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const contentType = "application/pdf"

type orderLoader interface {
	Load(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type store interface {
	Find(ctx context.Context, orderID uuid.UUID) (*models.OrderReceipt, error)
	Save(ctx context.Context, receipt *models.OrderReceipt) error
}

// Service generates receipts once per paid order.
type Service struct {
	orders orderLoader
	store  store
	logg   *logger.Logger
	now    func() time.Time
	group  singleflight.Group
}

func NewService(orders orderLoader, store store, logg *logger.Logger) (*Service, error) {
	if orders == nil {
		return nil, fmt.Errorf("order loader required")
	}
	if store == nil {
		return nil, fmt.Errorf("receipt store required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		orders: orders,
		store:  store,
		logg:   logg,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Generate renders and stores the receipt if it does not exist yet. Concurrent calls for the
// same order share one render.
func (s *Service) Generate(ctx context.Context, orderID uuid.UUID) (*models.OrderReceipt, error) {
	v, err, _ := s.group.Do(orderID.String(), func() (interface{}, error) {
		return s.generate(ctx, orderID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.OrderReceipt), nil
}

func (s *Service) generate(ctx context.Context, orderID uuid.UUID) (*models.OrderReceipt, error) {
	existing, err := s.store.Find(ctx, orderID)
	if err == nil {
		return existing, nil
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return nil, err
	}

	order, err := s.orders.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.PaymentStatus.IsCaptured() {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order has not been paid")
	}

	issuedAt := s.now()
	content, err := Render(order, issuedAt)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render receipt")
	}
	receipt := &models.OrderReceipt{
		OrderID:     order.ID,
		FileName:    FileName(order.ID),
		ContentType: contentType,
		Content:     content,
		SizeBytes:   int64(len(content)),
		GeneratedAt: issuedAt,
	}
	if err := s.store.Save(ctx, receipt); err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id":   order.ID.String(),
		"size_bytes": receipt.SizeBytes,
	}), "receipt generated")
	// another replica may have stored first
	return s.store.Find(ctx, orderID)
}

// Get returns the receipt to the order's owner or an administrator. Paid orders whose receipt
// has not been produced yet are rendered on demand.
func (s *Service) Get(ctx context.Context, actor orders.Actor, orderID uuid.UUID) (*models.OrderReceipt, error) {
	order, err := s.orders.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && (actor.UserID == uuid.Nil || actor.UserID != order.UserID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	if !order.PaymentStatus.IsCaptured() {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "receipt not found")
	}
	return s.Generate(ctx, orderID)
}

// FileName is the download name of an order's receipt.
func FileName(orderID uuid.UUID) string {
	return "receipt-" + orderID.String() + ".pdf"
}
