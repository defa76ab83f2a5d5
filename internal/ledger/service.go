package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

var errOrderRequired = errors.New("ledger: order id required")

type store interface {
	bind(tx *gorm.DB) store
	insert(ctx context.Context, event *models.LedgerEvent) error
	forOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error)
}

// Service records the money trail of an order.
type Service interface {
	WithTx(tx *gorm.DB) Service
	RecordEvent(ctx context.Context, input RecordLedgerEventInput) (*models.LedgerEvent, error)
	Summarize(ctx context.Context, orderID uuid.UUID) (*Summary, error)
}

type RecordLedgerEventInput struct {
	OrderID     uuid.UUID
	ActorUserID *uuid.UUID
	Type        enums.LedgerEventType
	Amount      decimal.Decimal
	Currency    string
	GatewayRef  string
	Metadata    json.RawMessage
}

func (in RecordLedgerEventInput) check() error {
	switch {
	case in.OrderID == uuid.Nil:
		return errOrderRequired
	case !in.Type.IsValid():
		return fmt.Errorf("ledger: invalid event type %q", in.Type)
	case in.Amount.IsNegative():
		return errors.New("ledger: amount must not be negative")
	case strings.TrimSpace(in.Currency) == "":
		return errors.New("ledger: currency required")
	}
	return nil
}

type service struct {
	store store
}

func NewService(repo *Repository) (Service, error) {
	if repo == nil {
		return nil, errors.New("ledger: repository required")
	}
	return &service{store: repo}, nil
}

// WithTx returns a service whose writes join tx, so a ledger row commits
// with the order change that caused it.
func (s *service) WithTx(tx *gorm.DB) Service {
	return &service{store: s.store.bind(tx)}
}

func (s *service) RecordEvent(ctx context.Context, input RecordLedgerEventInput) (*models.LedgerEvent, error) {
	if err := input.check(); err != nil {
		return nil, err
	}
	event := &models.LedgerEvent{
		OrderID:     input.OrderID,
		ActorUserID: input.ActorUserID,
		Type:        input.Type,
		Amount:      input.Amount.Round(2),
		Currency:    strings.ToLower(strings.TrimSpace(input.Currency)),
		Metadata:    input.Metadata,
	}
	if ref := strings.TrimSpace(input.GatewayRef); ref != "" {
		event.GatewayRef = &ref
	}
	if err := s.store.insert(ctx, event); err != nil {
		return nil, fmt.Errorf("ledger: insert %s: %w", input.Type, err)
	}
	return event, nil
}

func (s *service) Summarize(ctx context.Context, orderID uuid.UUID) (*Summary, error) {
	if orderID == uuid.Nil {
		return nil, errOrderRequired
	}
	events, err := s.store.forOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	sum := summarize(events)
	sum.OrderID = orderID
	return &sum, nil
}
