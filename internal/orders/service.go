package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/marketplace-backend/internal/inventory"
	"github.com/angelmondragon/marketplace-backend/internal/ledger"
	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-backend/pkg/pagination"
	"github.com/angelmondragon/marketplace-backend/pkg/payments"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ServiceParams wires the order engine.
type ServiceParams struct {
	Repository Repository
	Products   ProductReader
	Inventory  *inventory.Ledger
	Ledger     ledger.Service
	Gateway    PaymentGateway
	Tx         txRunner
	Outbox     outboxPublisher
	Metrics    *metrics.OrderMetrics
	Logger     *logger.Logger
	Config     config.OrdersConfig
	Currency   string
	Now        func() time.Time
}

// Service is the order lifecycle engine.
type Service struct {
	repo      Repository
	products  ProductReader
	inventory *inventory.Ledger
	ledger    ledger.Service
	gateway   PaymentGateway
	tx        txRunner
	outbox    outboxPublisher
	metrics   *metrics.OrderMetrics
	logg      *logger.Logger
	cfg       config.OrdersConfig
	currency  string
	now       func() time.Time
}

// NewService builds the order engine with the required dependencies.
func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Repository == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Products == nil:
		return nil, fmt.Errorf("product reader required")
	case params.Inventory == nil:
		return nil, fmt.Errorf("inventory ledger required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("payment ledger required")
	case params.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	}
	currency := strings.ToLower(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "usd"
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	cfg := params.Config
	if cfg.MaxLineItems <= 0 {
		cfg.MaxLineItems = 50
	}
	return &Service{
		repo:      params.Repository,
		products:  params.Products,
		inventory: params.Inventory,
		ledger:    params.Ledger,
		gateway:   params.Gateway,
		tx:        params.Tx,
		outbox:    params.Outbox,
		metrics:   params.Metrics,
		logg:      logg,
		cfg:       cfg,
		currency:  currency,
		now:       now,
	}, nil
}

type pricedLine struct {
	product  models.Product
	quantity int
	total    decimal.Decimal
}

// Create validates the cart against the catalog and persists a new order. Card orders get a
// payment intent before anything is written; cash-on-delivery orders commit stock in the
// same transaction that inserts the order.
func (s *Service) Create(ctx context.Context, input CreateOrderInput) (*CreateResult, error) {
	if err := s.validateCreate(input); err != nil {
		return nil, err
	}

	lines, itemsPrice, err := s.priceLines(ctx, mergeLines(input.Items))
	if err != nil {
		return nil, err
	}
	tax := input.TaxPrice.Round(2)
	shipping := input.ShippingPrice.Round(2)
	total := itemsPrice.Add(tax).Add(shipping)

	if input.ItemsPrice != nil && !input.ItemsPrice.Round(2).Equal(itemsPrice) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "items price does not match catalog prices").
			WithDetails(map[string]any{"expected": itemsPrice.StringFixed(2), "received": input.ItemsPrice.StringFixed(2)})
	}
	if input.TotalPrice != nil && !input.TotalPrice.Round(2).Equal(total) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "total price does not match price breakdown").
			WithDetails(map[string]any{"expected": total.StringFixed(2), "received": input.TotalPrice.StringFixed(2)})
	}

	order := &models.Order{
		ID:            uuid.New(),
		UserID:        input.UserID,
		ShippingInfo:  input.ShippingInfo,
		ItemsPrice:    itemsPrice,
		TaxPrice:      tax,
		ShippingPrice: shipping,
		TotalPrice:    total,
		Currency:      s.currency,
		PaymentMethod: input.PaymentMethod,
		RefundStatus:  enums.RefundStatusNone,
		Items:         snapshotItems(lines),
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	var result *CreateResult
	switch input.PaymentMethod {
	case enums.PaymentMethodCard:
		result, err = s.createCardOrder(ctx, order)
	default:
		result, err = s.createCashOrder(ctx, order, lines)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.IncCreated(string(order.PaymentMethod))
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"payment_method": order.PaymentMethod,
		"total_price":    order.TotalPrice.StringFixed(2),
		"status":         order.Status,
	}), "order created")
	return result, nil
}

func (s *Service) validateCreate(input CreateOrderInput) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !input.PaymentMethod.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "unsupported payment method %q", input.PaymentMethod)
	}
	if len(input.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order must contain at least one item")
	}
	if len(input.Items) > s.cfg.MaxLineItems {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "order may contain at most %d items", s.cfg.MaxLineItems)
	}
	for i, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "item %d is missing a product id", i)
		}
		if item.Quantity <= 0 {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "item %d quantity must be positive", i).
				WithDetails(map[string]any{"product_id": item.ProductID.String()})
		}
	}
	if strings.TrimSpace(input.ShippingInfo.Address) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipping address is required")
	}
	if input.TaxPrice.IsNegative() || input.ShippingPrice.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "tax and shipping must not be negative")
	}
	return nil
}

// mergeLines sums duplicate product lines, keeping first-seen order.
func mergeLines(items []LineItemInput) []LineItemInput {
	index := make(map[uuid.UUID]int, len(items))
	merged := make([]LineItemInput, 0, len(items))
	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged
}

func (s *Service) priceLines(ctx context.Context, items []LineItemInput) ([]pricedLine, decimal.Decimal, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	catalog, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, decimal.Zero, err
	}

	lines := make([]pricedLine, 0, len(items))
	subtotal := decimal.Zero
	for _, item := range items {
		product, ok := catalog[item.ProductID]
		if !ok {
			return nil, decimal.Zero, pkgerrors.Newf(pkgerrors.CodeNotFound, "product %s not found", item.ProductID)
		}
		available, err := s.inventory.CheckAvailable(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return nil, decimal.Zero, inventory.MapError(err)
		}
		if !available {
			s.metrics.IncInventoryConflict()
			return nil, decimal.Zero, pkgerrors.Newf(pkgerrors.CodeConflict, "insufficient stock for %s", product.Name).
				WithDetails(map[string]any{
					"product_id": product.ID.String(),
					"requested":  item.Quantity,
					"available":  product.Stock,
				})
		}
		lineTotal := product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))).Round(2)
		subtotal = subtotal.Add(lineTotal)
		lines = append(lines, pricedLine{product: product, quantity: item.Quantity, total: lineTotal})
	}
	return lines, subtotal, nil
}

func snapshotItems(lines []pricedLine) []models.OrderLineItem {
	items := make([]models.OrderLineItem, 0, len(lines))
	for i, line := range lines {
		items = append(items, models.OrderLineItem{
			ProductID: line.product.ID,
			Name:      line.product.Name,
			UnitPrice: line.product.Price,
			ImageURL:  line.product.ImageURL,
			Quantity:  line.quantity,
			LineTotal: line.total,
			Position:  i,
		})
	}
	return items
}

func (s *Service) createCardOrder(ctx context.Context, order *models.Order) (*CreateResult, error) {
	if !order.TotalPrice.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "card payments require a positive total")
	}
	intent, err := s.gateway.CreatePaymentIntent(ctx, payments.PaymentIntentParams{
		AmountMinor: payments.ToMinorUnits(order.TotalPrice),
		Currency:    order.Currency,
		Metadata: map[string]string{
			payments.MetadataOrderID: order.ID.String(),
			payments.MetadataUserID:  order.UserID.String(),
		},
		IdempotencyKey: order.ID.String(),
	})
	if err != nil {
		return nil, asDependency(err, "create payment intent")
	}

	order.Status = enums.OrderStatusCreated
	order.PaymentRef = intent.ID
	order.PaymentStatus = enums.PaymentStatusPending

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order")
		}
		return s.emitCreated(ctx, tx, order)
	})
	if err != nil {
		s.cancelIntentBestEffort(ctx, intent.ID)
		return nil, err
	}
	return &CreateResult{Order: toDTO(order, s.cfg.ReceiptBaseURL), ClientSecret: intent.ClientSecret}, nil
}

func (s *Service) createCashOrder(ctx context.Context, order *models.Order, lines []pricedLine) (*CreateResult, error) {
	order.Status = enums.OrderStatusProcessing
	order.PaymentRef = enums.CashOnDeliveryReference
	order.PaymentStatus = enums.PaymentStatusPending
	order.StockCommitted = true

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order")
		}
		if err := s.decrementLines(ctx, tx, order); err != nil {
			return err
		}
		return s.emitCreated(ctx, tx, order)
	})
	if err != nil {
		if errors.Is(err, inventory.ErrInsufficientStock) {
			s.metrics.IncInventoryConflict()
		}
		return nil, inventory.MapError(err)
	}
	return &CreateResult{Order: toDTO(order, s.cfg.ReceiptBaseURL)}, nil
}

func (s *Service) decrementLines(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	stock := s.inventory.WithTx(tx)
	orderID := order.ID
	for _, item := range order.Items {
		if err := stock.Decrement(ctx, item.ProductID, item.Quantity, inventory.Movement{
			OrderID: &orderID,
			Reason:  enums.MovementOrderCommitted,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) restockLines(ctx context.Context, tx *gorm.DB, order *models.Order, reason enums.InventoryMovementReason, actor *uuid.UUID) error {
	stock := s.inventory.WithTx(tx)
	orderID := order.ID
	for _, item := range order.Items {
		if err := stock.Increment(ctx, item.ProductID, item.Quantity, inventory.Movement{
			OrderID:     &orderID,
			ActorUserID: actor,
			Reason:      reason,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restock line item")
		}
	}
	return nil
}

// Get returns an order visible to the actor.
func (s *Service) Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*OrderDTO, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeRead(actor, order); err != nil {
		return nil, err
	}
	dto := toDTO(order, s.cfg.ReceiptBaseURL)
	return &dto, nil
}

// Load returns the raw order for internal collaborators such as the receipt renderer.
func (s *Service) Load(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.repo.FindByID(ctx, orderID)
}

// ListForUser returns the actor's own orders, newest first.
func (s *Service) ListForUser(ctx context.Context, actor Actor, params pagination.Params) (*OrderList, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	page, err := s.repo.ListForUser(ctx, actor.UserID, params)
	if err != nil {
		return nil, err
	}
	return toList(page.Items, page.NextCursor, s.cfg.ReceiptBaseURL), nil
}

// ListAll returns every order for administrators.
func (s *Service) ListAll(ctx context.Context, actor Actor, filters ListFilters, params pagination.Params) (*OrderList, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	page, err := s.repo.ListAll(ctx, filters, params)
	if err != nil {
		return nil, err
	}
	return toList(page.Items, page.NextCursor, s.cfg.ReceiptBaseURL), nil
}

// Stats aggregates order counts and paid sales for administrators.
func (s *Service) Stats(ctx context.Context, actor Actor) (*Stats, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	return s.repo.Stats(ctx)
}

// Ledger returns the money trail of an order for administrators.
func (s *Service) Ledger(ctx context.Context, actor Actor, orderID uuid.UUID) (*LedgerDTO, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	sum, err := s.ledger.Summarize(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order ledger")
	}
	return toLedgerDTO(order, sum), nil
}

func authorizeRead(actor Actor, order *models.Order) error {
	if actor.IsAdmin() || (actor.UserID != uuid.Nil && actor.UserID == order.UserID) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
}

func (s *Service) emitCreated(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{UserID: order.UserID, Role: enums.UserRoleCustomer.String()},
		Data: payloads.OrderCreatedEvent{
			OrderID:       order.ID,
			UserID:        order.UserID,
			Status:        order.Status,
			PaymentMethod: order.PaymentMethod,
			TotalPrice:    order.TotalPrice,
			Currency:      order.Currency,
			ItemCount:     len(order.Items),
		},
	})
}

func (s *Service) emitPaid(ctx context.Context, tx *gorm.DB, order *models.Order, actor *outbox.ActorRef) error {
	paidAt := s.now()
	if order.PaidAt != nil {
		paidAt = *order.PaidAt
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data: payloads.OrderPaidEvent{
			OrderID:       order.ID,
			UserID:        order.UserID,
			PaymentMethod: order.PaymentMethod,
			PaymentRef:    order.PaymentRef,
			Amount:        order.TotalPrice,
			Currency:      order.Currency,
			PaidAt:        paidAt,
		},
	})
}

func (s *Service) cancelIntentBestEffort(ctx context.Context, intentID string) {
	if intentID == "" {
		return
	}
	if err := s.gateway.CancelPaymentIntent(ctx, intentID); err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"payment_ref": intentID,
			"error":       err.Error(),
		}), "payment intent cancellation failed")
	}
}

// asDependency keeps typed gateway errors and wraps anything else as retryable.
func asDependency(err error, action string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}
