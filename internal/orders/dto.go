package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/marketplace-backend/internal/ledger"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Actor is the authenticated caller of an order operation.
type Actor struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == enums.UserRoleAdmin
}

// LineItemInput is one requested product and quantity.
type LineItemInput struct {
	ProductID uuid.UUID
	Quantity  int
}

// CreateOrderInput carries a validated checkout request. ItemsPrice and TotalPrice are the
// client's own computation; when present they must match the server's.
type CreateOrderInput struct {
	UserID        uuid.UUID
	ShippingInfo  types.ShippingInfo
	Items         []LineItemInput
	PaymentMethod enums.PaymentMethod
	TaxPrice      decimal.Decimal
	ShippingPrice decimal.Decimal
	ItemsPrice    *decimal.Decimal
	TotalPrice    *decimal.Decimal
}

// LineItemDTO is the API view of a snapshotted line item.
type LineItemDTO struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Image     *string         `json:"image,omitempty"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// PaymentInfoDTO is the payment sub-record.
type PaymentInfoDTO struct {
	ID     string              `json:"id"`
	Method enums.PaymentMethod `json:"method"`
	Status enums.PaymentStatus `json:"status"`
	PaidAt *time.Time          `json:"paid_at,omitempty"`
}

// RefundInfoDTO is present once a refund has been requested.
type RefundInfoDTO struct {
	Status     enums.RefundStatus `json:"status"`
	ID         *string            `json:"id,omitempty"`
	RefundedAt *time.Time         `json:"refunded_at,omitempty"`
}

// OrderDTO is the API view of an order.
type OrderDTO struct {
	ID            uuid.UUID          `json:"id"`
	UserID        uuid.UUID          `json:"user_id"`
	ShippingInfo  types.ShippingInfo `json:"shipping_info"`
	Items         []LineItemDTO      `json:"order_items"`
	PaymentInfo   PaymentInfoDTO     `json:"payment_info"`
	Refund        *RefundInfoDTO     `json:"refund,omitempty"`
	ItemsPrice    decimal.Decimal    `json:"items_price"`
	TaxPrice      decimal.Decimal    `json:"tax_price"`
	ShippingPrice decimal.Decimal    `json:"shipping_price"`
	TotalPrice    decimal.Decimal    `json:"total_price"`
	Currency      string             `json:"currency"`
	Status        enums.OrderStatus  `json:"order_status"`
	CancelReason  *string            `json:"cancel_reason,omitempty"`
	DeliveredAt   *time.Time         `json:"delivered_at,omitempty"`
	CancelledAt   *time.Time         `json:"cancelled_at,omitempty"`
	ReceiptURL    string             `json:"receipt_url,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// CreateResult is returned from order creation. ClientSecret is set for card orders.
type CreateResult struct {
	Order        OrderDTO `json:"order"`
	ClientSecret string   `json:"client_secret,omitempty"`
}

// SettlementOutcome describes what a payment confirmation did.
type SettlementOutcome string

const (
	OutcomeSettled        SettlementOutcome = "settled"
	OutcomeAlreadySettled SettlementOutcome = "already_settled"
	// OutcomeRaceLost means stock ran out between creation and payment; the order was
	// cancelled and the payment queued for refund.
	OutcomeRaceLost SettlementOutcome = "race_lost"
	// OutcomeRefundQueued means the payment landed on an order that was already cancelled.
	OutcomeRefundQueued SettlementOutcome = "refund_queued"
)

// ConfirmResult is returned from payment confirmation.
type ConfirmResult struct {
	Order      OrderDTO          `json:"order"`
	Outcome    SettlementOutcome `json:"outcome"`
	ReceiptURL string            `json:"receipt_url,omitempty"`
}

// Stats aggregates the admin dashboard numbers.
type Stats struct {
	TotalOrders int64                       `json:"total_orders"`
	ByStatus    map[enums.OrderStatus]int64 `json:"by_status"`
	TotalSales  decimal.Decimal             `json:"total_sales"`
}

// OrderList is one page of orders.
type OrderList struct {
	Orders     []OrderDTO `json:"orders"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

func receiptURL(base string, order *models.Order) string {
	if !order.PaymentStatus.IsCaptured() {
		return ""
	}
	return fmt.Sprintf("%s/%s/receipt", strings.TrimRight(base, "/"), order.ID)
}

func toDTO(order *models.Order, receiptBase string) OrderDTO {
	items := make([]LineItemDTO, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, LineItemDTO{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.UnitPrice,
			Image:     item.ImageURL,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}
	dto := OrderDTO{
		ID:           order.ID,
		UserID:       order.UserID,
		ShippingInfo: order.ShippingInfo,
		Items:        items,
		PaymentInfo: PaymentInfoDTO{
			ID:     order.PaymentRef,
			Method: order.PaymentMethod,
			Status: order.PaymentStatus,
			PaidAt: order.PaidAt,
		},
		ItemsPrice:    order.ItemsPrice,
		TaxPrice:      order.TaxPrice,
		ShippingPrice: order.ShippingPrice,
		TotalPrice:    order.TotalPrice,
		Currency:      order.Currency,
		Status:        order.Status,
		CancelReason:  order.CancelReason,
		DeliveredAt:   order.DeliveredAt,
		CancelledAt:   order.CancelledAt,
		ReceiptURL:    receiptURL(receiptBase, order),
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
	if order.RefundStatus != "" && order.RefundStatus != enums.RefundStatusNone {
		dto.Refund = &RefundInfoDTO{
			Status:     order.RefundStatus,
			ID:         order.RefundRef,
			RefundedAt: order.RefundedAt,
		}
	}
	return dto
}

func toList(page []models.Order, next, receiptBase string) *OrderList {
	out := &OrderList{Orders: make([]OrderDTO, 0, len(page)), NextCursor: next}
	for i := range page {
		out.Orders = append(out.Orders, toDTO(&page[i], receiptBase))
	}
	return out
}

// LedgerEntryDTO is one row of an order's money trail.
type LedgerEntryDTO struct {
	ID          uuid.UUID             `json:"id"`
	Type        enums.LedgerEventType `json:"type"`
	Amount      decimal.Decimal       `json:"amount"`
	GatewayRef  *string               `json:"gateway_ref,omitempty"`
	ActorUserID *uuid.UUID            `json:"actor_user_id,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
}

// LedgerDTO is the admin view of what was collected and refunded for an order.
type LedgerDTO struct {
	OrderID       uuid.UUID        `json:"order_id"`
	Currency      string           `json:"currency"`
	Collected     decimal.Decimal  `json:"collected"`
	Refunded      decimal.Decimal  `json:"refunded"`
	PendingRefund decimal.Decimal  `json:"pending_refund"`
	Net           decimal.Decimal  `json:"net"`
	Entries       []LedgerEntryDTO `json:"entries"`
}

func toLedgerDTO(order *models.Order, sum *ledger.Summary) *LedgerDTO {
	out := &LedgerDTO{
		OrderID:       order.ID,
		Currency:      order.Currency,
		Collected:     sum.Collected,
		Refunded:      sum.Refunded,
		PendingRefund: sum.PendingRefund,
		Net:           sum.Net(),
		Entries:       make([]LedgerEntryDTO, 0, len(sum.Events)),
	}
	for _, ev := range sum.Events {
		out.Entries = append(out.Entries, LedgerEntryDTO{
			ID:          ev.ID,
			Type:        ev.Type,
			Amount:      ev.Amount,
			GatewayRef:  ev.GatewayRef,
			ActorUserID: ev.ActorUserID,
			CreatedAt:   ev.CreatedAt,
		})
	}
	return out
}
