package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-backend/api/middleware"
	"github.com/angelmondragon/marketplace-backend/api/responses"
	"github.com/angelmondragon/marketplace-backend/api/validators"
	internalorders "github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/pagination"
	"github.com/angelmondragon/marketplace-backend/pkg/types"
)

const maxPaymentRefLen = 255

// OrderService is the customer-facing slice of the order engine.
type OrderService interface {
	Create(ctx context.Context, input internalorders.CreateOrderInput) (*internalorders.CreateResult, error)
	Get(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID) (*internalorders.OrderDTO, error)
	ListForUser(ctx context.Context, actor internalorders.Actor, params pagination.Params) (*internalorders.OrderList, error)
	ConfirmPayment(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID, paymentRef string) (*internalorders.ConfirmResult, error)
}

// ReceiptService serves stored receipt PDFs.
type ReceiptService interface {
	Get(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID) (*models.OrderReceipt, error)
}

type lineItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type createOrderRequest struct {
	ShippingInfo  types.ShippingInfo `json:"shipping_info"`
	OrderItems    []lineItemRequest  `json:"order_items" validate:"required,min=1,dive"`
	PaymentMethod string             `json:"payment_method" validate:"required,payment_method"`
	ItemsPrice    *decimal.Decimal   `json:"items_price"`
	TaxPrice      decimal.Decimal    `json:"tax_price"`
	ShippingPrice decimal.Decimal    `json:"shipping_price"`
	TotalPrice    *decimal.Decimal   `json:"total_price"`
}

type confirmPaymentRequest struct {
	OrderID         string `json:"order_id" validate:"required,uuid"`
	PaymentIntentID string `json:"payment_intent_id" validate:"required"`
}

// Create places an order. Card orders return the gateway client secret.
func Create(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := enums.ParsePaymentMethod(strings.TrimSpace(req.PaymentMethod))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		input := internalorders.CreateOrderInput{
			UserID:        actor.UserID,
			ShippingInfo:  sanitizeShipping(req.ShippingInfo),
			PaymentMethod: method,
			TaxPrice:      req.TaxPrice,
			ShippingPrice: req.ShippingPrice,
			ItemsPrice:    req.ItemsPrice,
			TotalPrice:    req.TotalPrice,
			Items:         make([]internalorders.LineItemInput, 0, len(req.OrderItems)),
		}
		for _, item := range req.OrderItems {
			productID, err := uuid.Parse(item.ProductID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
				return
			}
			input.Items = append(input.Items, internalorders.LineItemInput{ProductID: productID, Quantity: item.Quantity})
		}

		result, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessMessage(w, http.StatusCreated, "order created", result)
	}
}

// List returns the caller's orders, newest first.
func List(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.ListForUser(r.Context(), actor, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Detail returns one order to its owner or an administrator.
func Detail(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Get(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// ConfirmPayment settles a card order after the client completed payment.
func ConfirmPayment(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		var req confirmPaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := uuid.Parse(req.OrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}
		result, err := svc.ConfirmPayment(r.Context(), actor, orderID, validators.SanitizeString(req.PaymentIntentID, maxPaymentRefLen))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessMessage(w, http.StatusOK, "payment confirmed", result)
	}
}

// Receipt downloads the PDF receipt of a paid order.
func Receipt(svc ReceiptService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		receipt, err := svc.Get(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteFile(w, receipt.ContentType, receipt.FileName, receipt.Content)
	}
}

func sanitizeShipping(in types.ShippingInfo) types.ShippingInfo {
	return types.ShippingInfo{
		FullName:   validators.SanitizeString(in.FullName, 200),
		Address:    validators.SanitizeString(in.Address, 500),
		City:       validators.SanitizeString(in.City, 120),
		State:      validators.SanitizeString(in.State, 120),
		Country:    validators.SanitizeString(in.Country, 120),
		PostalCode: validators.SanitizeString(in.PostalCode, 20),
		Phone:      validators.SanitizeString(in.Phone, 32),
	}
}

func requireActor(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (internalorders.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
		return internalorders.Actor{}, false
	}
	return actor, true
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return orderID, nil
}

func pageParams(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}, nil
}
