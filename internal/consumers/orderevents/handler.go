package orderevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/registry"
	"github.com/google/uuid"
)

const envelopeVersion = 1

// ErrUnhandled marks events this consumer acknowledges without work.
var ErrUnhandled = errors.New("event not handled")

type receiptGenerator interface {
	Generate(ctx context.Context, orderID uuid.UUID) (*models.OrderReceipt, error)
}

type refundProcessor interface {
	ProcessRefund(ctx context.Context, orderID uuid.UUID) error
}

// Handler reacts to order lifecycle events: paid orders get a receipt and
// refund requests are pushed to the payment gateway.
type Handler struct {
	receipts receiptGenerator
	refunds  refundProcessor
	decoders *registry.DecoderRegistry
	logg     *logger.Logger
}

// NewHandler wires the receipt and refund collaborators.
func NewHandler(receipts receiptGenerator, refunds refundProcessor, logg *logger.Logger) (*Handler, error) {
	if receipts == nil {
		return nil, errors.New("receipt generator required")
	}
	if refunds == nil {
		return nil, errors.New("refund processor required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	decoders := registry.NewDecoderRegistry()
	registry.RegisterJSON[payloads.OrderPaidEvent](decoders, enums.EventOrderPaid, envelopeVersion)
	registry.RegisterJSON[payloads.OrderRefundRequestedEvent](decoders, enums.EventOrderRefundRequested, envelopeVersion)
	return &Handler{receipts: receipts, refunds: refunds, decoders: decoders, logg: logg}, nil
}

// Handle dispatches a decoded envelope. Unknown event types return ErrUnhandled.
func (h *Handler) Handle(ctx context.Context, eventType enums.OutboxEventType, version int, data json.RawMessage) error {
	if version <= 0 {
		version = envelopeVersion
	}
	if !h.decoders.Handles(eventType) {
		return ErrUnhandled
	}

	decoded, err := h.decoders.Decode(eventType, version, data)
	if err != nil {
		return registry.NewNonRetryableError(err)
	}

	switch payload := decoded.(type) {
	case *payloads.OrderPaidEvent:
		receipt, err := h.receipts.Generate(ctx, payload.OrderID)
		if err != nil {
			return classify(fmt.Errorf("generate receipt: %w", err))
		}
		h.logg.Info(h.logg.WithField(ctx, "order_id", receipt.OrderID.String()), "receipt ready")
		return nil
	case *payloads.OrderRefundRequestedEvent:
		if err := h.refunds.ProcessRefund(ctx, payload.OrderID); err != nil {
			return classify(fmt.Errorf("process refund: %w", err))
		}
		return nil
	}
	return ErrUnhandled
}

// classify stops redelivery for orders that no longer exist; an admin may delete an order
// before its events are consumed.
func classify(err error) error {
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return registry.NewNonRetryableError(err)
	}
	return err
}
