package stripe

import (
	"encoding/json"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/payments"
)

// VerifyWebhook checks the Stripe-Signature header against the raw payload and decodes the event.
func (c *Client) VerifyWebhook(payload []byte, sigHeader string) (stripe.Event, error) {
	if strings.TrimSpace(sigHeader) == "" {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeSignature, "missing stripe signature")
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, c.SigningSecret(), webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "invalid stripe signature")
	}
	return event, nil
}

// PaymentIntentFromEvent decodes the payment intent carried by a payment_intent.* event.
func PaymentIntentFromEvent(event stripe.Event) (payments.PaymentIntent, error) {
	var intent stripe.PaymentIntent
	if err := decodeObject(event, &intent); err != nil {
		return payments.PaymentIntent{}, err
	}
	return toPaymentIntent(&intent), nil
}

// RefundFromEvent extracts the payment intent id and latest refund state from charge.refunded
// and charge.refund.updated events.
func RefundFromEvent(event stripe.Event) (string, payments.Refund, error) {
	if event.Type == stripe.EventTypeChargeRefundUpdated {
		var refund stripe.Refund
		if err := decodeObject(event, &refund); err != nil {
			return "", payments.Refund{}, err
		}
		if refund.PaymentIntent == nil {
			return "", payments.Refund{}, pkgerrors.New(pkgerrors.CodeValidation, "refund has no payment intent")
		}
		return refund.PaymentIntent.ID, payments.Refund{ID: refund.ID, Status: payments.RefundStatus(refund.Status)}, nil
	}

	var charge stripe.Charge
	if err := decodeObject(event, &charge); err != nil {
		return "", payments.Refund{}, err
	}
	if charge.PaymentIntent == nil {
		return "", payments.Refund{}, pkgerrors.New(pkgerrors.CodeValidation, "charge has no payment intent")
	}
	out := payments.Refund{}
	if charge.Refunds != nil && len(charge.Refunds.Data) > 0 {
		latest := charge.Refunds.Data[0]
		out = payments.Refund{ID: latest.ID, Status: payments.RefundStatus(latest.Status)}
	} else if charge.Refunded {
		out.Status = payments.RefundSucceeded
	}
	return charge.PaymentIntent.ID, out, nil
}

func decodeObject(event stripe.Event, target any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	if err := json.Unmarshal(event.Data.Raw, target); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode stripe event object")
	}
	return nil
}
