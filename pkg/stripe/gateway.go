package stripe

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/payments"
)

// CreatePaymentIntent opens an intent for the order amount with automatic payment methods.
func (c *Client) CreatePaymentIntent(ctx context.Context, input payments.PaymentIntentParams) (payments.PaymentIntent, error) {
	if input.AmountMinor <= 0 {
		return payments.PaymentIntent{}, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}
	if strings.TrimSpace(input.Currency) == "" {
		return payments.PaymentIntent{}, pkgerrors.New(pkgerrors.CodeValidation, "currency is required")
	}

	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(input.AmountMinor),
		Currency: stripe.String(strings.ToLower(input.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: copyMetadata(input.Metadata),
	}
	if input.IdempotencyKey != "" {
		params.SetIdempotencyKey(input.IdempotencyKey)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	intent, err := c.intents.Create(callCtx, params)
	if err != nil {
		return payments.PaymentIntent{}, mapStripeError(err, "create payment intent")
	}
	return toPaymentIntent(intent), nil
}

// RetrievePaymentIntent fetches the authoritative intent state from Stripe.
func (c *Client) RetrievePaymentIntent(ctx context.Context, id string) (payments.PaymentIntent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return payments.PaymentIntent{}, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	intent, err := c.intents.Retrieve(callCtx, id, &stripe.PaymentIntentRetrieveParams{})
	if err != nil {
		return payments.PaymentIntent{}, mapStripeError(err, "retrieve payment intent")
	}
	return toPaymentIntent(intent), nil
}

// CancelPaymentIntent voids an intent that will never be paid.
func (c *Client) CancelPaymentIntent(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	_, err := c.intents.Cancel(callCtx, id, &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	})
	if err != nil {
		return mapStripeError(err, "cancel payment intent")
	}
	return nil
}

// Refund returns captured funds for an intent.
func (c *Client) Refund(ctx context.Context, input payments.RefundParams) (payments.Refund, error) {
	if strings.TrimSpace(input.PaymentIntentID) == "" {
		return payments.Refund{}, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}
	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(input.PaymentIntentID),
		Metadata:      copyMetadata(input.Metadata),
	}
	if input.AmountMinor > 0 {
		params.Amount = stripe.Int64(input.AmountMinor)
	}
	if input.IdempotencyKey != "" {
		params.SetIdempotencyKey(input.IdempotencyKey)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	refund, err := c.refunds.Create(callCtx, params)
	if err != nil {
		return payments.Refund{}, mapStripeError(err, "create refund")
	}
	return payments.Refund{ID: refund.ID, Status: payments.RefundStatus(refund.Status)}, nil
}

func toPaymentIntent(intent *stripe.PaymentIntent) payments.PaymentIntent {
	if intent == nil {
		return payments.PaymentIntent{}
	}
	return payments.PaymentIntent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountMinor:  intent.Amount,
		Currency:     string(intent.Currency),
		Status:       payments.IntentStatus(intent.Status),
		Metadata:     copyMetadata(intent.Metadata),
	}
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func mapStripeError(err error, action string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusNotFound:
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, action)
		case stripeErr.Type == stripe.ErrorTypeCard:
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, action).WithDetails(map[string]any{
				"decline_code": string(stripeErr.DeclineCode),
			})
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}
