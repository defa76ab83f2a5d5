package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/marketplace-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/payments"
)

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		cfg  config.StripeConfig
	}{
		{name: "missing key", cfg: config.StripeConfig{Secret: "whsec"}},
		{name: "missing secret", cfg: config.StripeConfig{APIKey: "sk_test_123"}},
		{name: "live key in test", cfg: config.StripeConfig{APIKey: "sk_live_123", Secret: "whsec"}},
		{name: "bad env", cfg: config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec", Env: "staging"}},
	}
	for _, tc := range cases {
		if _, err := NewClient(ctx, tc.cfg, nil); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}

	client, err := NewClient(ctx, config.StripeConfig{APIKey: "sk_test_123", Secret: " whsec_abc "}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Mode() != ModeTest || client.SigningSecret() != "whsec_abc" {
		t.Fatalf("unexpected client %+v", client)
	}

	restricted, err := NewClient(ctx, config.StripeConfig{APIKey: "rk_live_123", Secret: "whsec", Env: " LIVE "}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if restricted.Mode() != ModeLive {
		t.Fatalf("expected live mode, got %q", restricted.Mode())
	}
}

func TestCallContextDefaultsTimeout(t *testing.T) {
	ctx, cancel := (&Client{}).callContext(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok || time.Until(deadline) > defaultTimeout {
		t.Fatalf("expected default deadline, got %v", deadline)
	}
}

func TestCreatePaymentIntentMapsParams(t *testing.T) {
	intents := &fakeIntents{
		createResp: &stripe.PaymentIntent{
			ID:           "pi_1",
			ClientSecret: "pi_1_secret",
			Amount:       2599,
			Currency:     stripe.CurrencyUSD,
			Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
			Metadata:     map[string]string{"order_id": "o-1"},
		},
	}
	client := &Client{intents: intents, timeout: time.Second}

	intent, err := client.CreatePaymentIntent(context.Background(), payments.PaymentIntentParams{
		AmountMinor:    2599,
		Currency:       "USD",
		Metadata:       map[string]string{"order_id": "o-1", "user_id": "u-1"},
		IdempotencyKey: "o-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.ID != "pi_1" || intent.ClientSecret != "pi_1_secret" || intent.OrderID() != "o-1" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	params := intents.lastCreate
	if *params.Amount != 2599 || *params.Currency != "usd" {
		t.Fatalf("unexpected params amount=%d currency=%s", *params.Amount, *params.Currency)
	}
	if params.IdempotencyKey == nil || *params.IdempotencyKey != "o-1" {
		t.Fatalf("idempotency key not forwarded")
	}
	if params.Metadata["user_id"] != "u-1" {
		t.Fatalf("metadata not forwarded: %+v", params.Metadata)
	}
	if !intents.hadDeadline {
		t.Fatalf("expected call to carry a deadline")
	}
}

func TestCreatePaymentIntentRejectsNonPositiveAmount(t *testing.T) {
	client := &Client{intents: &fakeIntents{}}
	_, err := client.CreatePaymentIntent(context.Background(), payments.PaymentIntentParams{AmountMinor: 0, Currency: "usd"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGatewayErrorsMapToTypedCodes(t *testing.T) {
	intents := &fakeIntents{retrieveErr: &stripe.Error{HTTPStatusCode: http.StatusNotFound, Msg: "No such payment_intent"}}
	client := &Client{intents: intents}
	if _, err := client.RetrievePaymentIntent(context.Background(), "pi_missing"); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	intents.retrieveErr = errors.New("connection reset")
	_, err := client.RetrievePaymentIntent(context.Background(), "pi_1")
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if !pkgerrors.As(err).Retryable() {
		t.Fatalf("dependency errors must be retryable")
	}
}

func TestRefundForwardsIdempotencyKey(t *testing.T) {
	refunds := &fakeRefunds{resp: &stripe.Refund{ID: "re_1", Status: stripe.RefundStatusSucceeded}}
	client := &Client{refunds: refunds}

	refund, err := client.Refund(context.Background(), payments.RefundParams{
		PaymentIntentID: "pi_1",
		IdempotencyKey:  payments.RefundIdempotencyKey("o-1"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refund.ID != "re_1" || refund.Status != payments.RefundSucceeded {
		t.Fatalf("unexpected refund %+v", refund)
	}
	if *refunds.last.PaymentIntent != "pi_1" || *refunds.last.IdempotencyKey != "refund-o-1" {
		t.Fatalf("unexpected refund params")
	}
	if refunds.last.Amount != nil {
		t.Fatalf("full refund should not set an amount")
	}
}

func TestVerifyWebhook(t *testing.T) {
	client := &Client{signingSecret: "whsec_test"}
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        "payment_intent.succeeded",
		"api_version": "2020-01-01",
		"data":        map[string]any{"object": map[string]any{"id": "pi_1", "object": "payment_intent"}},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})

	event, err := client.VerifyWebhook(signed.Payload, signed.Header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.ID != "evt_1" || event.Type != stripe.EventTypePaymentIntentSucceeded {
		t.Fatalf("unexpected event %+v", event)
	}

	if _, err := client.VerifyWebhook(signed.Payload, "t=1,v1=deadbeef"); !pkgerrors.IsCode(err, pkgerrors.CodeSignature) {
		t.Fatalf("expected signature error, got %v", err)
	}
	if _, err := client.VerifyWebhook(signed.Payload, ""); !pkgerrors.IsCode(err, pkgerrors.CodeSignature) {
		t.Fatalf("expected signature error for missing header, got %v", err)
	}
}

type fakeIntents struct {
	createResp  *stripe.PaymentIntent
	lastCreate  *stripe.PaymentIntentCreateParams
	hadDeadline bool
	retrieveErr error
}

func (f *fakeIntents) Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	f.lastCreate = params
	_, f.hadDeadline = ctx.Deadline()
	return f.createResp, nil
}

func (f *fakeIntents) Retrieve(ctx context.Context, id string, params *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error) {
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	return &stripe.PaymentIntent{ID: id}, nil
}

func (f *fakeIntents) Cancel(ctx context.Context, id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusCanceled}, nil
}

type fakeRefunds struct {
	resp *stripe.Refund
	last *stripe.RefundCreateParams
}

func (f *fakeRefunds) Create(ctx context.Context, params *stripe.RefundCreateParams) (*stripe.Refund, error) {
	f.last = params
	return f.resp, nil
}
