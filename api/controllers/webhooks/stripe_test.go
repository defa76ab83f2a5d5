package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

const testSecret = "whsec_test"

// verifyingProcessor mirrors the gateway check so the handler is exercised
// with real signed payloads.
type verifyingProcessor struct {
	events []string
	err    error
}

func (p *verifyingProcessor) Process(_ context.Context, payload []byte, sigHeader string) error {
	if sigHeader == "" {
		return pkgerrors.New(pkgerrors.CodeSignature, "missing stripe signature")
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, testSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeSignature, err, "invalid stripe signature")
	}
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event.ID)
	return nil
}

func TestPaymentWebhookAcceptsSignedEvent(t *testing.T) {
	payload, header := buildSignedEvent(t)
	processor := &verifyingProcessor{}
	handler := PaymentWebhook(processor, logger.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(processor.events) != 1 {
		t.Fatalf("expected one processed event, got %d", len(processor.events))
	}
}

func TestPaymentWebhookRejectsBadSignature(t *testing.T) {
	payload, _ := buildSignedEvent(t)
	processor := &verifyingProcessor{}
	handler := PaymentWebhook(processor, logger.Nop())

	for _, header := range []string{"", "t=1,v1=invalid"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(payload))
		if header != "" {
			req.Header.Set("Stripe-Signature", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for signature %q, got %d", header, rec.Code)
		}
	}
	if len(processor.events) != 0 {
		t.Fatalf("no event should be processed")
	}
}

func TestPaymentWebhookSurfacesHandlerFailure(t *testing.T) {
	payload, header := buildSignedEvent(t)
	processor := &verifyingProcessor{err: errors.New("db down")}
	handler := PaymentWebhook(processor, logger.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so the gateway redelivers, got %d", rec.Code)
	}
}

func buildSignedEvent(t *testing.T) ([]byte, string) {
	t.Helper()
	intent := &stripe.PaymentIntent{
		ID:       "pi_" + uuid.NewString(),
		Amount:   1650,
		Currency: stripe.CurrencyUSD,
		Status:   stripe.PaymentIntentStatusSucceeded,
		Metadata: map[string]string{"order_id": uuid.NewString()},
	}
	raw, err := json.Marshal(intent)
	if err != nil {
		t.Fatalf("marshal intent: %v", err)
	}
	event := &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       stripe.EventTypePaymentIntentSucceeded,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: raw},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload, signatureHeader(payload, testSecret, time.Now().Unix())
}

func signatureHeader(payload []byte, secret string, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
