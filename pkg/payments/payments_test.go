package payments

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestMinorUnitConversion(t *testing.T) {
	cases := map[string]int64{
		"0":      0,
		"12.5":   1250,
		"19.99":  1999,
		"0.005":  1,
		"100.00": 10000,
	}
	for raw, want := range cases {
		if got := ToMinorUnits(decimal.RequireFromString(raw)); got != want {
			t.Fatalf("ToMinorUnits(%s) = %d, want %d", raw, got, want)
		}
	}
	if !FromMinorUnits(1999).Equal(decimal.RequireFromString("19.99")) {
		t.Fatalf("FromMinorUnits round trip failed")
	}
}

func TestPaymentIntentHelpers(t *testing.T) {
	intent := PaymentIntent{Status: IntentSucceeded, Metadata: map[string]string{MetadataOrderID: " abc "}}
	if !intent.Succeeded() {
		t.Fatalf("expected succeeded")
	}
	if intent.OrderID() != "abc" {
		t.Fatalf("unexpected order id %q", intent.OrderID())
	}
	if (PaymentIntent{}).OrderID() != "" {
		t.Fatalf("nil metadata should yield empty order id")
	}
	if RefundIdempotencyKey("o-1") != "refund-o-1" {
		t.Fatalf("unexpected refund key")
	}
}
