package types

import "testing"

func TestShippingInfoRoundTripsThroughDriverValue(t *testing.T) {
	in := ShippingInfo{
		FullName:   "Ada Lovelace",
		Address:    "12 Analytical Row",
		City:       "London",
		State:      "LDN",
		Country:    "UK",
		PostalCode: "N1 9GU",
		Phone:      "+44 20 0000 0000",
	}

	raw, err := in.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var out ShippingInfo
	if err := out.Scan([]byte(raw.(string))); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if out != in {
		t.Fatalf("expected %+v got %+v", in, out)
	}
}

func TestShippingInfoValueRequiresAddress(t *testing.T) {
	if _, err := (ShippingInfo{City: "Paris"}).Value(); err == nil {
		t.Fatal("expected missing address to fail")
	}
}

func TestShippingInfoScanRejectsUnsupportedType(t *testing.T) {
	var out ShippingInfo
	if err := out.Scan(42); err == nil {
		t.Fatal("expected unsupported scan type error")
	}
}
