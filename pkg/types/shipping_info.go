package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// ShippingInfo is the destination snapshot stored on an order.
type ShippingInfo struct {
	FullName   string `json:"full_name" validate:"required,max=200"`
	Address    string `json:"address" validate:"required,max=500"`
	City       string `json:"city" validate:"required,max=120"`
	State      string `json:"state" validate:"required,max=120"`
	Country    string `json:"country" validate:"required,max=120"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Phone      string `json:"phone" validate:"required,max=32"`
}

// Value serializes the snapshot to JSON.
func (s ShippingInfo) Value() (driver.Value, error) {
	if strings.TrimSpace(s.Address) == "" {
		return nil, fmt.Errorf("shipping info: missing address")
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan decodes JSONB into the snapshot.
func (s *ShippingInfo) Scan(value interface{}) error {
	if value == nil {
		*s = ShippingInfo{}
		return nil
	}
	raw, err := asJSON(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, s)
}

func asJSON(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported scan type %T", value)
	}
}
