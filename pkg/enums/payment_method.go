package enums

// PaymentMethod is how the customer pays for an order.
type PaymentMethod string

const (
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// CashOnDeliveryReference is the payment_ref sentinel for orders without a gateway.
const CashOnDeliveryReference = "cash_on_delivery"

var validPaymentMethods = newSet("payment method",
	PaymentMethodCard,
	PaymentMethodCashOnDelivery,
)

// String implements fmt.Stringer.
func (m PaymentMethod) String() string {
	return string(m)
}

// IsValid reports whether the value is a supported payment method.
func (m PaymentMethod) IsValid() bool {
	return validPaymentMethods.has(m)
}

// UsesGateway reports whether the method settles through the payment gateway.
func (m PaymentMethod) UsesGateway() bool {
	return m == PaymentMethodCard
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	return validPaymentMethods.parse(value)
}
