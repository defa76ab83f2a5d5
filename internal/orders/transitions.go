package orders

import (
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

// transitions is the order state machine. Terminal states have no entry.
var transitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusCreated:    {enums.OrderStatusProcessing, enums.OrderStatusCancelled},
	enums.OrderStatusProcessing: {enums.OrderStatusShipped, enums.OrderStatusCancelled},
	enums.OrderStatusShipped:    {enums.OrderStatusDelivered},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// parseAdminTarget validates a status requested through the admin surface.
func parseAdminTarget(raw string) (enums.OrderStatus, error) {
	target, err := enums.ParseOrderStatus(raw)
	if err != nil || !target.IsAdminSettable() {
		return "", pkgerrors.Newf(pkgerrors.CodeValidation, "status must be one of processing, shipped, delivered, cancelled").
			WithDetails(map[string]any{"status": raw})
	}
	return target, nil
}

// checkAdminTransition enforces the state machine plus the rule that card orders only leave
// created through payment settlement.
func checkAdminTransition(order *models.Order, target enums.OrderStatus) error {
	details := map[string]any{"from": order.Status, "to": target}
	if !CanTransition(order.Status, target) {
		return pkgerrors.Newf(pkgerrors.CodeStateConflict, "cannot move order from %s to %s", order.Status, target).
			WithDetails(details)
	}
	if order.Status == enums.OrderStatusCreated &&
		target == enums.OrderStatusProcessing &&
		order.PaymentMethod.UsesGateway() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "card orders move to processing only after payment settles").
			WithDetails(details)
	}
	return nil
}
