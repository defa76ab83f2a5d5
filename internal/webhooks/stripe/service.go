// Package stripewebhook turns verified Stripe deliveries into order settlement calls.
package stripewebhook

import (
	"context"
	"fmt"

	"github.com/angelmondragon/marketplace-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/payments"
	stripeclient "github.com/angelmondragon/marketplace-backend/pkg/stripe"
	"github.com/stripe/stripe-go/v84"
)

type orderSettler interface {
	HandlePaymentSucceeded(ctx context.Context, intent payments.PaymentIntent) (orders.SettlementOutcome, error)
	HandlePaymentFailed(ctx context.Context, intent payments.PaymentIntent) error
	ReconcileRefund(ctx context.Context, paymentRef string, refund payments.Refund) error
}

type gateway interface {
	VerifyWebhook(payload []byte, sigHeader string) (stripe.Event, error)
}

type eventGuard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type ServiceParams struct {
	Orders  orderSettler
	Gateway gateway
	Guard   eventGuard
	Logger  *logger.Logger
}

type Service struct {
	orders  orderSettler
	gateway gateway
	guard   eventGuard
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order settler required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe gateway required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{orders: params.Orders, gateway: params.Gateway, guard: params.Guard, logg: logg}, nil
}

// Process verifies and handles one webhook delivery. A returned error makes the gateway
// redeliver; the event claim is released first so the retry is not mistaken for a duplicate.
func (s *Service) Process(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := s.gateway.VerifyWebhook(payload, sigHeader)
	if err != nil {
		return err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":   event.ID,
		"event_type": string(event.Type),
	})

	duplicate, err := s.guard.Claim(ctx, event.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim webhook event")
	}
	if duplicate {
		s.logg.Info(ctx, "duplicate webhook delivery ignored")
		return nil
	}

	if err := s.HandleEvent(ctx, &event); err != nil {
		if releaseErr := s.guard.Release(ctx, event.ID); releaseErr != nil {
			s.logg.Error(ctx, "release webhook claim", releaseErr)
		}
		s.logg.Error(ctx, "webhook handling failed", err)
		return err
	}
	return nil
}

// HandleEvent dispatches a verified event. Unhandled types are acknowledged, including
// checkout.session.completed: orders are paid through their own payment intents.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		intent, err := stripeclient.PaymentIntentFromEvent(*event)
		if err != nil {
			return err
		}
		return s.settle(ctx, intent)

	case stripe.EventTypePaymentIntentPaymentFailed:
		intent, err := stripeclient.PaymentIntentFromEvent(*event)
		if err != nil {
			return err
		}
		return s.orders.HandlePaymentFailed(ctx, intent)

	case stripe.EventTypeChargeRefunded, stripe.EventTypeChargeRefundUpdated:
		paymentRef, refund, err := stripeclient.RefundFromEvent(*event)
		if err != nil {
			return err
		}
		return s.orders.ReconcileRefund(ctx, paymentRef, refund)

	default:
		return nil
	}
}

func (s *Service) settle(ctx context.Context, intent payments.PaymentIntent) error {
	if !intent.Succeeded() {
		return nil
	}
	outcome, err := s.orders.HandlePaymentSucceeded(ctx, intent)
	if err != nil {
		return fmt.Errorf("settle payment %s: %w", intent.ID, err)
	}
	if outcome != "" {
		s.logg.Info(s.logg.WithField(ctx, "outcome", outcome), "webhook settled payment")
	}
	return nil
}
