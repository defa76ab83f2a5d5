package orderevents

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/registry"
)

const consumerName = "order-events"

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type eventHandler interface {
	Handle(ctx context.Context, eventType enums.OutboxEventType, version int, data json.RawMessage) error
}

type dedupe interface {
	Begin(ctx context.Context, consumer string, eventID uuid.UUID) (idempotency.State, error)
	Complete(ctx context.Context, consumer string, eventID uuid.UUID) error
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type disposition bool

const (
	ack  disposition = false
	nack disposition = true
)

// Service consumes the orders subscription. Each event id is handled at most
// once per consumer; failed handling releases the id for redelivery.
type Service struct {
	subscription receiver
	handler      eventHandler
	dedupe       dedupe
	logg         *logger.Logger
}

func NewService(subscription receiver, handler eventHandler, d dedupe, logg *logger.Logger) (*Service, error) {
	switch {
	case subscription == nil:
		return nil, errors.New("orders subscription is required")
	case handler == nil:
		return nil, errors.New("order event handler is required")
	case d == nil:
		return nil, errors.New("idempotency manager is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}
	return &Service{subscription: subscription, handler: handler, dedupe: d, logg: logg}, nil
}

// Run blocks in Receive until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		if s.process(msgCtx, msg) == nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) disposition {
	eventType := enums.OutboxEventType(strings.TrimSpace(msg.Attributes["event_type"]))
	ctx = s.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": string(eventType),
		"consumer":   consumerName,
	})

	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "dropping undecodable envelope")
		return ack
	}
	eventID, err := uuid.Parse(env.EventID)
	if err != nil {
		s.logg.Warn(ctx, "dropping envelope without a valid event id")
		return ack
	}
	ctx = s.logg.WithEventID(ctx, eventID.String())

	state, err := s.dedupe.Begin(ctx, consumerName, eventID)
	if err != nil {
		s.logg.Error(ctx, "idempotency lease failed", err)
		return nack
	}
	switch state {
	case idempotency.Done:
		s.logg.Debug(ctx, "duplicate delivery acked")
		return ack
	case idempotency.InFlight:
		s.logg.Debug(ctx, "event in flight elsewhere, redelivering")
		return nack
	}

	err = s.handler.Handle(ctx, eventType, env.Version, env.Data)
	if err != nil && !errors.Is(err, ErrUnhandled) && !registry.IsNonRetryable(err) {
		s.logg.Error(ctx, "order event handler failed", err)
		if relErr := s.dedupe.Release(ctx, consumerName, eventID); relErr != nil {
			s.logg.Error(ctx, "release idempotency lease", relErr)
		}
		return nack
	}

	switch {
	case errors.Is(err, ErrUnhandled):
		s.logg.Debug(ctx, "order event ignored")
	case err != nil:
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "order event dropped")
	default:
		s.logg.Info(ctx, "order event handled")
	}
	if err := s.dedupe.Complete(ctx, consumerName, eventID); err != nil {
		// the work is done; a redelivery after lease expiry must be idempotent downstream
		s.logg.Error(ctx, "commit idempotency marker", err)
	}
	return ack
}
