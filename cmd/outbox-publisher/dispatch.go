package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/registry"
)

var errUnroutable = errors.New("no publisher for topic")

type verdict int

const (
	verdictPublished verdict = iota
	verdictRetry
	verdictDead
)

// outcome is what happened to one outbox row on this attempt.
type outcome struct {
	verdict verdict
	reason  enums.OutboxDLQErrorReason
	err     error
	topic   string
	eventID string
}

// dispatch resolves and publishes one row without touching the database.
func (s *Service) dispatch(ctx context.Context, event models.OutboxEvent) outcome {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return outcome{verdict: verdictDead, reason: enums.OutboxDLQReasonNonRetryable, err: err}
	}
	out := outcome{topic: resolved.Descriptor.Topic, eventID: resolved.Envelope.EventID}

	err = s.send(ctx, event, resolved)
	attempt := event.AttemptCount + 1
	switch {
	case err == nil:
		out.verdict = verdictPublished
	case errors.Is(err, errUnroutable):
		out.verdict, out.reason, out.err = verdictDead, enums.OutboxDLQReasonUnroutable, err
	case registry.IsNonRetryable(err):
		out.verdict, out.reason, out.err = verdictDead, enums.OutboxDLQReasonNonRetryable, err
	case attempt >= s.maxAttempts:
		out.verdict, out.reason = verdictDead, enums.OutboxDLQReasonMaxAttempts
		out.err = fmt.Errorf("gave up after %d attempts: %w", attempt, err)
	default:
		out.verdict, out.err = verdictRetry, err
	}
	return out
}

// send publishes the stored envelope bytes unchanged. The aggregate id is the
// ordering key so consumers see one order's events in commit order.
func (s *Service) send(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publishers.publisher(topic)
	if pub == nil {
		return fmt.Errorf("%w %q", errUnroutable, topic)
	}

	eventID := resolved.Envelope.EventID
	if eventID == "" {
		eventID = event.ID.String()
	}
	msg := &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: event.AggregateID.String(),
		Attributes: map[string]string{
			"event_id":       eventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}

	sendCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	result := pub.Publish(sendCtx, msg)
	if result == nil {
		return fmt.Errorf("%w %q: publish returned no result", errUnroutable, topic)
	}
	_, err := result.Get(sendCtx)
	return err
}

// settle records the outcome on the row inside the claiming transaction.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, out outcome) error {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    string(event.EventType),
		"aggregate_id":  event.AggregateID.String(),
		"attempt_count": event.AttemptCount + 1,
		"topic":         out.topic,
		"event_id":      out.eventID,
	})
	eventType := string(event.EventType)

	switch out.verdict {
	case verdictPublished:
		if err := s.store.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.metrics.IncResult(eventType, metrics.PublishPublished)
		s.logg.Debug(ctx, "outbox event published")

	case verdictRetry:
		if err := s.store.MarkFailedTx(tx, event.ID, out.err); err != nil {
			return fmt.Errorf("mark failed %s: %w", event.ID, err)
		}
		s.metrics.IncResult(eventType, metrics.PublishRetry)
		s.logg.Warn(s.logg.WithField(ctx, "error", out.err.Error()), "outbox publish failed, will retry")

	case verdictDead:
		if err := s.dlq.Bury(tx, event, out.reason, out.err); err != nil {
			return fmt.Errorf("dead-letter %s: %w", event.ID, err)
		}
		if err := s.store.MarkTerminalTx(tx, event.ID, out.err, s.maxAttempts); err != nil {
			return fmt.Errorf("park %s: %w", event.ID, err)
		}
		s.metrics.IncResult(eventType, metrics.PublishDeadLettered)
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"error":        out.err.Error(),
			"error_reason": string(out.reason),
		}), "outbox event dead-lettered")
	}
	return nil
}
