// Package registry knows which Pub/Sub topic and payload schema belong to each
// outbox event type, and decodes payloads on the consuming side.
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/payloads"
)

// EventDescriptor is the routing entry for one event type.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string

	newPayload func() any
}

// ResolvedEvent is an outbox row whose envelope and payload decoded cleanly.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry routes outbox rows to topics.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

func describe[T any](event enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:     event,
		AggregateType: aggregate,
		Topic:         topic,
		newPayload:    func() any { return new(T) },
	}
}

// NewEventRegistry builds the catalog. Order events go to OrdersTopic; stock
// events go to InventoryTopic when set.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.OrdersTopic == "" {
		return nil, fmt.Errorf("orders topic is required")
	}
	orders := cfg.OrdersTopic
	inventory := cfg.InventoryTopic
	if inventory == "" {
		inventory = orders
	}

	descriptors := []EventDescriptor{
		describe[payloads.OrderCreatedEvent](enums.EventOrderCreated, enums.AggregateOrder, orders),
		describe[payloads.OrderPaidEvent](enums.EventOrderPaid, enums.AggregateOrder, orders),
		describe[payloads.OrderStatusChangedEvent](enums.EventOrderStatusChanged, enums.AggregateOrder, orders),
		describe[payloads.OrderCanceledEvent](enums.EventOrderCanceled, enums.AggregateOrder, orders),
		describe[payloads.OrderRefundRequestedEvent](enums.EventOrderRefundRequested, enums.AggregateOrder, orders),
		describe[payloads.OrderDeletedEvent](enums.EventOrderDeleted, enums.AggregateOrder, orders),
		describe[payloads.InventoryAdjustedEvent](enums.EventInventoryAdjusted, enums.AggregateProduct, inventory),
	}
	entries := make(map[enums.OutboxEventType]EventDescriptor, len(descriptors))
	for _, d := range descriptors {
		entries[d.EventType] = d
	}
	return &EventRegistry{entries: entries}, nil
}

// Descriptor returns the routing entry for eventType.
func (r *EventRegistry) Descriptor(eventType enums.OutboxEventType) (EventDescriptor, bool) {
	d, ok := r.entries[eventType]
	return d, ok
}

// Resolve checks that the row matches its catalog entry and decodes it. Every
// failure is non-retryable since the stored row will never change.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	case desc.AggregateType != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("%s expects aggregate %s, row has %s", event.EventType, desc.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(fmt.Errorf("%s row has no aggregate_id", event.EventType))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("%s envelope has no data", event.EventType))
	}

	payload := desc.newPayload()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
