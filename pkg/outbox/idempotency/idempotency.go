// Package idempotency deduplicates Pub/Sub deliveries per consumer using
// Redis markers with a lease-then-commit lifecycle.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/redis"
)

const (
	markerInFlight = "processing"
	markerDone     = "done"

	// defaultLease bounds how long a crashed consumer blocks redelivery.
	defaultLease = 5 * time.Minute
)

// State is the result of Begin.
type State int

const (
	// Claimed: this delivery owns the event and must Complete or Release it.
	Claimed State = iota
	// InFlight: another delivery holds the lease; redeliver later.
	InFlight
	// Done: the event was already handled; ack without work.
	Done
)

func (s State) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case InFlight:
		return "in_flight"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Store is the subset of the Redis client the manager needs.
type Store interface {
	Get(context.Context, string) (string, error)
	Set(context.Context, string, any, time.Duration) error
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	Del(context.Context, ...string) error
	IdempotencyKey(scope, id string) string
}

// Manager stores one marker per (consumer, event id) under
// mp:idempotency:evt:<consumer>:<event_id>.
type Manager struct {
	store Store
	ttl   time.Duration
	lease time.Duration
}

// NewManager keeps completed markers for ttl. The in-flight lease is the
// shorter of ttl and five minutes.
func NewManager(store Store, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &Manager{store: store, ttl: ttl, lease: min(ttl, defaultLease)}, nil
}

// Begin tries to lease the event for this delivery.
func (m *Manager) Begin(ctx context.Context, consumer string, eventID uuid.UUID) (State, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return InFlight, err
	}
	ok, err := m.store.SetNX(ctx, key, markerInFlight, m.lease)
	if err != nil {
		return InFlight, fmt.Errorf("lease %s: %w", key, err)
	}
	if ok {
		return Claimed, nil
	}

	current, err := m.store.Get(ctx, key)
	switch {
	case redis.IsNil(err):
		// lease expired between the two calls; let redelivery try again
		return InFlight, nil
	case err != nil:
		return InFlight, fmt.Errorf("read %s: %w", key, err)
	case current == markerDone:
		return Done, nil
	}
	return InFlight, nil
}

// Complete turns the lease into a done marker kept for the full ttl.
func (m *Manager) Complete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, markerDone, m.ttl)
}

// Release drops the lease so a redelivery can retry the event.
func (m *Manager) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:"+consumer, eventID.String()), nil
}
