package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/instance"
)

const defaultLockTTL = 4 * time.Minute

// ReleaseFunc gives up a lock obtained from Lock.TryAcquire.
type ReleaseFunc func(context.Context) error

// Lock elects a single replica to run a cron cycle.
type Lock interface {
	TryAcquire(ctx context.Context) (ReleaseFunc, bool, error)
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)
}

// RedisLock is a SET NX key holding a per-acquisition token. The key expires
// on its own if the holder dies mid-cycle.
type RedisLock struct {
	store lockStore
	key   string
	ttl   time.Duration
}

func NewRedisLock(store lockStore, key string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case store == nil:
		return nil, errors.New("cron lock: store required")
	case key == "":
		return nil, errors.New("cron lock: key required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

// TryAcquire returns ok=false without error when another replica holds the
// key. The returned release deletes the key only while it still carries this
// acquisition's token.
func (l *RedisLock) TryAcquire(ctx context.Context) (ReleaseFunc, bool, error) {
	token := fmt.Sprintf("%s:%s", instance.ID(), uuid.NewString())
	ok, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("cron lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) error {
		if _, err := l.store.DeleteIfValue(ctx, l.key, token); err != nil {
			return fmt.Errorf("cron lock %s release: %w", l.key, err)
		}
		return nil
	}, true, nil
}
