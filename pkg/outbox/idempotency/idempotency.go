package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/pkg/redis"
)

// Manager remembers which outbox events a delivery channel has already handed
// off, using Redis SETNX with a TTL.
// Keys follow the `circ:idempotency:evt:delivered:<channel>:<event_id>` pattern.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewManager builds a guard that keeps delivery marks for the given TTL.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{
		store: store,
		ttl:   ttl,
	}, nil
}

// CheckAndMark reports whether the event was already delivered on channel.
// When it was not, the event is marked as delivered before returning.
func (m *Manager) CheckAndMark(ctx context.Context, channel string, eventID uuid.UUID) (bool, error) {
	key, err := m.deliveredKey(channel, eventID)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, key, "1", m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Release drops the delivery mark so a failed hand-off can be retried.
func (m *Manager) Release(ctx context.Context, channel string, eventID uuid.UUID) error {
	key, err := m.deliveredKey(channel, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) deliveredKey(channel string, eventID uuid.UUID) (string, error) {
	if channel == "" {
		return "", errors.New("channel name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	scope := fmt.Sprintf("evt:delivered:%s", channel)
	return m.store.IdempotencyKey(scope, eventID.String()), nil
}
