package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type exampleStore struct {
	seen map[string]bool
}

func (s *exampleStore) Get(context.Context, string) (string, error) {
	return "", nil
}

func (s *exampleStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

func (s *exampleStore) IdempotencyKey(scope, id string) string {
	return "circ:idempotency:" + scope + ":" + id
}

func (s *exampleStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.seen, key)
	}
	return nil
}

func ExampleManager_CheckAndMark() {
	ctx := context.Background()
	manager, _ := NewManager(&exampleStore{seen: map[string]bool{}}, 7*24*time.Hour)
	eventID := uuid.MustParse("0192f5c4-5b1e-7c3a-9d2e-6f1a2b3c4d5e")

	deliver := func() string {
		delivered, _ := manager.CheckAndMark(ctx, "outbox-publisher", eventID)
		if delivered {
			return "skipped reservation_ready"
		}
		return "published reservation_ready"
	}

	fmt.Println(deliver())
	fmt.Println(deliver())
	_ = manager.Release(ctx, "outbox-publisher", eventID)
	fmt.Println(deliver())
	// Output:
	// published reservation_ready
	// skipped reservation_ready
	// published reservation_ready
}
