package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeStore struct {
	setNXResult bool
	setNXError  error
	lastKey     string
	lastTTL     time.Duration
	lastDeleted string
}

func (f *fakeStore) Get(context.Context, string) (string, error) {
	return "", nil
}

func (f *fakeStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	f.lastKey = key
	f.lastTTL = ttl
	return f.setNXResult, f.setNXError
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "circ:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	if len(keys) > 0 {
		f.lastDeleted = keys[0]
	}
	return nil
}

func TestCheckAndMark_FirstDelivery(t *testing.T) {
	store := &fakeStore{setNXResult: true}
	manager, err := NewManager(store, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	eventID := uuid.New()
	delivered, err := manager.CheckAndMark(context.Background(), "outbox-publisher", eventID)
	if err != nil {
		t.Fatalf("CheckAndMark: %v", err)
	}
	if delivered {
		t.Fatalf("expected first call to return false, got true")
	}

	expectedKey := "circ:idempotency:evt:delivered:outbox-publisher:" + eventID.String()
	if store.lastKey != expectedKey {
		t.Fatalf("unexpected key: %q", store.lastKey)
	}
	if store.lastTTL != 24*time.Hour {
		t.Fatalf("unexpected ttl: %v", store.lastTTL)
	}
}

func TestCheckAndMark_AlreadyDelivered(t *testing.T) {
	store := &fakeStore{setNXResult: false}
	manager, err := NewManager(store, 12*time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	delivered, err := manager.CheckAndMark(context.Background(), "outbox-publisher", uuid.New())
	if err != nil {
		t.Fatalf("CheckAndMark: %v", err)
	}
	if !delivered {
		t.Fatalf("expected already delivered, got false")
	}
}

func TestCheckAndMark_Error(t *testing.T) {
	store := &fakeStore{setNXError: errors.New("boom")}
	manager, err := NewManager(store, time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if _, err := manager.CheckAndMark(context.Background(), "outbox-publisher", uuid.New()); err == nil {
		t.Fatal("expected error")
	}
}

func TestCheckAndMark_RequiresChannelAndID(t *testing.T) {
	manager, err := NewManager(&fakeStore{setNXResult: true}, time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := manager.CheckAndMark(context.Background(), "", uuid.New()); err == nil {
		t.Fatal("expected missing channel error")
	}
	if _, err := manager.CheckAndMark(context.Background(), "outbox-publisher", uuid.Nil); err == nil {
		t.Fatal("expected missing event id error")
	}
}

func TestRelease(t *testing.T) {
	store := &fakeStore{}
	manager, err := NewManager(store, time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	eventID := uuid.New()
	if err := manager.Release(context.Background(), "outbox-publisher", eventID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	expected := "circ:idempotency:evt:delivered:outbox-publisher:" + eventID.String()
	if store.lastDeleted != expected {
		t.Fatalf("unexpected deleted key %q", store.lastDeleted)
	}
}
