package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActorRef identifies who triggered the event. Background sweeps leave it nil.
type ActorRef struct {
	ActorID uuid.UUID `json:"actorId"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

type actorContextKey struct{}

// ContextWithActor records who is acting so events emitted further down carry it.
func ContextWithActor(ctx context.Context, actorID uuid.UUID) context.Context {
	if actorID == uuid.Nil {
		return ctx
	}
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext returns the actor recorded by ContextWithActor, if any.
func ActorFromContext(ctx context.Context) *ActorRef {
	if ctx == nil {
		return nil
	}
	id, ok := ctx.Value(actorContextKey{}).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return nil
	}
	return &ActorRef{ActorID: id}
}
