package outbox

import (
	"encoding/json"
	"time"
)

// ActorRef identifies the market actor an event concerns.
type ActorRef struct {
	ActorNumber string `json:"actorNumber"`
	Role        string `json:"role,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
// EventID equals the outbox row id so consumers can de-duplicate on it.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
