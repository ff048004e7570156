package registry

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/edihub/edi-backend/pkg/config"
	"github.com/edihub/edi-backend/pkg/db/models"
	"github.com/edihub/edi-backend/pkg/enums"
	"github.com/edihub/edi-backend/pkg/outbox"
	"github.com/edihub/edi-backend/pkg/outbox/payloads"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	bundleID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.BundleClosedEvent{
		BundleID:     bundleID,
		MessageID:    "msg-1",
		MessageCount: 2,
		Reason:       "cap",
	})

	event := models.OutboxEvent{
		EventType:     enums.EventBundleClosed,
		AggregateType: enums.AggregateBundle,
		AggregateID:   bundleID,
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "bundle-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.BundleClosedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.BundleID != bundleID || payload.MessageCount != 2 {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" {
		t.Fatalf("envelope missing event id")
	}
}

func TestEventRegistryRoutesMessageEventsSeparately(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventMessageEnqueued,
		AggregateType: enums.AggregateOutgoingMessage,
		AggregateID:   uuid.New(),
		Payload: mustEnvelope(t, mustMarshal(t, payloads.MessageEnqueuedEvent{
			OutgoingMessageID: uuid.New(),
			DocumentType:      "NotifyAggregatedMeasureData",
			ReceiverNumber:    "5790001330552",
		})),
	}
	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "message-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}

	topics := reg.Topics()
	if len(topics) != 2 || topics[0] != "bundle-topic" || topics[1] != "message-topic" {
		t.Fatalf("unexpected topics %v", topics)
	}
}

func TestEventRegistryResolveRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)

	cases := map[string]models.OutboxEvent{
		"unknown event": {
			EventType:     "bundle_exploded",
			AggregateType: enums.AggregateBundle,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"aggregate mismatch": {
			EventType:     enums.EventBundlePeeked,
			AggregateType: enums.AggregateOutgoingMessage,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"missing aggregate id": {
			EventType:     enums.EventBundleDequeued,
			AggregateType: enums.AggregateBundle,
			AggregateID:   uuid.Nil,
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"null payload": {
			EventType:     enums.EventBundleDequeued,
			AggregateType: enums.AggregateBundle,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte("null")),
		},
		"payload missing required fields": {
			EventType:     enums.EventBundleDequeued,
			AggregateType: enums.AggregateBundle,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, mustMarshal(t, payloads.BundleDequeuedEvent{ReceiverNumber: "5790001330552"})),
		},
		"broken envelope": {
			EventType:     enums.EventBundleDequeued,
			AggregateType: enums.AggregateBundle,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{"version":`),
		},
	}

	for name, event := range cases {
		_, err := reg.Resolve(event)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		var nonRetry NonRetryableError
		if !errors.As(err, &nonRetry) {
			t.Fatalf("%s: expected non-retryable error, got %T", name, err)
		}
	}
}

func TestNewEventRegistryRequiresTopics(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{BundleEventsTopic: "b"}); err == nil {
		t.Fatalf("expected missing message topic error")
	}
	if _, err := NewEventRegistry(config.PubSubConfig{MessageEventsTopic: "m"}); err == nil {
		t.Fatalf("expected missing bundle topic error")
	}
	_, err := NewEventRegistry(config.PubSubConfig{})
	if err == nil || !strings.Contains(err.Error(), "bundle") || !strings.Contains(err.Error(), "message") {
		t.Fatalf("expected both missing topics reported, got %v", err)
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{
		BundleEventsTopic:  "bundle-topic",
		MessageEventsTopic: "message-topic",
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}
