// Package registry routes outbox rows to Pub/Sub topics and decodes their
// typed payloads.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/edihub/edi-backend/pkg/config"
	"github.com/edihub/edi-backend/pkg/db/models"
	"github.com/edihub/edi-backend/pkg/enums"
	"github.com/edihub/edi-backend/pkg/outbox"
	"github.com/edihub/edi-backend/pkg/outbox/payloads"
)

// EventDescriptor binds an event type to its aggregate, topic and payload type.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is a row that passed validation, ready to publish.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that can never be published as stored.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func rejectf(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

type route struct {
	event     enums.OutboxEventType
	aggregate enums.OutboxAggregateType
	topic     func(config.PubSubConfig) string
	payload   func() any
}

func bundleTopic(cfg config.PubSubConfig) string  { return cfg.BundleEventsTopic }
func messageTopic(cfg config.PubSubConfig) string { return cfg.MessageEventsTopic }

var routes = []route{
	{enums.EventMessageEnqueued, enums.AggregateOutgoingMessage, messageTopic, func() any { return &payloads.MessageEnqueuedEvent{} }},
	{enums.EventBundleClosed, enums.AggregateBundle, bundleTopic, func() any { return &payloads.BundleClosedEvent{} }},
	{enums.EventBundlePeeked, enums.AggregateBundle, bundleTopic, func() any { return &payloads.BundlePeekedEvent{} }},
	{enums.EventBundleDequeued, enums.AggregateBundle, bundleTopic, func() any { return &payloads.BundleDequeuedEvent{} }},
}

// EventRegistry holds one descriptor per supported event type.
type EventRegistry struct {
	byType   map[enums.OutboxEventType]EventDescriptor
	validate *validator.Validate
}

func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	var missing []error
	if cfg.BundleEventsTopic == "" {
		missing = append(missing, errors.New("bundle events topic is required"))
	}
	if cfg.MessageEventsTopic == "" {
		missing = append(missing, errors.New("message events topic is required"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}

	reg := &EventRegistry{
		byType:   make(map[enums.OutboxEventType]EventDescriptor, len(routes)),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, rt := range routes {
		reg.byType[rt.event] = EventDescriptor{
			EventType:      rt.event,
			AggregateType:  rt.aggregate,
			Topic:          rt.topic(cfg),
			PayloadFactory: rt.payload,
		}
	}
	return reg, nil
}

// Topics returns the distinct topics in sorted order.
func (r *EventRegistry) Topics() []string {
	topics := make([]string, 0, 2)
	for _, desc := range r.byType {
		if !slices.Contains(topics, desc.Topic) {
			topics = append(topics, desc.Topic)
		}
	}
	slices.Sort(topics)
	return topics
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is a NonRetryableError: the row will not improve on retry.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.byType[event.EventType]
	switch {
	case !ok:
		return nil, rejectf("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, rejectf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, rejectf("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, rejectf("decode envelope: %w", err)
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, rejectf("payload missing for %s", event.EventType)
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, rejectf("decode %s payload: %w", event.EventType, err)
	}
	if err := r.validate.Struct(payload); err != nil {
		return nil, rejectf("invalid %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
