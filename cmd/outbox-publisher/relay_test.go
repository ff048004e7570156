package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/edihub/edi-backend/pkg/config"
	"github.com/edihub/edi-backend/pkg/db/models"
	"github.com/edihub/edi-backend/pkg/enums"
	"github.com/edihub/edi-backend/pkg/logger"
	"github.com/edihub/edi-backend/pkg/outbox"
	"github.com/edihub/edi-backend/pkg/outbox/payloads"
	"github.com/edihub/edi-backend/pkg/outbox/registry"
)

const testReceiver = "5790001330552"

func TestDrainSettlesEachRowIndependently(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{
		bundleEvent(t, enums.EventBundleClosed, 0),
		bundleEvent(t, enums.EventBundleClosed, 0),
	}}
	pub := &scriptedPublisher{errs: []error{errors.New("transient"), nil}}
	relay := newTestRelay(t, repo, &fakeDLQ{}, &fakeResolver{topic: "bundle-topic"}, pub, config.OutboxConfig{MaxAttempts: 5})

	claimed, err := relay.drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if claimed != 2 {
		t.Fatalf("expected 2 claimed rows, got %d", claimed)
	}
	if len(repo.failed) != 1 || repo.failed[0] != repo.events[0].ID {
		t.Fatalf("expected first row marked failed, got %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != repo.events[1].ID {
		t.Fatalf("expected second row published, got %v", repo.published)
	}
}

func TestDrainEmptyBatch(t *testing.T) {
	relay := newTestRelay(t, &fakeRepo{}, &fakeDLQ{}, &fakeResolver{topic: "bundle-topic"}, &scriptedPublisher{}, config.OutboxConfig{})
	claimed, err := relay.drain(context.Background())
	if err != nil || claimed != 0 {
		t.Fatalf("expected empty drain, got %d %v", claimed, err)
	}
}

func TestMessageCarriesReceiverAndOrderingKey(t *testing.T) {
	event := bundleEvent(t, enums.EventBundleDequeued, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &scriptedPublisher{}
	resolver := &fakeResolver{topic: "bundle-topic", actor: &outbox.ActorRef{ActorNumber: testReceiver, Role: "DDQ"}}
	relay := newTestRelay(t, repo, &fakeDLQ{}, resolver, pub, config.OutboxConfig{Ordered: true})

	if _, err := relay.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(pub.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.sent))
	}
	msg := pub.sent[0]
	if msg.Attributes["receiver_number"] != testReceiver || msg.Attributes["receiver_role"] != "DDQ" {
		t.Fatalf("unexpected receiver attributes %v", msg.Attributes)
	}
	if msg.Attributes["event_type"] != string(enums.EventBundleDequeued) {
		t.Fatalf("unexpected event_type %q", msg.Attributes["event_type"])
	}
	if msg.OrderingKey != testReceiver+":DDQ" {
		t.Fatalf("unexpected ordering key %q", msg.OrderingKey)
	}
	if !bytes.Equal(msg.Data, event.Payload) {
		t.Fatalf("message data must be the stored envelope")
	}
}

func TestUnorderedRelayLeavesOrderingKeyEmpty(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{bundleEvent(t, enums.EventBundleClosed, 0)}}
	pub := &scriptedPublisher{}
	resolver := &fakeResolver{topic: "bundle-topic", actor: &outbox.ActorRef{ActorNumber: testReceiver, Role: "DDQ"}}
	relay := newTestRelay(t, repo, &fakeDLQ{}, resolver, pub, config.OutboxConfig{Ordered: false})

	if _, err := relay.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if pub.sent[0].OrderingKey != "" {
		t.Fatalf("expected no ordering key, got %q", pub.sent[0].OrderingKey)
	}
}

func TestOrderingKeyFallsBackToAggregate(t *testing.T) {
	event := bundleEvent(t, enums.EventBundleClosed, 0)
	key := orderingKey(event, outbox.PayloadEnvelope{})
	if key != "bundle:"+event.AggregateID.String() {
		t.Fatalf("unexpected ordering key %q", key)
	}
}

func TestResolveFailureIsDeadLettered(t *testing.T) {
	event := bundleEvent(t, enums.EventBundleClosed, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQ{}
	resolver := &fakeResolver{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	relay := newTestRelay(t, repo, dlq, resolver, &scriptedPublisher{}, config.OutboxConfig{})

	if _, err := relay.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected one dlq entry, got %d", len(dlq.entries))
	}
	entry := dlq.entries[0]
	if entry.EventID != event.ID || entry.ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected dlq entry %+v", entry)
	}
	if !bytes.Equal(entry.Payload, event.Payload) {
		t.Fatalf("dlq payload mismatch")
	}
	if len(repo.terminal) != 1 || repo.terminal[0] != event.ID {
		t.Fatalf("expected row marked terminal, got %v", repo.terminal)
	}
}

func TestMissingTopicPublisherIsUnroutable(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{bundleEvent(t, enums.EventBundleClosed, 0)}}
	dlq := &fakeDLQ{}
	relay := newTestRelay(t, repo, dlq, &fakeResolver{topic: "missing"}, nil, config.OutboxConfig{})

	if _, err := relay.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(dlq.entries) != 1 || dlq.entries[0].ErrorReason != enums.OutboxDLQReasonUnroutable {
		t.Fatalf("expected unroutable dlq entry, got %+v", dlq.entries)
	}
}

func TestLastAttemptIsDeadLettered(t *testing.T) {
	event := bundleEvent(t, enums.EventBundleClosed, 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQ{}
	pub := &scriptedPublisher{errs: []error{errors.New("deadline exceeded")}}
	relay := newTestRelay(t, repo, dlq, &fakeResolver{topic: "bundle-topic"}, pub, config.OutboxConfig{MaxAttempts: 2})

	if _, err := relay.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(dlq.entries) != 1 || dlq.entries[0].ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("expected max_attempts dlq entry, got %+v", dlq.entries)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("terminal rows must not also be marked failed")
	}
}

func TestBookkeepingFailureAbortsBatch(t *testing.T) {
	repo := &fakeRepo{
		events:     []models.OutboxEvent{bundleEvent(t, enums.EventBundleClosed, 0)},
		publishErr: errors.New("connection reset"),
	}
	relay := newTestRelay(t, repo, &fakeDLQ{}, &fakeResolver{topic: "bundle-topic"}, &scriptedPublisher{}, config.OutboxConfig{})

	if _, err := relay.drain(context.Background()); err == nil {
		t.Fatalf("expected drain to fail when the row cannot be marked")
	}
}

func TestRunReturnsWhenCanceled(t *testing.T) {
	relay := newTestRelay(t, &fakeRepo{}, &fakeDLQ{}, &fakeResolver{topic: "bundle-topic"}, &scriptedPublisher{}, config.OutboxConfig{PollIntervalMS: 5})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := relay.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRunFailsFastWhenPubSubUnreachable(t *testing.T) {
	relay := newTestRelay(t, &fakeRepo{}, &fakeDLQ{}, &fakeResolver{topic: "bundle-topic"}, &scriptedPublisher{}, config.OutboxConfig{})
	relay.pubsub = &fakePubSub{err: errors.New("topic missing")}

	if err := relay.Run(context.Background()); err == nil {
		t.Fatalf("expected readiness failure")
	}
}

func TestNewRelayRequiresDependencies(t *testing.T) {
	if _, err := NewRelay(RelayParams{}); err == nil {
		t.Fatalf("expected error without config")
	}
}

func newTestRelay(t *testing.T, repo outboxRepository, dlq dlqRepository, resolver eventResolver, pub publisher, outboxCfg config.OutboxConfig) *Relay {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard})
	relay, err := NewRelay(RelayParams{
		Config:        &config.Config{Outbox: outboxCfg},
		Logger:        logg,
		DB:            fakeDB{},
		PubSub:        &fakePubSub{},
		Repository:    repo,
		DLQRepository: dlq,
		Registry:      resolver,
		Publishers: func(string) publisher {
			if pub == nil {
				return nil
			}
			return pub
		},
	})
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	return relay
}

func bundleEvent(tb testing.TB, eventType enums.OutboxEventType, attempts int) models.OutboxEvent {
	tb.Helper()
	id := uuid.New()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    id.String(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{}`),
	})
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            id,
		EventType:     eventType,
		AggregateType: enums.AggregateBundle,
		AggregateID:   uuid.New(),
		Payload:       payload,
		AttemptCount:  attempts,
	}
}

type fakeRepo struct {
	events     []models.OutboxEvent
	published  []uuid.UUID
	failed     []uuid.UUID
	terminal   []uuid.UUID
	publishErr error
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDLQ struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQ) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakePubSub struct{ err error }

func (f *fakePubSub) Ping(context.Context) error { return f.err }

func (f *fakePubSub) Publisher(string) *gcppubsub.Publisher { return nil }

type fakeResolver struct {
	topic string
	actor *outbox.ActorRef
	err   error
}

func (f *fakeResolver) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			Topic:         f.topic,
		},
		Envelope: outbox.PayloadEnvelope{
			Version:    1,
			EventID:    event.ID.String(),
			OccurredAt: time.Now().UTC(),
			Actor:      f.actor,
		},
		Payload: &payloads.BundleClosedEvent{},
	}, nil
}

// scriptedPublisher records messages and fails them in the order given by errs.
type scriptedPublisher struct {
	errs []error
	sent []*gcppubsub.Message
}

func (s *scriptedPublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	s.sent = append(s.sent, msg)
	var err error
	if len(s.errs) > 0 {
		err, s.errs = s.errs[0], s.errs[1:]
	}
	return stubResult{err: err}
}

type stubResult struct{ err error }

func (r stubResult) Get(context.Context) (string, error) { return "msg-id", r.err }
