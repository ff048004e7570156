package main

import (
	"context"
	"errors"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type topicSource interface {
	Publisher(name string) *gcppubsub.Publisher
}

// topicPublishers hands out one long-lived publisher per topic so batching
// and ordering state survive across relay batches.
type topicPublishers struct {
	source  topicSource
	ordered bool

	mu    sync.Mutex
	byKey map[string]*orderedPublisher
}

func newTopicPublishers(source topicSource, ordered bool) *topicPublishers {
	return &topicPublishers{
		source:  source,
		ordered: ordered,
		byKey:   map[string]*orderedPublisher{},
	}
}

// lookup returns nil when the topic cannot be resolved.
func (t *topicPublishers) lookup(topic string) publisher {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.byKey[topic]; ok {
		return p
	}
	raw := t.source.Publisher(topic)
	if raw == nil {
		return nil
	}
	raw.EnableMessageOrdering = t.ordered
	p := &orderedPublisher{raw: raw}
	t.byKey[topic] = p
	return p
}

// stop flushes pending messages on every publisher handed out so far.
func (t *topicPublishers) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for topic, p := range t.byKey {
		p.raw.Stop()
		delete(t.byKey, topic)
	}
}

type orderedPublisher struct {
	raw *gcppubsub.Publisher
}

func (p *orderedPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return &orderedResult{
		res:         p.raw.Publish(ctx, msg),
		raw:         p.raw,
		orderingKey: msg.OrderingKey,
	}
}

type orderedResult struct {
	res         *gcppubsub.PublishResult
	raw         *gcppubsub.Publisher
	orderingKey string
}

// Get waits for the server ack. A failed ordered publish pauses its key, so
// the key is resumed here and the row is retried on a later batch.
func (r *orderedResult) Get(ctx context.Context) (string, error) {
	if r.res == nil {
		return "", errors.New("publish result is nil")
	}
	id, err := r.res.Get(ctx)
	if err != nil && r.orderingKey != "" {
		r.raw.ResumePublish(r.orderingKey)
	}
	return id, err
}
