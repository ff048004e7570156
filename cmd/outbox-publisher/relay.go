package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/edihub/edi-backend/pkg/config"
	"github.com/edihub/edi-backend/pkg/db/models"
	"github.com/edihub/edi-backend/pkg/enums"
	"github.com/edihub/edi-backend/pkg/logger"
	"github.com/edihub/edi-backend/pkg/metrics"
	"github.com/edihub/edi-backend/pkg/outbox"
	"github.com/edihub/edi-backend/pkg/outbox/registry"
	"github.com/edihub/edi-backend/pkg/retry"
)

const (
	fallbackBatchSize      = 50
	fallbackPollInterval   = 500 * time.Millisecond
	fallbackMaxAttempts    = 10
	fallbackPublishTimeout = 15 * time.Second
	idleBackoffCap         = 10 * time.Second
	idleBackoffJitter      = 0.25
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	topicSource
	Ping(context.Context) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type outcome int

const (
	outcomePublished outcome = iota
	outcomeRetry
	outcomeDeadLettered
)

type RelayParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	Metrics       *metrics.RelayMetrics
	DB            dbClient
	PubSub        pubSubClient
	Repository    outboxRepository
	DLQRepository dlqRepository
	Registry      eventResolver

	// Publishers overrides the per-topic publisher lookup; tests only.
	Publishers func(topic string) publisher
}

// Relay forwards committed outbox rows to their Pub/Sub topics. A row is
// marked published, retried on a later batch, or parked in the DLQ, all in
// the same transaction that claimed it.
type Relay struct {
	logg     *logger.Logger
	metrics  *metrics.RelayMetrics
	db       dbClient
	pubsub   pubSubClient
	repo     outboxRepository
	dlq      dlqRepository
	resolver eventResolver

	publishers func(topic string) publisher
	stopTopics func()

	ordered        bool
	batchSize      int
	maxAttempts    int
	pollInterval   time.Duration
	publishTimeout time.Duration
}

func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	cfg := params.Config.Outbox
	r := &Relay{
		logg:           params.Logger,
		metrics:        params.Metrics,
		db:             params.DB,
		pubsub:         params.PubSub,
		repo:           params.Repository,
		dlq:            params.DLQRepository,
		resolver:       params.Registry,
		publishers:     params.Publishers,
		stopTopics:     func() {},
		ordered:        cfg.Ordered,
		batchSize:      positiveOr(cfg.BatchSize, fallbackBatchSize),
		maxAttempts:    positiveOr(cfg.MaxAttempts, fallbackMaxAttempts),
		pollInterval:   fallbackPollInterval,
		publishTimeout: fallbackPublishTimeout,
	}
	if cfg.PollIntervalMS > 0 {
		r.pollInterval = time.Duration(cfg.PollIntervalMS) * time.Millisecond
	}
	if cfg.PublishTimeout > 0 {
		r.publishTimeout = cfg.PublishTimeout
	}
	if r.publishers == nil {
		topics := newTopicPublishers(params.PubSub, cfg.Ordered)
		r.publishers = topics.lookup
		r.stopTopics = topics.stop
	}
	return r, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func (r *Relay) checkDependencies(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := r.db.Ping(groupCtx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		if err := r.pubsub.Ping(groupCtx); err != nil {
			return fmt.Errorf("pubsub ping failed: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// Run polls until ctx is canceled. Empty polls wait one interval; failed
// batches back off exponentially up to idleBackoffCap.
func (r *Relay) Run(ctx context.Context) error {
	defer r.stopTopics()

	if err := r.checkDependencies(ctx); err != nil {
		r.logg.Error(ctx, "outbox relay dependencies unavailable", err)
		return err
	}

	backoff := retry.NewExponentialBackoff(-1, r.pollInterval, idleBackoffJitter, idleBackoffCap)
	for ctx.Err() == nil {
		claimed, err := r.drain(ctx)
		wait := r.pollInterval
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay batch failed", err)
			wait = backoff.HandleError(err).TimeToWait
		case claimed > 0:
			backoff.HandleSuccess()
			continue
		default:
			backoff.HandleSuccess()
		}
		if err := sleepCtx(ctx, wait); err != nil {
			break
		}
	}
	r.logg.Info(ctx, "outbox relay stopped")
	return ctx.Err()
}

// drain claims one batch and settles every row in it. It returns the number
// of rows claimed.
func (r *Relay) drain(ctx context.Context) (int, error) {
	claimed := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := r.repo.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return err
		}
		claimed = len(events)
		for _, event := range events {
			result, err := r.relay(ctx, tx, event)
			if err != nil {
				return err
			}
			r.record(event, result)
		}
		return nil
	})
	r.metrics.ObserveBatch(claimed)
	return claimed, err
}

func (r *Relay) record(event models.OutboxEvent, result outcome) {
	switch result {
	case outcomePublished:
		r.metrics.IncPublished(string(event.EventType))
	case outcomeRetry:
		r.metrics.IncRetried(string(event.EventType))
	}
}

// relay settles a single row. The returned error is a bookkeeping failure
// that must abort the batch; publish failures are folded into the outcome.
func (r *Relay) relay(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (outcome, error) {
	resolved, err := r.resolver.Resolve(event)
	if err != nil {
		return outcomeDeadLettered, r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err, eventLogFields(event, nil))
	}

	fields := eventLogFields(event, resolved)
	pub := r.publishers(resolved.Descriptor.Topic)
	if pub == nil {
		cause := fmt.Errorf("no publisher for topic %s", resolved.Descriptor.Topic)
		return outcomeDeadLettered, r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonUnroutable, cause, fields)
	}

	if err := r.deliver(ctx, pub, r.message(event, resolved)); err != nil {
		var nonRetry registry.NonRetryableError
		if errors.As(err, &nonRetry) {
			return outcomeDeadLettered, r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err, fields)
		}

		attempt := event.AttemptCount + 1
		fields["attempt_count"] = attempt
		if attempt >= r.maxAttempts {
			cause := fmt.Errorf("gave up after %d attempts: %w", attempt, err)
			return outcomeDeadLettered, r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts, cause, fields)
		}

		warnCtx := r.logg.WithField(r.logg.WithFields(ctx, fields), "error", err.Error())
		r.logg.Warn(warnCtx, "outbox publish failed, will retry")
		if markErr := r.repo.MarkFailedTx(tx, event.ID, err); markErr != nil {
			return outcomeRetry, fmt.Errorf("mark failure %s: %w", event.ID, markErr)
		}
		return outcomeRetry, nil
	}

	if err := r.repo.MarkPublishedTx(tx, event.ID); err != nil {
		return outcomePublished, fmt.Errorf("mark published %s: %w", event.ID, err)
	}
	r.logg.Info(r.logg.WithFields(ctx, fields), "outbox event published")
	return outcomePublished, nil
}

func (r *Relay) deliver(ctx context.Context, pub publisher, msg *gcppubsub.Message) error {
	publishCtx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()

	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(errors.New("publisher returned no result"))
	}
	_, err := result.Get(publishCtx)
	return err
}

// message builds the Pub/Sub message. Consumers de-duplicate on event_id and
// route on the receiver attributes.
func (r *Relay) message(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if actor := resolved.Envelope.Actor; actor != nil {
		attrs["receiver_number"] = actor.ActorNumber
		attrs["receiver_role"] = actor.Role
	}
	msg := &gcppubsub.Message{Data: event.Payload, Attributes: attrs}
	if r.ordered {
		msg.OrderingKey = orderingKey(event, resolved.Envelope)
	}
	return msg
}

// orderingKey groups a receiver's events so bundle.closed always precedes
// bundle.dequeued for the same queue. Events without a receiver fall back to
// their aggregate.
func orderingKey(event models.OutboxEvent, envelope outbox.PayloadEnvelope) string {
	if actor := envelope.Actor; actor != nil && actor.ActorNumber != "" {
		return actor.ActorNumber + ":" + actor.Role
	}
	return string(event.AggregateType) + ":" + event.AggregateID.String()
}

func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, fields map[string]any) error {
	fields["error_reason"] = reason
	warnCtx := r.logg.WithField(r.logg.WithFields(ctx, fields), "error", cause.Error())
	r.logg.Warn(warnCtx, "outbox event dead-lettered")

	message := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &message,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := r.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := r.repo.MarkTerminalTx(tx, event.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	r.metrics.IncDeadLettered(string(reason))
	return nil
}

func eventLogFields(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	if resolved == nil {
		return fields
	}
	fields["topic"] = resolved.Descriptor.Topic
	if resolved.Envelope.EventID != "" {
		fields["event_id"] = resolved.Envelope.EventID
		fields["occurred_at"] = resolved.Envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if actor := resolved.Envelope.Actor; actor != nil {
		fields["receiver_number"] = actor.ActorNumber
	}
	return fields
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
