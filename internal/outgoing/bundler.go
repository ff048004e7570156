package outgoing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edihub/edi-backend/pkg/db/models"
	"github.com/edihub/edi-backend/pkg/logger"
	"github.com/edihub/edi-backend/pkg/metrics"
	"github.com/edihub/edi-backend/pkg/retry"
)

const (
	defaultBundlerBatchSize  = 500
	defaultBundlerMaxBatches = 20
)

type BundlerParams struct {
	Pipeline  *Pipeline
	Policy    Policy
	Logger    *logger.Logger
	Metrics   *metrics.OutgoingMetrics
	BatchSize int

	// MaxBatches bounds how many pending batches one AssignPending call drains.
	MaxBatches int
}

// Bundler assigns pending messages and closes bundles whose window elapsed.
// Every step is conditional so concurrent runs and enqueues are safe.
type Bundler struct {
	pipeline  *Pipeline
	placement placement
	policy    Policy
	logg      *logger.Logger
	metrics   *metrics.OutgoingMetrics
	batchSize  int
	maxBatches int
	retrier    *retry.Retrier[AssignResult]
}

func NewBundler(params BundlerParams) (*Bundler, error) {
	if params.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Policy.Window <= 0 {
		return nil, errors.New("bundling window must be positive")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBundlerBatchSize
	}
	maxBatches := params.MaxBatches
	if maxBatches <= 0 {
		maxBatches = defaultBundlerMaxBatches
	}
	return &Bundler{
		pipeline:   params.Pipeline,
		placement:  placement{policy: params.Policy},
		policy:     params.Policy,
		logg:       params.Logger,
		metrics:    params.Metrics,
		batchSize:  batch,
		maxBatches: maxBatches,
		retrier: retry.New[AssignResult](
			retry.ExponentialBackoffFactory(5, 20*time.Millisecond, retryJitter, time.Second),
			retry.WithRetryable[AssignResult](isTransientConflict),
		),
	}, nil
}

type pendingGroup struct {
	receiver Actor
	key      BundleKey
	messages []models.OutgoingMessage
}

// AssignPending places messages recorded without a bundle whose creation is at
// or before now minus the window. Messages of one receiver and key are placed
// in one transaction, in creation order. Batches are drained until a short
// batch or the batch bound is reached.
func (b *Bundler) AssignPending(ctx context.Context, now time.Time) (AssignResult, error) {
	var total AssignResult
	defer func() { b.metrics.AddBundlesClosed(metrics.CloseReasonCap, total.Closed) }()
	cutoff := b.policy.CloseCutoff(now)

	for batch := 0; batch < b.maxBatches; batch++ {
		var pending []models.OutgoingMessage
		err := b.pipeline.Execute(ctx, "list-pending", func(ctx context.Context, uow *UnitOfWork) error {
			var err error
			pending, err = uow.Repo.ListPendingMessagesBefore(ctx, cutoff, b.batchSize)
			return err
		})
		if err != nil {
			return total, fmt.Errorf("list pending messages: %w", err)
		}

		for _, group := range groupPending(pending) {
			res, err := b.retrier.Do(ctx, func(ctx context.Context) (AssignResult, error) {
				return b.assignGroup(ctx, group, now)
			})
			if err != nil {
				return total, fmt.Errorf("assign %s messages for %s/%s: %w", group.key, group.receiver.Number, group.receiver.Role, err)
			}
			total.Assigned += res.Assigned
			total.Skipped += res.Skipped
			total.Closed += res.Closed
		}
		if len(pending) < b.batchSize {
			return total, nil
		}
	}
	b.logg.Warn(b.logg.WithField(ctx, "max_batches", b.maxBatches), "assign pending stopped at batch bound")
	return total, nil
}

func (b *Bundler) assignGroup(ctx context.Context, group pendingGroup, now time.Time) (AssignResult, error) {
	var res AssignResult
	err := b.pipeline.Execute(ctx, "assign-pending", func(ctx context.Context, uow *UnitOfWork) error {
		res = AssignResult{}
		ids := make([]uuid.UUID, 0, len(group.messages))
		for _, msg := range group.messages {
			ids = append(ids, msg.ID)
		}
		claimed, err := uow.Repo.LockPendingMessages(ctx, ids)
		if err != nil {
			return err
		}
		res.Skipped = len(group.messages) - len(claimed)
		if len(claimed) == 0 {
			return nil
		}

		queue, err := uow.Repo.GetOrCreateQueue(ctx, group.receiver, now)
		if err != nil {
			return err
		}
		for i := range claimed {
			msg := &claimed[i]
			// A new bundle starts its window at its oldest member.
			bundle, err := b.placement.openBundle(ctx, uow, queue, group.key, msg.CreatedAt)
			if err != nil {
				return err
			}
			if err := uow.Repo.AssignMessage(ctx, msg.ID, bundle.ID); err != nil {
				if errors.Is(err, ErrMessageAlreadyAssigned) {
					return invariantf("locked message %s was assigned concurrently", msg.ID)
				}
				return err
			}
			updated, err := b.placement.countMessage(ctx, uow, queue, bundle.ID, now)
			if err != nil {
				return err
			}
			if updated.ClosedAt != nil {
				res.Closed++
			}
			res.Assigned++
		}
		return nil
	})
	return res, err
}

func groupPending(messages []models.OutgoingMessage) []pendingGroup {
	index := map[string]int{}
	var groups []pendingGroup
	for _, msg := range messages {
		receiver := Actor{Number: msg.ReceiverNumber, Role: msg.ReceiverRole}
		key := keyOf(msg.DocumentType, msg.BusinessReason, msg.RelatedToMessageID)
		id := receiver.Number + "|" + string(receiver.Role) + "|" + key.String()
		pos, ok := index[id]
		if !ok {
			pos = len(groups)
			index[id] = pos
			groups = append(groups, pendingGroup{receiver: receiver, key: key})
		}
		groups[pos].messages = append(groups[pos].messages, msg)
	}
	return groups
}

// CloseExpired closes open bundles created at or before now minus the window.
func (b *Bundler) CloseExpired(ctx context.Context, now time.Time) (int, error) {
	cutoff := b.policy.CloseCutoff(now)
	total := 0
	for {
		closed := 0
		err := b.pipeline.Execute(ctx, "close-expired", func(ctx context.Context, uow *UnitOfWork) error {
			bundles, err := uow.Repo.CloseBundlesCreatedBefore(ctx, cutoff, now, b.batchSize)
			if err != nil {
				return err
			}
			queues := map[string]*models.ActorMessageQueue{}
			for i := range bundles {
				bundle := &bundles[i]
				if bundle.MessageCount == 0 {
					return invariantf("bundle %s closed without messages", bundle.ID)
				}
				queue, ok := queues[bundle.ActorMessageQueueID.String()]
				if !ok {
					queue, err = uow.Repo.FindQueueByID(ctx, bundle.ActorMessageQueueID)
					if err != nil {
						return err
					}
					queues[bundle.ActorMessageQueueID.String()] = queue
				}
				uow.Events.Add(bundleClosedEvent(bundle, queue, metrics.CloseReasonWindow))
			}
			closed = len(bundles)
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("close expired bundles: %w", err)
		}
		total += closed
		b.metrics.AddBundlesClosed(metrics.CloseReasonWindow, closed)
		if closed < b.batchSize {
			break
		}
	}
	if total > 0 {
		b.logg.Info(b.logg.WithField(ctx, "closed", total), "closed expired bundles")
	}
	return total, nil
}
