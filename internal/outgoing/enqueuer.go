package outgoing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edihub/edi-backend/pkg/db/models"
	"github.com/edihub/edi-backend/pkg/enums"
	pkgerrors "github.com/edihub/edi-backend/pkg/errors"
	"github.com/edihub/edi-backend/pkg/logger"
	"github.com/edihub/edi-backend/pkg/metrics"
	"github.com/edihub/edi-backend/pkg/retry"
	"github.com/edihub/edi-backend/pkg/storage"
)

const (
	defaultUploadTimeout = 30 * time.Second
	cleanupTimeout       = 10 * time.Second
	retryJitter          = 0.2
)

type EnqueuerParams struct {
	Pipeline       *Pipeline
	Storage        storage.Store
	Policy         Policy
	Logger         *logger.Logger
	Metrics        *metrics.OutgoingMetrics
	UploadTimeout  time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Enqueuer stores outgoing messages and places them into bundles.
type Enqueuer struct {
	pipeline      *Pipeline
	storage       storage.Store
	placement     placement
	assignInline  bool
	logg          *logger.Logger
	metrics       *metrics.OutgoingMetrics
	uploadTimeout time.Duration
	retrier       *retry.Retrier[*models.Bundle]
	now           func() time.Time
}

func NewEnqueuer(params EnqueuerParams) (*Enqueuer, error) {
	if params.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if params.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	uploadTimeout := params.UploadTimeout
	if uploadTimeout <= 0 {
		uploadTimeout = defaultUploadTimeout
	}
	attempts := params.RetryAttempts
	if attempts <= 0 {
		attempts = 5
	}
	base := params.RetryBaseDelay
	if base <= 0 {
		base = 20 * time.Millisecond
	}
	maxDelay := params.RetryMaxDelay
	if maxDelay < base {
		maxDelay = base
	}

	e := &Enqueuer{
		pipeline:      params.Pipeline,
		storage:       params.Storage,
		placement:     placement{policy: params.Policy},
		assignInline:  params.Policy.AssignOnEnqueue,
		logg:          params.Logger,
		metrics:       params.Metrics,
		uploadTimeout: uploadTimeout,
		now:           defaultNow,
	}
	e.retrier = retry.New[*models.Bundle](
		retry.ExponentialBackoffFactory(attempts, base, retryJitter, maxDelay),
		retry.WithRetryable[*models.Bundle](isTransientConflict),
		retry.WithOnRetry[*models.Bundle](func(ctx context.Context, attempt int, err error, wait time.Duration) {
			logCtx := e.logg.WithFields(ctx, map[string]any{
				"attempt": attempt,
				"wait_ms": wait.Milliseconds(),
				"error":   err.Error(),
			})
			e.logg.Debug(logCtx, "retrying enqueue transaction")
		}),
	)
	return e, nil
}

// Enqueue uploads the content, then records the message and its bundle
// placement in one transaction. Open bundle races are retried internally.
func (e *Enqueuer) Enqueue(ctx context.Context, req EnqueueRequest) (uuid.UUID, error) {
	if err := validateRequest(req); err != nil {
		return uuid.Nil, err
	}

	messageID := uuid.New()
	reference := messageID.String()
	ctx = e.logg.WithFields(ctx, map[string]any{
		"outgoing_message_id": reference,
		"document_type":       req.DocumentType,
		"receiver_number":     req.Receiver.Number,
		"receiver_role":       req.Receiver.Role,
	})

	uploadCtx, cancel := context.WithTimeout(ctx, e.uploadTimeout)
	err := e.storage.Upload(uploadCtx, enums.FileStorageOutgoingMessage, reference, req.Content)
	cancel()
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("upload content for message %s", reference))
	}

	bundle, err := e.retrier.Do(ctx, func(ctx context.Context) (*models.Bundle, error) {
		return e.record(ctx, messageID, reference, req)
	})
	if err != nil {
		e.discardContent(ctx, reference)
		if isTransientConflict(err) {
			return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "enqueue retries exhausted")
		}
		return uuid.Nil, err
	}

	e.metrics.IncEnqueued(string(req.DocumentType))
	if bundle != nil && bundle.ClosedAt != nil {
		e.metrics.AddBundlesClosed(metrics.CloseReasonCap, 1)
	}
	e.logg.Info(ctx, "outgoing message enqueued")
	return messageID, nil
}

func (e *Enqueuer) record(ctx context.Context, messageID uuid.UUID, reference string, req EnqueueRequest) (*models.Bundle, error) {
	var placed *models.Bundle
	err := e.pipeline.Execute(ctx, "enqueue", func(ctx context.Context, uow *UnitOfWork) error {
		now := e.now()
		msg := &models.OutgoingMessage{
			ID:                   messageID,
			DocumentType:         req.DocumentType,
			ReceiverNumber:       req.Receiver.Number,
			ReceiverRole:         req.Receiver.Role,
			SenderNumber:         req.Sender.Number,
			SenderRole:           req.Sender.Role,
			BusinessReason:       req.BusinessReason,
			ProcessID:            req.ProcessID,
			RelatedToMessageID:   req.RelatedToMessageID,
			FileStorageReference: reference,
			CreatedAt:            now,
		}

		if !e.assignInline {
			if err := uow.Repo.AddMessage(ctx, msg); err != nil {
				return fmt.Errorf("insert pending message %s: %w", messageID, err)
			}
			uow.Events.Add(messageEnqueuedEvent(msg))
			return nil
		}

		queue, err := uow.Repo.GetOrCreateQueue(ctx, req.Receiver, now)
		if err != nil {
			return err
		}
		key := keyOf(req.DocumentType, req.BusinessReason, req.RelatedToMessageID)
		bundle, err := e.placement.openBundle(ctx, uow, queue, key, now)
		if err != nil {
			return err
		}
		msg.AssignedBundleID = &bundle.ID
		if err := uow.Repo.AddMessage(ctx, msg); err != nil {
			return fmt.Errorf("insert message %s: %w", messageID, err)
		}
		placed, err = e.placement.countMessage(ctx, uow, queue, bundle.ID, now)
		if err != nil {
			return err
		}
		uow.Events.Add(messageEnqueuedEvent(msg))
		return nil
	})
	return placed, err
}

// discardContent removes an uploaded blob whose message row was never
// committed. Failures only leave an unreferenced object behind.
func (e *Enqueuer) discardContent(ctx context.Context, reference string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := e.storage.DeleteIfExists(cleanupCtx, enums.FileStorageOutgoingMessage, []string{reference}); err != nil {
		e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "failed to delete orphaned message content")
	}
}
