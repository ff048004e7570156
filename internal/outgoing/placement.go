package outgoing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/edihub/edi-backend/pkg/db/models"
	"github.com/edihub/edi-backend/pkg/metrics"
)

// placement assigns messages to the single open bundle of their key,
// creating the bundle on a miss. It is shared by enqueue and the bundler.
type placement struct {
	policy Policy
}

// openBundle locks the open bundle for key or creates it with createdAt.
func (p placement) openBundle(ctx context.Context, uow *UnitOfWork, queue *models.ActorMessageQueue, key BundleKey, createdAt time.Time) (*models.Bundle, error) {
	bundle, err := uow.Repo.GetOpenBundle(ctx, queue.ID, key)
	if err != nil {
		return nil, err
	}
	if bundle != nil {
		return bundle, nil
	}
	bundle = &models.Bundle{
		ID:                  uuid.New(),
		ActorMessageQueueID: queue.ID,
		DocumentType:        key.DocumentType,
		BusinessReason:      key.BusinessReason,
		MessageCategory:     key.DocumentType.Category(),
		RelatedToMessageID:  key.RelatedToMessageID,
		MessageID:           uuid.New(),
		MaxMessageCount:     p.policy.MaxFor(key.DocumentType),
		CreatedAt:           createdAt,
	}
	if err := uow.Repo.CreateBundle(ctx, bundle); err != nil {
		return nil, err
	}
	return bundle, nil
}

// countMessage increments the bundle counter and records the close event when
// the cap was reached.
func (p placement) countMessage(ctx context.Context, uow *UnitOfWork, queue *models.ActorMessageQueue, bundleID uuid.UUID, now time.Time) (*models.Bundle, error) {
	updated, err := uow.Repo.IncrementBundleCount(ctx, bundleID, now)
	if err != nil {
		return nil, err
	}
	if updated.MessageCount > updated.MaxMessageCount {
		return nil, invariantf("bundle %s holds %d messages, cap %d", updated.ID, updated.MessageCount, updated.MaxMessageCount)
	}
	if updated.ClosedAt != nil {
		uow.Events.Add(bundleClosedEvent(updated, queue, metrics.CloseReasonCap))
	}
	return updated, nil
}

func defaultNow() time.Time {
	// postgres keeps microseconds
	return time.Now().UTC().Truncate(time.Microsecond)
}
