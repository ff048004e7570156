package outgoing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/edihub/edi-backend/pkg/db/models"
	"github.com/edihub/edi-backend/pkg/enums"
)

// Repository is the only code that touches the queue, bundle and message tables.
// It never commits; transactions belong to the Pipeline.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	GetOrCreateQueue(ctx context.Context, receiver Actor, now time.Time) (*models.ActorMessageQueue, error)
	FindQueue(ctx context.Context, receiver Actor) (*models.ActorMessageQueue, error)
	FindQueueByID(ctx context.Context, id uuid.UUID) (*models.ActorMessageQueue, error)

	GetOpenBundle(ctx context.Context, queueID uuid.UUID, key BundleKey) (*models.Bundle, error)
	CreateBundle(ctx context.Context, bundle *models.Bundle) error
	IncrementBundleCount(ctx context.Context, bundleID uuid.UUID, now time.Time) (*models.Bundle, error)
	CloseBundlesCreatedBefore(ctx context.Context, cutoff, now time.Time, limit int) ([]models.Bundle, error)
	GetOldestDeliverableBundle(ctx context.Context, queueID uuid.UUID, category enums.MessageCategory) (*models.Bundle, error)
	FindBundleByMessageID(ctx context.Context, messageID uuid.UUID) (*models.Bundle, error)
	MarkPeeked(ctx context.Context, bundleID uuid.UUID, documentReference string, now time.Time) (bool, error)
	MarkDequeued(ctx context.Context, queueID, messageID uuid.UUID, now time.Time) (bool, error)
	ListDequeuedBundlesBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Bundle, error)
	DeleteBundles(ctx context.Context, bundleIDs []uuid.UUID) (int64, error)

	AddMessage(ctx context.Context, msg *models.OutgoingMessage) error
	AssignMessage(ctx context.Context, messageID, bundleID uuid.UUID) error
	ListPendingMessagesBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.OutgoingMessage, error)
	LockPendingMessages(ctx context.Context, ids []uuid.UUID) ([]models.OutgoingMessage, error)
	ListBundleMessages(ctx context.Context, bundleID uuid.UUID) ([]models.OutgoingMessage, error)
	ListMessageReferences(ctx context.Context, bundleIDs []uuid.UUID) ([]string, error)
}
