package outgoing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/edihub/edi-backend/pkg/db"
	"github.com/edihub/edi-backend/pkg/db/models"
	"github.com/edihub/edi-backend/pkg/enums"
)

const openBundleConstraint = "ux_bundles_open_key"

type repository struct {
	db *gorm.DB
}

// NewRepository builds an outgoing message repository bound to the provided DB.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) GetOrCreateQueue(ctx context.Context, receiver Actor, now time.Time) (*models.ActorMessageQueue, error) {
	queue, err := r.FindQueue(ctx, receiver)
	if err != nil || queue != nil {
		return queue, err
	}

	candidate := models.ActorMessageQueue{
		ID:          uuid.New(),
		ActorNumber: receiver.Number,
		ActorRole:   receiver.Role,
		CreatedAt:   now,
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "actor_number"}, {Name: "actor_role"}},
			DoNothing: true,
		}).
		Create(&candidate).Error
	if err != nil {
		return nil, fmt.Errorf("create queue for %s/%s: %w", receiver.Number, receiver.Role, err)
	}

	queue, err = r.FindQueue(ctx, receiver)
	if err != nil {
		return nil, err
	}
	if queue == nil {
		return nil, fmt.Errorf("queue for %s/%s missing after create", receiver.Number, receiver.Role)
	}
	return queue, nil
}

func (r *repository) FindQueue(ctx context.Context, receiver Actor) (*models.ActorMessageQueue, error) {
	var queue models.ActorMessageQueue
	err := r.db.WithContext(ctx).
		Where("actor_number = ? AND actor_role = ?", receiver.Number, receiver.Role).
		Take(&queue).Error
	return firstOrNil(&queue, err)
}

func (r *repository) FindQueueByID(ctx context.Context, id uuid.UUID) (*models.ActorMessageQueue, error) {
	var queue models.ActorMessageQueue
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&queue).Error
	return firstOrNil(&queue, err)
}

// GetOpenBundle locks and returns the open bundle for key, or nil when none exists.
func (r *repository) GetOpenBundle(ctx context.Context, queueID uuid.UUID, key BundleKey) (*models.Bundle, error) {
	query := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("actor_message_queue_id = ?", queueID).
		Where("document_type = ? AND business_reason = ?", key.DocumentType, key.BusinessReason).
		Where("closed_at IS NULL")
	if key.RelatedToMessageID != nil {
		query = query.Where("related_to_message_id = ?", *key.RelatedToMessageID)
	} else {
		query = query.Where("related_to_message_id IS NULL")
	}

	var bundle models.Bundle
	err := query.Take(&bundle).Error
	return firstOrNil(&bundle, err)
}

// CreateBundle inserts a new open bundle. A concurrent insert for the same key
// surfaces as ErrOpenBundleConflict.
func (r *repository) CreateBundle(ctx context.Context, bundle *models.Bundle) error {
	if bundle.ID == uuid.Nil {
		bundle.ID = uuid.New()
	}
	if bundle.MessageID == uuid.Nil {
		bundle.MessageID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(bundle).Error; err != nil {
		if db.IsUniqueViolation(err, openBundleConstraint) {
			return fmt.Errorf("%w: %v", ErrOpenBundleConflict, err)
		}
		return err
	}
	return nil
}

// IncrementBundleCount adds one message to an open bundle and closes it in the
// same statement when the cap is reached.
func (r *repository) IncrementBundleCount(ctx context.Context, bundleID uuid.UUID, now time.Time) (*models.Bundle, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Bundle{}).
		Where("id = ? AND closed_at IS NULL AND message_count < max_message_count", bundleID).
		Updates(map[string]any{
			"message_count": gorm.Expr("message_count + 1"),
			"closed_at":     gorm.Expr("CASE WHEN message_count + 1 >= max_message_count THEN ? ELSE NULL END", now),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrBundleClosed
	}

	var bundle models.Bundle
	if err := r.db.WithContext(ctx).Where("id = ?", bundleID).Take(&bundle).Error; err != nil {
		return nil, err
	}
	return &bundle, nil
}

// CloseBundlesCreatedBefore closes up to limit open bundles created at or
// before cutoff and returns the ones this call closed.
func (r *repository) CloseBundlesCreatedBefore(ctx context.Context, cutoff, now time.Time, limit int) ([]models.Bundle, error) {
	var candidates []models.Bundle
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("closed_at IS NULL AND created_at <= ?", cutoff).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	closed := make([]models.Bundle, 0, len(candidates))
	for _, bundle := range candidates {
		res := r.db.WithContext(ctx).
			Model(&models.Bundle{}).
			Where("id = ? AND closed_at IS NULL", bundle.ID).
			Update("closed_at", now)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		closedAt := now
		bundle.ClosedAt = &closedAt
		closed = append(closed, bundle)
	}
	return closed, nil
}

func (r *repository) GetOldestDeliverableBundle(ctx context.Context, queueID uuid.UUID, category enums.MessageCategory) (*models.Bundle, error) {
	var bundle models.Bundle
	err := r.db.WithContext(ctx).
		Where("actor_message_queue_id = ? AND message_category = ?", queueID, category).
		Where("closed_at IS NOT NULL AND dequeued_at IS NULL").
		Order("created_at ASC").
		Order("id ASC").
		Take(&bundle).Error
	return firstOrNil(&bundle, err)
}

func (r *repository) FindBundleByMessageID(ctx context.Context, messageID uuid.UUID) (*models.Bundle, error) {
	var bundle models.Bundle
	err := r.db.WithContext(ctx).Where("message_id = ?", messageID).Take(&bundle).Error
	return firstOrNil(&bundle, err)
}

// MarkPeeked stamps the first successful peek. It reports false when the
// bundle was already peeked, dequeued or is still open.
func (r *repository) MarkPeeked(ctx context.Context, bundleID uuid.UUID, documentReference string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Bundle{}).
		Where("id = ? AND closed_at IS NOT NULL AND peeked_at IS NULL AND dequeued_at IS NULL", bundleID).
		Updates(map[string]any{
			"peeked_at":          now,
			"document_reference": documentReference,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkDequeued tombstones a closed bundle of the queue identified by its message id.
func (r *repository) MarkDequeued(ctx context.Context, queueID, messageID uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Bundle{}).
		Where("message_id = ? AND actor_message_queue_id = ?", messageID, queueID).
		Where("closed_at IS NOT NULL AND dequeued_at IS NULL").
		Update("dequeued_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListDequeuedBundlesBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Bundle, error) {
	var bundles []models.Bundle
	err := r.db.WithContext(ctx).
		Where("dequeued_at IS NOT NULL AND dequeued_at < ?", cutoff).
		Order("dequeued_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&bundles).Error
	return bundles, err
}

// DeleteBundles removes bundles and their messages, messages first.
func (r *repository) DeleteBundles(ctx context.Context, bundleIDs []uuid.UUID) (int64, error) {
	if len(bundleIDs) == 0 {
		return 0, nil
	}
	if err := r.db.WithContext(ctx).
		Where("assigned_bundle_id IN ?", bundleIDs).
		Delete(&models.OutgoingMessage{}).Error; err != nil {
		return 0, fmt.Errorf("delete bundle messages: %w", err)
	}
	res := r.db.WithContext(ctx).
		Where("id IN ? AND dequeued_at IS NOT NULL", bundleIDs).
		Delete(&models.Bundle{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete bundles: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *repository) AddMessage(ctx context.Context, msg *models.OutgoingMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(msg).Error
}

// AssignMessage sets the bundle of a pending message. Assigned messages are never moved.
func (r *repository) AssignMessage(ctx context.Context, messageID, bundleID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.OutgoingMessage{}).
		Where("id = ? AND assigned_bundle_id IS NULL", messageID).
		Update("assigned_bundle_id", bundleID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMessageAlreadyAssigned
	}
	return nil
}

func (r *repository) ListPendingMessagesBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.OutgoingMessage, error) {
	var msgs []models.OutgoingMessage
	err := r.db.WithContext(ctx).
		Where("assigned_bundle_id IS NULL AND created_at <= ?", cutoff).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

// LockPendingMessages locks the listed messages that are still unassigned.
func (r *repository) LockPendingMessages(ctx context.Context, ids []uuid.UUID) ([]models.OutgoingMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var msgs []models.OutgoingMessage
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ? AND assigned_bundle_id IS NULL", ids).
		Order("created_at ASC").
		Order("id ASC").
		Find(&msgs).Error
	return msgs, err
}

func (r *repository) ListBundleMessages(ctx context.Context, bundleID uuid.UUID) ([]models.OutgoingMessage, error) {
	var msgs []models.OutgoingMessage
	err := r.db.WithContext(ctx).
		Where("assigned_bundle_id = ?", bundleID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&msgs).Error
	return msgs, err
}

func (r *repository) ListMessageReferences(ctx context.Context, bundleIDs []uuid.UUID) ([]string, error) {
	if len(bundleIDs) == 0 {
		return nil, nil
	}
	var refs []string
	err := r.db.WithContext(ctx).
		Model(&models.OutgoingMessage{}).
		Where("assigned_bundle_id IN ?", bundleIDs).
		Order("created_at ASC").
		Pluck("file_storage_reference", &refs).Error
	return refs, err
}

func firstOrNil[T any](row *T, err error) (*T, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row, nil
}
