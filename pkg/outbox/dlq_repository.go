package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/edihub/edi-backend/pkg/db/models"
	"github.com/edihub/edi-backend/pkg/enums"
)

const maxErrorBytes = 1024

// DLQRepository stores outbox events the relay will never deliver.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx parks a dead-lettered event. Relaying the same event twice keeps
// the first entry.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if !entry.ErrorReason.IsValid() {
		return fmt.Errorf("invalid dlq reason %q", entry.ErrorReason)
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now().UTC()
	}
	if entry.ErrorMessage != nil {
		msg := truncateError(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&entry).Error
}

// DeleteFailedBefore purges at most limit entries that failed before cutoff,
// oldest first.
func (r *DLQRepository) DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	oldest := tx.Model(&models.OutboxDLQ{}).
		Select("id").
		Where("failed_at < ?", cutoff).
		Order("failed_at ASC").
		Limit(limit)
	res := tx.WithContext(ctx).Where("id IN (?)", oldest).Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}

// CountByReason groups parked entries by why they were dead-lettered.
func (r *DLQRepository) CountByReason(ctx context.Context) (map[enums.OutboxDLQErrorReason]int64, error) {
	var rows []struct {
		ErrorReason enums.OutboxDLQErrorReason
		Total       int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.OutboxDLQ{}).
		Select("error_reason, COUNT(*) AS total").
		Group("error_reason").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[enums.OutboxDLQErrorReason]int64, len(rows))
	for _, row := range rows {
		counts[row.ErrorReason] = row.Total
	}
	return counts, nil
}
