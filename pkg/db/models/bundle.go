package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/edihub/edi-backend/pkg/enums"
)

// Bundle groups outgoing messages delivered to a receiver as one document.
// A nil ClosedAt marks the bundle open.
type Bundle struct {
	ID                  uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	ActorMessageQueueID uuid.UUID             `gorm:"column:actor_message_queue_id;type:uuid;not null"`
	DocumentType        enums.DocumentType    `gorm:"column:document_type;type:text;not null"`
	BusinessReason      enums.BusinessReason  `gorm:"column:business_reason;type:text;not null"`
	MessageCategory     enums.MessageCategory `gorm:"column:message_category;type:text;not null"`
	RelatedToMessageID  *uuid.UUID            `gorm:"column:related_to_message_id;type:uuid"`
	MessageID           uuid.UUID             `gorm:"column:message_id;type:uuid;not null"`
	MessageCount        int                   `gorm:"column:message_count;not null;default:0"`
	MaxMessageCount     int                   `gorm:"column:max_message_count;not null"`
	DocumentReference   *string               `gorm:"column:document_reference;type:text"`
	CreatedAt           time.Time             `gorm:"column:created_at;type:timestamptz;not null"`
	ClosedAt            *time.Time            `gorm:"column:closed_at;type:timestamptz"`
	PeekedAt            *time.Time            `gorm:"column:peeked_at;type:timestamptz"`
	DequeuedAt          *time.Time            `gorm:"column:dequeued_at;type:timestamptz"`
}

func (Bundle) TableName() string { return "bundles" }
