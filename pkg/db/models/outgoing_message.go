package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/edihub/edi-backend/pkg/enums"
)

// OutgoingMessage is one document record for one receiver. The content
// lives in blob storage under FileStorageReference.
type OutgoingMessage struct {
	ID                   uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	DocumentType         enums.DocumentType   `gorm:"column:document_type;type:text;not null"`
	ReceiverNumber       string               `gorm:"column:receiver_number;type:text;not null"`
	ReceiverRole         enums.ActorRole      `gorm:"column:receiver_role;type:text;not null"`
	SenderNumber         string               `gorm:"column:sender_number;type:text;not null"`
	SenderRole           enums.ActorRole      `gorm:"column:sender_role;type:text;not null"`
	BusinessReason       enums.BusinessReason `gorm:"column:business_reason;type:text;not null"`
	ProcessID            uuid.UUID            `gorm:"column:process_id;type:uuid;not null"`
	RelatedToMessageID   *uuid.UUID           `gorm:"column:related_to_message_id;type:uuid"`
	FileStorageReference string               `gorm:"column:file_storage_reference;type:text;not null"`
	AssignedBundleID     *uuid.UUID           `gorm:"column:assigned_bundle_id;type:uuid"`
	CreatedAt            time.Time            `gorm:"column:created_at;type:timestamptz;not null"`
}

func (OutgoingMessage) TableName() string { return "outgoing_messages" }
