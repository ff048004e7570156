package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/edihub/edi-backend/pkg/enums"
)

// ActorMessageQueue is the mailbox of one receiver (actor number + role).
type ActorMessageQueue struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ActorNumber string          `gorm:"column:actor_number;type:text;not null"`
	ActorRole   enums.ActorRole `gorm:"column:actor_role;type:text;not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;type:timestamptz;not null"`
}

func (ActorMessageQueue) TableName() string { return "actor_message_queues" }
