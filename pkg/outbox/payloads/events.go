package payloads

import (
	"time"

	"github.com/google/uuid"
)

// MessageEnqueuedEvent signals that an outgoing message was stored and,
// when assignment runs inline, which bundle it joined.
type MessageEnqueuedEvent struct {
	OutgoingMessageID uuid.UUID  `json:"outgoing_message_id" validate:"required"`
	DocumentType      string     `json:"document_type" validate:"required"`
	ReceiverNumber    string     `json:"receiver_number" validate:"required"`
	ReceiverRole      string     `json:"receiver_role"`
	BusinessReason    string     `json:"business_reason"`
	BundleID          *uuid.UUID `json:"bundle_id,omitempty"`
}

// BundleClosedEvent is emitted when a bundle stops accepting messages.
type BundleClosedEvent struct {
	BundleID        uuid.UUID `json:"bundle_id" validate:"required"`
	MessageID       string    `json:"message_id" validate:"required"`
	ReceiverNumber  string    `json:"receiver_number"`
	ReceiverRole    string    `json:"receiver_role"`
	DocumentType    string    `json:"document_type"`
	MessageCategory string    `json:"message_category"`
	MessageCount    int       `json:"message_count"`
	Reason          string    `json:"reason"`
	ClosedAt        time.Time `json:"closed_at"`
}

// BundlePeekedEvent is emitted the first time a bundle document is produced.
type BundlePeekedEvent struct {
	BundleID          uuid.UUID `json:"bundle_id" validate:"required"`
	MessageID         string    `json:"message_id" validate:"required"`
	ReceiverNumber    string    `json:"receiver_number"`
	ReceiverRole      string    `json:"receiver_role"`
	MessageCategory   string    `json:"message_category"`
	DocumentReference string    `json:"document_reference"`
	PeekedAt          time.Time `json:"peeked_at"`
}

// BundleDequeuedEvent is emitted when the receiver acknowledges a bundle.
type BundleDequeuedEvent struct {
	BundleID       uuid.UUID `json:"bundle_id" validate:"required"`
	MessageID      string    `json:"message_id" validate:"required"`
	ReceiverNumber string    `json:"receiver_number"`
	ReceiverRole   string    `json:"receiver_role"`
	DequeuedAt     time.Time `json:"dequeued_at"`
}
