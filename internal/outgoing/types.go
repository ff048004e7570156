package outgoing

import (
	"time"

	"github.com/google/uuid"

	"github.com/edihub/edi-backend/pkg/enums"
)

// Actor identifies a market participant by number and role.
type Actor struct {
	Number string          `json:"actorNumber" validate:"required,actor_number"`
	Role   enums.ActorRole `json:"actorRole" validate:"required,actor_role"`
}

// EnqueueRequest describes one document record addressed to one receiver.
type EnqueueRequest struct {
	DocumentType       enums.DocumentType   `json:"documentType" validate:"required,document_type"`
	Receiver           Actor                `json:"receiver" validate:"required"`
	Sender             Actor                `json:"sender" validate:"required"`
	BusinessReason     enums.BusinessReason `json:"businessReason" validate:"required,business_reason"`
	ProcessID          uuid.UUID            `json:"processId" validate:"required,nonzero_uuid"`
	RelatedToMessageID *uuid.UUID           `json:"relatedToMessageId,omitempty"`
	Content            []byte               `json:"content" validate:"required"`
}

// BundleKey is the grouping under which at most one bundle may be open per queue.
type BundleKey struct {
	DocumentType       enums.DocumentType
	BusinessReason     enums.BusinessReason
	RelatedToMessageID *uuid.UUID
}

func keyOf(documentType enums.DocumentType, reason enums.BusinessReason, relatedTo *uuid.UUID) BundleKey {
	return BundleKey{DocumentType: documentType, BusinessReason: reason, RelatedToMessageID: relatedTo}
}

func (k BundleKey) String() string {
	related := "-"
	if k.RelatedToMessageID != nil {
		related = k.RelatedToMessageID.String()
	}
	return string(k.DocumentType) + "/" + string(k.BusinessReason) + "/" + related
}

type PeekRequest struct {
	Receiver Actor                 `validate:"required"`
	Category enums.MessageCategory `validate:"required,message_category"`
}

// PeekResult carries the oldest deliverable bundle's document. Found is
// false when the receiver has nothing to fetch in the category.
type PeekResult struct {
	Found           bool
	BundleID        uuid.UUID
	MessageID       uuid.UUID
	DocumentType    enums.DocumentType
	MessageCategory enums.MessageCategory
	MessageCount    int
	PeekedAt        time.Time
	Document        []byte
}

type DequeueRequest struct {
	Receiver  Actor  `validate:"required"`
	MessageID string `validate:"required"`
}

type DequeueStatus string

const (
	DequeueStatusDequeued        DequeueStatus = "dequeued"
	DequeueStatusAlreadyDequeued DequeueStatus = "already_dequeued"
	DequeueStatusNotFound        DequeueStatus = "not_found"
)

type DequeueResult struct {
	Status   DequeueStatus
	BundleID uuid.UUID
}

// Succeeded reports whether the receiver's acknowledgement is recorded.
func (r DequeueResult) Succeeded() bool {
	return r.Status == DequeueStatusDequeued || r.Status == DequeueStatusAlreadyDequeued
}

// AssignResult summarises one pass over pending messages.
type AssignResult struct {
	Assigned int
	Skipped  int
	Closed   int
}

// RetentionResult summarises one retention cleanup run.
type RetentionResult struct {
	Bundles  int
	Messages int
	Blobs    int
}
