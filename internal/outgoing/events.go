package outgoing

import (
	"time"

	"github.com/edihub/edi-backend/pkg/db/models"
	"github.com/edihub/edi-backend/pkg/enums"
	"github.com/edihub/edi-backend/pkg/outbox"
	"github.com/edihub/edi-backend/pkg/outbox/payloads"
)

func actorRef(queue *models.ActorMessageQueue) *outbox.ActorRef {
	if queue == nil {
		return nil
	}
	return &outbox.ActorRef{ActorNumber: queue.ActorNumber, Role: string(queue.ActorRole)}
}

func messageEnqueuedEvent(msg *models.OutgoingMessage) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventMessageEnqueued,
		AggregateType: enums.AggregateOutgoingMessage,
		AggregateID:   msg.ID,
		Actor:         &outbox.ActorRef{ActorNumber: msg.ReceiverNumber, Role: string(msg.ReceiverRole)},
		OccurredAt:    msg.CreatedAt,
		Data: payloads.MessageEnqueuedEvent{
			OutgoingMessageID: msg.ID,
			DocumentType:      string(msg.DocumentType),
			ReceiverNumber:    msg.ReceiverNumber,
			ReceiverRole:      string(msg.ReceiverRole),
			BusinessReason:    string(msg.BusinessReason),
			BundleID:          msg.AssignedBundleID,
		},
	}
}

func bundleClosedEvent(bundle *models.Bundle, queue *models.ActorMessageQueue, reason string) outbox.DomainEvent {
	closedAt := time.Time{}
	if bundle.ClosedAt != nil {
		closedAt = *bundle.ClosedAt
	}
	data := payloads.BundleClosedEvent{
		BundleID:        bundle.ID,
		MessageID:       bundle.MessageID.String(),
		DocumentType:    string(bundle.DocumentType),
		MessageCategory: string(bundle.MessageCategory),
		MessageCount:    bundle.MessageCount,
		Reason:          reason,
		ClosedAt:        closedAt,
	}
	if queue != nil {
		data.ReceiverNumber = queue.ActorNumber
		data.ReceiverRole = string(queue.ActorRole)
	}
	return outbox.DomainEvent{
		EventType:     enums.EventBundleClosed,
		AggregateType: enums.AggregateBundle,
		AggregateID:   bundle.ID,
		Actor:         actorRef(queue),
		OccurredAt:    closedAt,
		Data:          data,
	}
}

func bundlePeekedEvent(bundle *models.Bundle, queue *models.ActorMessageQueue, reference string, peekedAt time.Time) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventBundlePeeked,
		AggregateType: enums.AggregateBundle,
		AggregateID:   bundle.ID,
		Actor:         actorRef(queue),
		OccurredAt:    peekedAt,
		Data: payloads.BundlePeekedEvent{
			BundleID:          bundle.ID,
			MessageID:         bundle.MessageID.String(),
			ReceiverNumber:    queue.ActorNumber,
			ReceiverRole:      string(queue.ActorRole),
			MessageCategory:   string(bundle.MessageCategory),
			DocumentReference: reference,
			PeekedAt:          peekedAt,
		},
	}
}

func bundleDequeuedEvent(bundle *models.Bundle, queue *models.ActorMessageQueue, dequeuedAt time.Time) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventBundleDequeued,
		AggregateType: enums.AggregateBundle,
		AggregateID:   bundle.ID,
		Actor:         actorRef(queue),
		OccurredAt:    dequeuedAt,
		Data: payloads.BundleDequeuedEvent{
			BundleID:       bundle.ID,
			MessageID:      bundle.MessageID.String(),
			ReceiverNumber: queue.ActorNumber,
			ReceiverRole:   string(queue.ActorRole),
			DequeuedAt:     dequeuedAt,
		},
	}
}
