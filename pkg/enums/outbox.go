package enums

import "slices"

// OutboxAggregateType names the entity an outbox event is about.
type OutboxAggregateType string

const (
	AggregateBundle          OutboxAggregateType = "bundle"
	AggregateOutgoingMessage OutboxAggregateType = "outgoing_message"
)

func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains([]OutboxAggregateType{AggregateBundle, AggregateOutgoingMessage}, a)
}

// OutboxEventType names a message or bundle lifecycle event.
type OutboxEventType string

const (
	EventMessageEnqueued OutboxEventType = "message_enqueued"
	EventBundleClosed    OutboxEventType = "bundle_closed"
	EventBundlePeeked    OutboxEventType = "bundle_peeked"
	EventBundleDequeued  OutboxEventType = "bundle_dequeued"
)

func (e OutboxEventType) IsValid() bool {
	return slices.Contains([]OutboxEventType{
		EventMessageEnqueued,
		EventBundleClosed,
		EventBundlePeeked,
		EventBundleDequeued,
	}, e)
}

// OutboxDLQErrorReason records why the relay gave up on an event.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts: publishing kept failing until the attempt cap.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable: the row can never be published as stored.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	// OutboxDLQReasonUnroutable: no publisher exists for the event's topic.
	OutboxDLQReasonUnroutable OutboxDLQErrorReason = "unroutable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable, OutboxDLQReasonUnroutable:
		return true
	}
	return false
}
