package outgoing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/edihub/edi-backend/pkg/db/models"
	"github.com/edihub/edi-backend/pkg/enums"
	pkgerrors "github.com/edihub/edi-backend/pkg/errors"
	"github.com/edihub/edi-backend/pkg/storage/memory"
)

func listBundles(t *testing.T, f *fixture) []models.Bundle {
	t.Helper()
	var bundles []models.Bundle
	require.NoError(t, f.conn.Order("created_at ASC").Order("id ASC").Find(&bundles).Error)
	return bundles
}

func TestEnqueueClosesBundleAtCap(t *testing.T) {
	f := newFixture(t, defaultPolicy())

	first := f.enqueue(t, aggregationRequest(`{"grid":"804"}`))
	second := f.enqueue(t, aggregationRequest(`{"grid":"805"}`))
	third := f.enqueue(t, aggregationRequest(`{"grid":"806"}`))

	bundles := listBundles(t, f)
	require.Len(t, bundles, 2)

	full, open := bundles[0], bundles[1]
	require.Equal(t, 2, full.MessageCount)
	require.NotNil(t, full.ClosedAt)
	require.Equal(t, enums.MessageCategoryAggregations, full.MessageCategory)
	require.Equal(t, 1, open.MessageCount)
	require.Nil(t, open.ClosedAt)

	var members []models.OutgoingMessage
	require.NoError(t, f.conn.Order("created_at ASC").Find(&members).Error)
	require.Len(t, members, 3)
	require.Equal(t, first, members[0].ID)
	require.Equal(t, second, members[1].ID)
	require.Equal(t, third, members[2].ID)
	require.Equal(t, full.ID, *members[0].AssignedBundleID)
	require.Equal(t, full.ID, *members[1].AssignedBundleID)
	require.Equal(t, open.ID, *members[2].AssignedBundleID)

	require.EqualValues(t, 3, f.countEvents(t, enums.EventMessageEnqueued))
	require.EqualValues(t, 1, f.countEvents(t, enums.EventBundleClosed))
	require.Equal(t, 3, f.store.Len())
}

func TestEnqueueSeparatesBundleKeys(t *testing.T) {
	f := newFixture(t, Policy{Window: time.Minute, MaxMessageCount: 10, AssignOnEnqueue: true})

	related := uuid.New()
	f.enqueue(t, aggregationRequest("a"))
	reply := aggregationRequest("b")
	reply.RelatedToMessageID = &related
	f.enqueue(t, reply)
	otherReason := aggregationRequest("c")
	otherReason.BusinessReason = enums.BusinessReasonCorrection
	f.enqueue(t, otherReason)
	otherReceiver := aggregationRequest("d")
	otherReceiver.Receiver = otherSupplier
	f.enqueue(t, otherReceiver)
	f.enqueue(t, aggregationRequest("e"))

	bundles := listBundles(t, f)
	require.Len(t, bundles, 4)
	require.Equal(t, 2, bundles[0].MessageCount)
	for _, bundle := range bundles {
		require.Nil(t, bundle.ClosedAt)
	}
	require.EqualValues(t, 2, f.countRows(t, "actor_message_queues", ""))
}

func TestEnqueueUsesPerTypeCap(t *testing.T) {
	policy := defaultPolicy()
	policy.MaxCountByType = map[enums.DocumentType]int{enums.DocumentNotifyAggregatedMeasureData: 1}
	f := newFixture(t, policy)

	f.enqueue(t, aggregationRequest("a"))
	f.enqueue(t, aggregationRequest("b"))

	bundles := listBundles(t, f)
	require.Len(t, bundles, 2)
	for _, bundle := range bundles {
		require.Equal(t, 1, bundle.MaxMessageCount)
		require.NotNil(t, bundle.ClosedAt)
	}
}

func TestEnqueueRejectsInvalidRequestBeforeUpload(t *testing.T) {
	f := newFixture(t, defaultPolicy())

	req := aggregationRequest("a")
	req.Receiver.Number = "12"
	req.DocumentType = "Unknown"
	req.ProcessID = uuid.Nil

	_, err := f.enqueuer.Enqueue(context.Background(), req)
	require.Error(t, err)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	require.True(t, ok)
	require.Contains(t, details, "EnqueueRequest.Receiver.Number")
	require.Contains(t, details, "EnqueueRequest.DocumentType")
	require.Contains(t, details, "EnqueueRequest.ProcessID")

	require.Zero(t, f.store.Len())
	require.Zero(t, f.countRows(t, "outgoing_messages", ""))
}

func TestEnqueueUploadFailureRecordsNothing(t *testing.T) {
	store := &failingStore{Store: memory.New(), failUpload: true}
	f := newFixtureWith(t, defaultPolicy(), fixtureOptions{store: store})

	_, err := f.enqueuer.Enqueue(context.Background(), aggregationRequest("a"))
	require.ErrorIs(t, err, errStorageDown)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	require.Zero(t, f.countRows(t, "outgoing_messages", ""))
	require.Zero(t, f.countRows(t, "bundles", ""))
	require.Zero(t, f.countRows(t, "outbox_events", ""))
}

func TestEnqueueRetriesOpenBundleConflict(t *testing.T) {
	opts, state := flaky(2)
	f := newFixtureWith(t, defaultPolicy(), opts)

	id := f.enqueue(t, aggregationRequest("a"))

	require.Equal(t, 3, state.calls)
	require.EqualValues(t, 1, f.countRows(t, "outgoing_messages", "id = ?", id))
	require.EqualValues(t, 1, f.countRows(t, "bundles", ""))
	require.EqualValues(t, 1, f.countEvents(t, enums.EventMessageEnqueued))
}

func TestEnqueueConflictExhaustedDiscardsContent(t *testing.T) {
	opts, state := flaky(100)
	f := newFixtureWith(t, defaultPolicy(), opts)

	_, err := f.enqueuer.Enqueue(context.Background(), aggregationRequest("a"))
	require.ErrorIs(t, err, ErrOpenBundleConflict)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	require.Equal(t, 4, state.calls)

	require.Zero(t, f.store.Len())
	require.Zero(t, f.countRows(t, "outgoing_messages", ""))
	require.Zero(t, f.countRows(t, "bundles", ""))
	require.Zero(t, f.countRows(t, "outbox_events", ""))
	// the queue row was rolled back with every attempt
	require.Zero(t, f.countRows(t, "actor_message_queues", ""))
}

func TestEnqueueDeferredLeavesMessagePending(t *testing.T) {
	policy := defaultPolicy()
	policy.AssignOnEnqueue = false
	f := newFixture(t, policy)

	id := f.enqueue(t, aggregationRequest("a"))

	require.EqualValues(t, 1, f.countRows(t, "outgoing_messages", "id = ? AND assigned_bundle_id IS NULL", id))
	require.Zero(t, f.countRows(t, "bundles", ""))
	require.EqualValues(t, 1, f.countEvents(t, enums.EventMessageEnqueued))
}

func TestNewEnqueuerRequiresDependencies(t *testing.T) {
	if _, err := NewEnqueuer(EnqueuerParams{}); err == nil {
		t.Fatal("expected error without pipeline and storage")
	}
}
