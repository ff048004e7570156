package outgoing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/edihub/edi-backend/pkg/db/models"
	"github.com/edihub/edi-backend/pkg/enums"
	pkgerrors "github.com/edihub/edi-backend/pkg/errors"
	"github.com/edihub/edi-backend/pkg/logger"
	"github.com/edihub/edi-backend/pkg/metrics"
	"github.com/edihub/edi-backend/pkg/storage"
)

const (
	defaultDownloadConcurrency = 8
	defaultPeekRestarts        = 3
	defaultDownloadTimeout     = 30 * time.Second
)

const (
	peekResultEmpty     = "empty"
	peekResultGenerated = "generated"
	peekResultStored    = "stored"
)

type DeliveryParams struct {
	Pipeline            *Pipeline
	Repository          Repository
	Storage             storage.Store
	Writer              DocumentWriter
	Logger              *logger.Logger
	Metrics             *metrics.OutgoingMetrics
	DownloadConcurrency int
	MaxRestarts         int
	UploadTimeout       time.Duration
	DownloadTimeout     time.Duration
}

// Delivery serves peek and dequeue for receivers.
type Delivery struct {
	pipeline        *Pipeline
	repo            Repository
	storage         storage.Store
	writer          DocumentWriter
	logg            *logger.Logger
	metrics         *metrics.OutgoingMetrics
	concurrency     int
	maxRestarts     int
	uploadTimeout   time.Duration
	downloadTimeout time.Duration
	now             func() time.Time
}

func NewDelivery(params DeliveryParams) (*Delivery, error) {
	if params.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if params.Repository == nil {
		return nil, errors.New("repository is required")
	}
	if params.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if params.Writer == nil {
		return nil, errors.New("document writer is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	d := &Delivery{
		pipeline:        params.Pipeline,
		repo:            params.Repository,
		storage:         params.Storage,
		writer:          params.Writer,
		logg:            params.Logger,
		metrics:         params.Metrics,
		concurrency:     params.DownloadConcurrency,
		maxRestarts:     params.MaxRestarts,
		uploadTimeout:   params.UploadTimeout,
		downloadTimeout: params.DownloadTimeout,
		now:             defaultNow,
	}
	if d.concurrency <= 0 {
		d.concurrency = defaultDownloadConcurrency
	}
	if d.maxRestarts <= 0 {
		d.maxRestarts = defaultPeekRestarts
	}
	if d.uploadTimeout <= 0 {
		d.uploadTimeout = defaultUploadTimeout
	}
	if d.downloadTimeout <= 0 {
		d.downloadTimeout = defaultDownloadTimeout
	}
	return d, nil
}

// ContentType is the media type of peeked documents.
func (d *Delivery) ContentType() string {
	return d.writer.ContentType()
}

// errPeekRace restarts selection when the chosen bundle was dequeued mid-peek.
var errPeekRace = errors.New("bundle dequeued during peek")

// Peek returns the oldest closed, undequeued bundle of the receiver's
// category. The first peek renders and stores the document; later peeks
// return the stored document until the bundle is dequeued.
func (d *Delivery) Peek(ctx context.Context, req PeekRequest) (*PeekResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	ctx = d.logg.WithActor(ctx, req.Receiver.Number, string(req.Receiver.Role))

	queue, err := d.repo.FindQueue(ctx, req.Receiver)
	if err != nil {
		return nil, fmt.Errorf("find queue: %w", err)
	}
	if queue == nil {
		d.metrics.IncPeek(string(req.Category), peekResultEmpty)
		return &PeekResult{Found: false}, nil
	}

	for attempt := 0; attempt <= d.maxRestarts; attempt++ {
		bundle, err := d.repo.GetOldestDeliverableBundle(ctx, queue.ID, req.Category)
		if err != nil {
			return nil, fmt.Errorf("select deliverable bundle: %w", err)
		}
		if bundle == nil {
			d.metrics.IncPeek(string(req.Category), peekResultEmpty)
			return &PeekResult{Found: false}, nil
		}

		result, err := d.peekBundle(ctx, queue, bundle)
		if errors.Is(err, errPeekRace) {
			d.logg.Debug(d.logg.WithBundle(ctx, bundle.ID.String(), bundle.MessageID.String()), "bundle dequeued during peek, restarting")
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "peek restarted too many times")
}

func (d *Delivery) peekBundle(ctx context.Context, queue *models.ActorMessageQueue, bundle *models.Bundle) (*PeekResult, error) {
	ctx = d.logg.WithBundle(ctx, bundle.ID.String(), bundle.MessageID.String())
	if bundle.PeekedAt != nil && bundle.DocumentReference != nil {
		return d.storedDocument(ctx, bundle)
	}

	document, err := d.render(ctx, queue, bundle)
	if err != nil {
		return nil, err
	}
	reference := bundle.MessageID.String()
	uploadCtx, cancel := context.WithTimeout(ctx, d.uploadTimeout)
	err = d.storage.Upload(uploadCtx, enums.FileStorageBundleDocument, reference, document)
	cancel()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("upload document for bundle %s", bundle.ID))
	}

	peekedAt := d.now()
	stamped := false
	err = d.pipeline.Execute(ctx, "mark-peeked", func(ctx context.Context, uow *UnitOfWork) error {
		var err error
		stamped, err = uow.Repo.MarkPeeked(ctx, bundle.ID, reference, peekedAt)
		if err != nil || !stamped {
			return err
		}
		uow.Events.Add(bundlePeekedEvent(bundle, queue, reference, peekedAt))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark bundle %s peeked: %w", bundle.ID, err)
	}

	if !stamped {
		// Another peek stamped first or the bundle was dequeued meanwhile.
		current, err := d.repo.FindBundleByMessageID(ctx, bundle.MessageID)
		if err != nil {
			return nil, err
		}
		if current == nil || current.DequeuedAt != nil {
			return nil, errPeekRace
		}
		if current.PeekedAt == nil || current.DocumentReference == nil {
			return nil, invariantf("bundle %s neither peeked nor dequeued after failed peek stamp", bundle.ID)
		}
		return d.storedDocument(ctx, current)
	}

	d.metrics.IncPeek(string(bundle.MessageCategory), peekResultGenerated)
	d.metrics.ObserveDocumentSize(len(document))
	d.logg.Info(ctx, "bundle peeked")
	return resultFor(bundle, peekedAt, document), nil
}

func (d *Delivery) storedDocument(ctx context.Context, bundle *models.Bundle) (*PeekResult, error) {
	downloadCtx, cancel := context.WithTimeout(ctx, d.downloadTimeout)
	defer cancel()
	document, err := storage.ReadAll(downloadCtx, d.storage, enums.FileStorageBundleDocument, *bundle.DocumentReference)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// retention removes documents only after dequeue
			return nil, errPeekRace
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("download document for bundle %s", bundle.ID))
	}
	d.metrics.IncPeek(string(bundle.MessageCategory), peekResultStored)
	return resultFor(bundle, *bundle.PeekedAt, document), nil
}

// render downloads member content concurrently and combines it in
// (created_at, id) order.
func (d *Delivery) render(ctx context.Context, queue *models.ActorMessageQueue, bundle *models.Bundle) ([]byte, error) {
	members, err := d.repo.ListBundleMessages(ctx, bundle.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages of bundle %s: %w", bundle.ID, err)
	}
	if len(members) != bundle.MessageCount {
		return nil, invariantf("bundle %s counts %d messages but holds %d", bundle.ID, bundle.MessageCount, len(members))
	}

	records := make([][]byte, len(members))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.concurrency)
	for i := range members {
		i := i
		group.Go(func() error {
			downloadCtx, cancel := context.WithTimeout(groupCtx, d.downloadTimeout)
			defer cancel()
			content, err := storage.ReadAll(downloadCtx, d.storage, enums.FileStorageOutgoingMessage, members[i].FileStorageReference)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("download content of message %s", members[i].ID))
			}
			records[i] = content
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return d.writer.Write(ctx, headerFor(bundle, queue, members), records)
}

func resultFor(bundle *models.Bundle, peekedAt time.Time, document []byte) *PeekResult {
	return &PeekResult{
		Found:           true,
		BundleID:        bundle.ID,
		MessageID:       bundle.MessageID,
		DocumentType:    bundle.DocumentType,
		MessageCategory: bundle.MessageCategory,
		MessageCount:    bundle.MessageCount,
		PeekedAt:        peekedAt,
		Document:        document,
	}
}

// Dequeue tombstones the bundle identified by its message id. Repeating a
// dequeue reports already_dequeued. Unknown ids, bundles of other receivers
// and bundles not yet closed report not_found.
func (d *Delivery) Dequeue(ctx context.Context, req DequeueRequest) (DequeueResult, error) {
	if err := validateRequest(req); err != nil {
		return DequeueResult{}, err
	}
	ctx = d.logg.WithActor(ctx, req.Receiver.Number, string(req.Receiver.Role))

	messageID, err := uuid.Parse(req.MessageID)
	if err != nil {
		return d.dequeueResult(DequeueResult{Status: DequeueStatusNotFound}), nil
	}
	queue, err := d.repo.FindQueue(ctx, req.Receiver)
	if err != nil {
		return DequeueResult{}, fmt.Errorf("find queue: %w", err)
	}
	if queue == nil {
		return d.dequeueResult(DequeueResult{Status: DequeueStatusNotFound}), nil
	}

	var result DequeueResult
	err = d.pipeline.Execute(ctx, "dequeue", func(ctx context.Context, uow *UnitOfWork) error {
		now := d.now()
		dequeued, err := uow.Repo.MarkDequeued(ctx, queue.ID, messageID, now)
		if err != nil {
			return err
		}
		bundle, err := uow.Repo.FindBundleByMessageID(ctx, messageID)
		if err != nil {
			return err
		}
		switch {
		case dequeued:
			if bundle == nil {
				return invariantf("dequeued bundle %s vanished", messageID)
			}
			result = DequeueResult{Status: DequeueStatusDequeued, BundleID: bundle.ID}
			uow.Events.Add(bundleDequeuedEvent(bundle, queue, now))
		case bundle != nil && bundle.ActorMessageQueueID == queue.ID && bundle.DequeuedAt != nil:
			result = DequeueResult{Status: DequeueStatusAlreadyDequeued, BundleID: bundle.ID}
		default:
			result = DequeueResult{Status: DequeueStatusNotFound}
		}
		return nil
	})
	if err != nil {
		return DequeueResult{}, fmt.Errorf("dequeue %s: %w", messageID, err)
	}
	if result.Status == DequeueStatusDequeued {
		d.logg.Info(d.logg.WithBundle(ctx, result.BundleID.String(), messageID.String()), "bundle dequeued")
	}
	return d.dequeueResult(result), nil
}

func (d *Delivery) dequeueResult(result DequeueResult) DequeueResult {
	d.metrics.IncDequeue(string(result.Status))
	return result
}
