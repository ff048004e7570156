package outgoing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edihub/edi-backend/pkg/enums"
	"github.com/edihub/edi-backend/pkg/logger"
	"github.com/edihub/edi-backend/pkg/storage"
)

const (
	defaultRetentionBatchSize  = 500
	defaultRetentionMaxBatches = 20
)

type RetentionParams struct {
	Pipeline   *Pipeline
	Repository Repository
	Storage    storage.Store
	Logger     *logger.Logger
	Retention  time.Duration
	BatchSize  int
	MaxBatches int
}

// Retention deletes dequeued bundles once the retention window has passed.
type Retention struct {
	pipeline   *Pipeline
	repo       Repository
	storage    storage.Store
	logg       *logger.Logger
	retention  time.Duration
	batchSize  int
	maxBatches int
}

func NewRetention(params RetentionParams) (*Retention, error) {
	if params.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if params.Repository == nil {
		return nil, errors.New("repository is required")
	}
	if params.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Retention <= 0 {
		return nil, errors.New("retention must be positive")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultRetentionBatchSize
	}
	maxBatches := params.MaxBatches
	if maxBatches <= 0 {
		maxBatches = defaultRetentionMaxBatches
	}
	return &Retention{
		pipeline:   params.Pipeline,
		repo:       params.Repository,
		storage:    params.Storage,
		logg:       params.Logger,
		retention:  params.Retention,
		batchSize:  batch,
		maxBatches: maxBatches,
	}, nil
}

// DeleteDequeued removes bundles dequeued before now minus retention in
// bounded batches. Blobs go first so an interrupted run resumes cleanly.
func (r *Retention) DeleteDequeued(ctx context.Context, now time.Time) (RetentionResult, error) {
	var total RetentionResult
	cutoff := now.Add(-r.retention)

	for batch := 0; batch < r.maxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		bundles, err := r.repo.ListDequeuedBundlesBefore(ctx, cutoff, r.batchSize)
		if err != nil {
			return total, fmt.Errorf("list dequeued bundles: %w", err)
		}
		if len(bundles) == 0 {
			break
		}

		ids := make([]uuid.UUID, 0, len(bundles))
		var documents []string
		for _, bundle := range bundles {
			ids = append(ids, bundle.ID)
			if bundle.DocumentReference != nil {
				documents = append(documents, *bundle.DocumentReference)
			}
		}
		contents, err := r.repo.ListMessageReferences(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("list message references: %w", err)
		}

		if err := r.storage.DeleteIfExists(ctx, enums.FileStorageOutgoingMessage, contents); err != nil {
			return total, fmt.Errorf("delete message content: %w", err)
		}
		if err := r.storage.DeleteIfExists(ctx, enums.FileStorageBundleDocument, documents); err != nil {
			return total, fmt.Errorf("delete bundle documents: %w", err)
		}

		var deleted int64
		err = r.pipeline.Execute(ctx, "delete-dequeued", func(ctx context.Context, uow *UnitOfWork) error {
			var err error
			deleted, err = uow.Repo.DeleteBundles(ctx, ids)
			return err
		})
		if err != nil {
			return total, fmt.Errorf("delete bundles: %w", err)
		}

		total.Bundles += int(deleted)
		total.Messages += len(contents)
		total.Blobs += len(contents) + len(documents)
		if len(bundles) < r.batchSize {
			break
		}
	}

	if total.Bundles > 0 {
		logCtx := r.logg.WithFields(ctx, map[string]any{
			"bundles":  total.Bundles,
			"messages": total.Messages,
			"blobs":    total.Blobs,
			"cutoff":   cutoff.Format(time.RFC3339),
		})
		r.logg.Info(logCtx, "dequeued bundles removed")
	}
	return total, nil
}
