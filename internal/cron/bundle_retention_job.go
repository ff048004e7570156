package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/edihub/edi-backend/internal/outgoing"
	"github.com/edihub/edi-backend/pkg/logger"
)

type bundleRetention interface {
	DeleteDequeued(ctx context.Context, now time.Time) (outgoing.RetentionResult, error)
}

type BundleRetentionJobParams struct {
	Logger    *logger.Logger
	Retention bundleRetention
}

func NewBundleRetentionJob(params BundleRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Retention == nil {
		return nil, fmt.Errorf("bundle retention required")
	}
	return &bundleRetentionJob{logg: params.Logger, retention: params.Retention, now: time.Now}, nil
}

type bundleRetentionJob struct {
	logg      *logger.Logger
	retention bundleRetention
	now       func() time.Time
}

func (j *bundleRetentionJob) Name() string { return "bundle-retention" }

func (j *bundleRetentionJob) Run(ctx context.Context) error {
	res, err := j.retention.DeleteDequeued(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("bundle retention after %d bundles: %w", res.Bundles, err)
	}
	return nil
}
