package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/edihub/edi-backend/internal/outgoing"
	"github.com/edihub/edi-backend/pkg/logger"
)

type bundleCloser interface {
	AssignPending(ctx context.Context, now time.Time) (outgoing.AssignResult, error)
	CloseExpired(ctx context.Context, now time.Time) (int, error)
}

type BundleCloseJobParams struct {
	Logger  *logger.Logger
	Bundler bundleCloser
}

// NewBundleCloseJob assigns pending messages then closes bundles whose window elapsed.
func NewBundleCloseJob(params BundleCloseJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Bundler == nil {
		return nil, fmt.Errorf("bundler required")
	}
	return &bundleCloseJob{logg: params.Logger, bundler: params.Bundler, now: time.Now}, nil
}

type bundleCloseJob struct {
	logg    *logger.Logger
	bundler bundleCloser
	now     func() time.Time
}

func (j *bundleCloseJob) Name() string { return "bundle-close" }

func (j *bundleCloseJob) Run(ctx context.Context) error {
	now := j.now().UTC().Truncate(time.Microsecond)
	var errs []error

	assigned, err := j.bundler.AssignPending(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("assign pending: %w", err))
	}
	// close even after a failed assignment so full windows still ship
	closed, err := j.bundler.CloseExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("close expired: %w", err))
	}

	if assigned.Assigned > 0 || closed > 0 {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"assigned":      assigned.Assigned,
			"skipped":       assigned.Skipped,
			"closed_by_cap": assigned.Closed,
			"closed_window": closed,
		})
		j.logg.Info(logCtx, "bundle close cycle complete")
	}
	return multierr.Combine(errs...)
}
