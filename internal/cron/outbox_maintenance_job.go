package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/edihub/edi-backend/pkg/enums"
	"github.com/edihub/edi-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultDLQRetention    = 90 * 24 * time.Hour
	maintenanceBatch       = 1000
	maintenanceMaxBatches  = 20
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxStore interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, terminalAttempts, limit int) (int64, error)
	CountPending(ctx context.Context, maxAttempts int) (int64, error)
}

type deadLetterStore interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
	CountByReason(ctx context.Context) (map[enums.OutboxDLQErrorReason]int64, error)
}

type OutboxMaintenanceJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Outbox      outboxStore
	DeadLetters deadLetterStore

	// Retention applies to published rows and rows the relay gave up on.
	Retention    time.Duration
	DLQRetention time.Duration
	MaxAttempts  int
}

// NewOutboxMaintenanceJob purges delivered outbox rows and stale dead
// letters, then reports the remaining backlog.
func NewOutboxMaintenanceJob(params OutboxMaintenanceJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox repository required")
	case params.DeadLetters == nil:
		return nil, fmt.Errorf("dlq repository required")
	case params.MaxAttempts <= 0:
		return nil, fmt.Errorf("outbox max attempts must be positive")
	}
	job := &outboxMaintenanceJob{
		logg:         params.Logger,
		db:           params.DB,
		outbox:       params.Outbox,
		deadLetters:  params.DeadLetters,
		retention:    params.Retention,
		dlqRetention: params.DLQRetention,
		maxAttempts:  params.MaxAttempts,
		now:          time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.dlqRetention <= 0 {
		job.dlqRetention = defaultDLQRetention
	}
	return job, nil
}

type outboxMaintenanceJob struct {
	logg         *logger.Logger
	db           txRunner
	outbox       outboxStore
	deadLetters  deadLetterStore
	retention    time.Duration
	dlqRetention time.Duration
	maxAttempts  int
	now          func() time.Time
}

func (j *outboxMaintenanceJob) Name() string { return "outbox-maintenance" }

func (j *outboxMaintenanceJob) Run(ctx context.Context) error {
	now := j.now().UTC()

	events, err := j.purge(ctx, func(tx *gorm.DB) (int64, error) {
		return j.outbox.DeletePublishedBefore(ctx, tx, now.Add(-j.retention), j.maxAttempts, maintenanceBatch)
	})
	if err != nil {
		return fmt.Errorf("purge outbox events: %w", err)
	}
	letters, err := j.purge(ctx, func(tx *gorm.DB) (int64, error) {
		return j.deadLetters.DeleteFailedBefore(ctx, tx, now.Add(-j.dlqRetention), maintenanceBatch)
	})
	if err != nil {
		return fmt.Errorf("purge dead letters: %w", err)
	}

	pending, err := j.outbox.CountPending(ctx, j.maxAttempts)
	if err != nil {
		return fmt.Errorf("count pending outbox events: %w", err)
	}
	parked, err := j.deadLetters.CountByReason(ctx)
	if err != nil {
		return fmt.Errorf("count dead letters: %w", err)
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"events_deleted":       events,
		"dead_letters_deleted": letters,
		"pending":              pending,
		"dead_letters":         parked,
	})
	if len(parked) > 0 {
		j.logg.Warn(logCtx, "outbox has dead-lettered events")
		return nil
	}
	j.logg.Info(logCtx, "outbox maintenance complete")
	return nil
}

// purge repeats del in its own transaction until a short batch or the batch cap.
func (j *outboxMaintenanceJob) purge(ctx context.Context, del func(tx *gorm.DB) (int64, error)) (int64, error) {
	var total int64
	for i := 0; i < maintenanceMaxBatches; i++ {
		var n int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			n, err = del(tx)
			return err
		})
		if err != nil {
			return total, err
		}
		total += n
		if n < maintenanceBatch {
			break
		}
	}
	return total, nil
}
