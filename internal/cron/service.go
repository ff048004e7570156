package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edihub/edi-backend/pkg/logger"
	"github.com/edihub/edi-backend/pkg/metrics"
)

const (
	defaultInterval = time.Minute
	cycleLabel      = "bundler-cycle"
)

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// Now is overridable for tests.
	Now func() time.Time
}

// Service ticks every Interval. On each tick the replica that wins the lease
// runs whichever jobs are due; the others skip. The lease is renewed at a
// third of its TTL while jobs run, and a lost lease cancels the cycle.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock required")
	}
	s := &Service{
		logg:     params.Logger,
		registry: params.Registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: params.Interval,
		now:      params.Now,
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Service) Run(ctx context.Context) error {
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"interval": s.interval.String(),
		"jobs":     strings.Join(s.registry.Names(), ","),
	}), "cron service started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.runCycle(ctx); err != nil && ctx.Err() == nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	leader, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !leader {
		s.metrics.IncSkipped(cycleLabel)
		s.logg.Debug(ctx, "cron lease held by another replica, skipping cycle")
		return nil
	}

	cycleCtx, cancel := context.WithCancelCause(ctx)
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		s.keepLease(cycleCtx, cancel)
	}()
	defer func() {
		cancel(nil)
		<-renewDone
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "failed to release cron lease", err)
		}
	}()

	for _, job := range s.registry.due(s.now()) {
		if cycleCtx.Err() != nil {
			return context.Cause(cycleCtx)
		}
		s.runJob(cycleCtx, job)
	}
	return nil
}

// keepLease renews until ctx ends. A failed renewal cancels the cycle with
// the renewal error as cause.
func (s *Service) keepLease(ctx context.Context, cancel context.CancelCauseFunc) {
	every := s.lock.TTL() / 3
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.lock.Renew(ctx); err != nil {
				if ctx.Err() == nil {
					s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "cron lease renewal failed, abandoning cycle")
					cancel(err)
				}
				return
			}
		}
	}
}

func (s *Service) runJob(ctx context.Context, job Job) {
	name := job.Name()
	jobCtx := s.logg.WithField(ctx, "job", name)

	start := time.Now()
	err := job.Run(jobCtx)
	elapsed := time.Since(start)
	s.metrics.ObserveDuration(name, elapsed)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		s.metrics.IncFailure(name)
		s.logg.Error(jobCtx, "cron job failed", err)
		return
	}
	s.metrics.IncSuccess(name)
	s.logg.Debug(jobCtx, "cron job completed")
}
