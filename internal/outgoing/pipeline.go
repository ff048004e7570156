package outgoing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/edihub/edi-backend/pkg/logger"
	"github.com/edihub/edi-backend/pkg/metrics"
	"github.com/edihub/edi-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventFlusher interface {
	Flush(ctx context.Context, tx *gorm.DB, collector *outbox.Collector) error
}

// UnitOfWork is the transactional scope handed to pipeline steps.
type UnitOfWork struct {
	Operation string
	Tx        *gorm.DB
	Repo      Repository
	Events    *outbox.Collector
}

type Handler func(ctx context.Context, uow *UnitOfWork) error

// Middleware wraps a Handler. Middleware runs inside the transaction.
type Middleware func(next Handler) Handler

// Pipeline runs a unit of work in one transaction: begin, middleware, work,
// flush collected events to the outbox, commit.
type Pipeline struct {
	db         txRunner
	repo       Repository
	events     eventFlusher
	middleware []Middleware
}

func NewPipeline(db txRunner, repo Repository, events eventFlusher, middleware ...Middleware) *Pipeline {
	return &Pipeline{db: db, repo: repo, events: events, middleware: middleware}
}

func (p *Pipeline) Execute(ctx context.Context, operation string, work Handler) error {
	handler := work
	for i := len(p.middleware) - 1; i >= 0; i-- {
		handler = p.middleware[i](handler)
	}
	return p.db.WithTx(ctx, func(tx *gorm.DB) error {
		uow := &UnitOfWork{
			Operation: operation,
			Tx:        tx,
			Repo:      p.repo.WithTx(tx),
			Events:    outbox.NewCollector(),
		}
		if err := handler(ctx, uow); err != nil {
			return err
		}
		if p.events == nil {
			return nil
		}
		return p.events.Flush(ctx, tx, uow.Events)
	})
}

// LoggingMiddleware logs each unit of work with its duration. Transient
// conflicts log at debug since they are retried.
func LoggingMiddleware(logg *logger.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, uow *UnitOfWork) error {
			start := time.Now()
			err := next(ctx, uow)
			if logg == nil {
				return err
			}
			logCtx := logg.WithFields(ctx, map[string]any{
				"operation":   uow.Operation,
				"duration_ms": time.Since(start).Milliseconds(),
				"events":      uow.Events.Len(),
			})
			switch {
			case err == nil:
				logg.Debug(logCtx, "unit of work completed")
			case isTransientConflict(err) || errors.Is(err, context.Canceled):
				logg.Debug(logg.WithField(logCtx, "error", err.Error()), "unit of work aborted")
			default:
				logg.Warn(logg.WithField(logCtx, "error", err.Error()), "unit of work failed")
			}
			return err
		}
	}
}

// ConflictMetricsMiddleware counts transactions aborted by a concurrent open bundle.
func ConflictMetricsMiddleware(m *metrics.OutgoingMetrics) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, uow *UnitOfWork) error {
			err := next(ctx, uow)
			if isTransientConflict(err) {
				m.IncConflict()
			}
			return err
		}
	}
}
