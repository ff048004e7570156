package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/edihub/edi-backend/pkg/db/models"
	"github.com/edihub/edi-backend/pkg/enums"
	"github.com/edihub/edi-backend/pkg/logger"
)

const currentVersion = 1

// DomainEvent is a fact raised by a unit of work, written to the outbox in
// the same transaction as the state change it describes.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
}

func (e DomainEvent) validate() error {
	switch {
	case !e.EventType.IsValid():
		return fmt.Errorf("unknown outbox event type %q", e.EventType)
	case !e.AggregateType.IsValid():
		return fmt.Errorf("unknown outbox aggregate type %q", e.AggregateType)
	case e.AggregateID == uuid.Nil:
		return fmt.Errorf("%s event without aggregate id", e.EventType)
	}
	return nil
}

// row renders the event as an outbox row whose id doubles as the envelope's
// event id.
func (e DomainEvent) row() (models.OutboxEvent, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("marshal %s payload: %w", e.EventType, err)
	}
	occurred := e.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	version := e.Version
	if version == 0 {
		version = currentVersion
	}

	id := uuid.New()
	envelope, err := json.Marshal(PayloadEnvelope{
		Version:    version,
		EventID:    id.String(),
		OccurredAt: occurred,
		Actor:      e.Actor,
		Data:       data,
	})
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("marshal %s envelope: %w", e.EventType, err)
	}
	return models.OutboxEvent{
		ID:            id,
		EventType:     e.EventType,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		Payload:       envelope,
		CreatedAt:     occurred,
	}, nil
}

type inserter interface {
	Insert(tx *gorm.DB, event models.OutboxEvent) error
}

// Service writes domain events to the outbox table.
type Service struct {
	repo inserter
	logg *logger.Logger
}

func NewService(repo inserter, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Emit stores event inside tx.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if err := event.validate(); err != nil {
		return err
	}
	row, err := event.row()
	if err != nil {
		return err
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return fmt.Errorf("insert outbox %s: %w", event.EventType, err)
	}

	if s.logg != nil {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":       row.ID.String(),
			"event_type":     row.EventType,
			"aggregate_type": row.AggregateType,
			"aggregate_id":   row.AggregateID.String(),
		}), "outbox event queued")
	}
	return nil
}

// Flush emits and clears everything the collector holds. The first failure
// stops the flush; the caller's transaction then rolls back every row.
func (s *Service) Flush(ctx context.Context, tx *gorm.DB, collector *Collector) error {
	if collector == nil {
		return nil
	}
	for i, event := range collector.Drain() {
		if err := s.Emit(ctx, tx, event); err != nil {
			return fmt.Errorf("flush event %d: %w", i, err)
		}
	}
	return nil
}
