package sqlite

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/usecase"
)

// EventStore implements usecase.EventStore.
type EventStore struct {
	db *gorm.DB
}

// NewEventStore creates a new EventStore.
func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

// Append writes events as versions expectedVersion+1.. within tx.
func (s *EventStore) Append(ctx context.Context, tx usecase.Transaction, aggregateID string, events []domain.DomainEvent, expectedVersion int64) error {
	if len(events) == 0 {
		return nil
	}

	db, err := gormTxFrom(tx)
	if err != nil {
		return err
	}
	db = db.WithContext(ctx)

	current, err := maxVersion(db, aggregateID)
	if err != nil {
		return err
	}
	if current != expectedVersion {
		return fmt.Errorf("%w: aggregate %s is at version %d, expected %d",
			domain.ErrConcurrencyConflict, aggregateID, current, expectedVersion)
	}

	rows := make([]eventModel, 0, len(events))
	for i, evt := range events {
		if evt.AggregateID != aggregateID {
			return fmt.Errorf("%w: event %s belongs to aggregate %s", domain.ErrInvalidOperation, evt.ID, evt.AggregateID)
		}
		slot := expectedVersion + int64(i) + 1
		if evt.Version != slot {
			return fmt.Errorf("%w: event %s has version %d, slot is %d",
				domain.ErrConcurrencyConflict, evt.ID, evt.Version, slot)
		}

		rec, err := domain.EncodeEvent(evt)
		if err != nil {
			return err
		}
		rows = append(rows, eventModel{
			ID:            rec.ID,
			AggregateID:   rec.AggregateID,
			AggregateType: domain.AggregateTypeAccount,
			Version:       rec.Version,
			EventType:     rec.EventType,
			Payload:       rec.Payload,
			OccurredAt:    rec.OccurredAt.UTC(),
		})
	}

	if err := db.Create(&rows).Error; err != nil {
		return classify("append "+aggregateID, err)
	}
	return nil
}

// Load returns every event of the aggregate ordered by version.
func (s *EventStore) Load(ctx context.Context, aggregateID string) ([]domain.DomainEvent, error) {
	return s.LoadFrom(ctx, aggregateID, 0)
}

// LoadFrom returns the events with a version greater than afterVersion.
func (s *EventStore) LoadFrom(ctx context.Context, aggregateID string, afterVersion int64) ([]domain.DomainEvent, error) {
	var rows []eventModel
	err := s.db.WithContext(ctx).
		Where("aggregate_id = ? AND version > ?", aggregateID, afterVersion).
		Order("version ASC").
		Find(&rows).Error
	if err != nil {
		return nil, persistenceError("load events", err)
	}

	events := make([]domain.DomainEvent, 0, len(rows))
	for _, row := range rows {
		evt, err := domain.DecodeEvent(domain.EventRecord{
			ID:          row.ID,
			AggregateID: row.AggregateID,
			Version:     row.Version,
			EventType:   row.EventType,
			Payload:     row.Payload,
			OccurredAt:  row.OccurredAt,
		})
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, nil
}

// CurrentVersion returns the highest stored version, 0 for an unknown aggregate.
func (s *EventStore) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	return maxVersion(s.db.WithContext(ctx), aggregateID)
}

func maxVersion(db *gorm.DB, aggregateID string) (int64, error) {
	var version int64
	err := db.Model(&eventModel{}).
		Select("COALESCE(MAX(version), 0)").
		Where("aggregate_id = ?", aggregateID).
		Scan(&version).Error
	if err != nil {
		return 0, persistenceError("read stream version", err)
	}
	return version, nil
}
