package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/infrastructure/postgres/generated"
	"github.com/iho/eventledger/internal/usecase"
)

// EventStore implements usecase.EventStore on the events table.
// (aggregate_id, version) is unique, so racing writers cannot both claim a slot.
type EventStore struct {
	queries *generated.Queries
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return newEventStore(pool)
}

func newEventStore(db generated.DBTX) *EventStore {
	return &EventStore{queries: generated.New(db)}
}

// Append writes events as versions expectedVersion+1.. within tx.
func (s *EventStore) Append(ctx context.Context, tx usecase.Transaction, aggregateID string, events []domain.DomainEvent, expectedVersion int64) error {
	if len(events) == 0 {
		return nil
	}

	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return err
	}
	queries := s.queries.WithTx(pgxTx)

	current, err := queries.GetMaxVersion(ctx, aggregateID)
	if err != nil {
		return persistenceError("read stream version", err)
	}
	if current != expectedVersion {
		return fmt.Errorf("%w: aggregate %s is at version %d, expected %d",
			domain.ErrConcurrencyConflict, aggregateID, current, expectedVersion)
	}

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

		err = queries.InsertEvent(ctx, generated.InsertEventParams{
			ID:            rec.ID,
			AggregateID:   rec.AggregateID,
			AggregateType: domain.AggregateTypeAccount,
			Version:       rec.Version,
			EventType:     rec.EventType,
			Payload:       rec.Payload,
			OccurredAt:    timeToPgTimestamptz(rec.OccurredAt),
		})
		if err != nil {
			return classify(fmt.Sprintf("append %s v%d", aggregateID, slot), err)
		}
	}

	return nil
}

// Load returns every event of the aggregate ordered by version.
func (s *EventStore) Load(ctx context.Context, aggregateID string) ([]domain.DomainEvent, error) {
	return s.LoadFrom(ctx, aggregateID, 0)
}

// LoadFrom returns the events with a version greater than afterVersion.
func (s *EventStore) LoadFrom(ctx context.Context, aggregateID string, afterVersion int64) ([]domain.DomainEvent, error) {
	rows, err := s.queries.ListEvents(ctx, generated.ListEventsParams{
		AggregateID: aggregateID,
		Version:     afterVersion,
	})
	if err != nil {
		return nil, persistenceError("load events", err)
	}

	events := make([]domain.DomainEvent, 0, len(rows))
	for _, row := range rows {
		evt, err := domain.DecodeEvent(rowToEventRecord(row))
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}

	return events, nil
}

// CurrentVersion returns the highest stored version, 0 for an unknown aggregate.
func (s *EventStore) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	version, err := s.queries.GetMaxVersion(ctx, aggregateID)
	if err != nil {
		return 0, persistenceError("read stream version", err)
	}
	return version, nil
}

func rowToEventRecord(row generated.Event) domain.EventRecord {
	return domain.EventRecord{
		ID:          row.ID,
		AggregateID: row.AggregateID,
		Version:     row.Version,
		EventType:   row.EventType,
		Payload:     row.Payload,
		OccurredAt:  row.OccurredAt.Time,
	}
}
