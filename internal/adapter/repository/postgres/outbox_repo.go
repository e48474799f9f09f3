package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/infrastructure/postgres/generated"
	"github.com/iho/eventledger/internal/usecase"
)

type queryPool interface {
	generated.DBTX
	Begin(context.Context) (pgx.Tx, error)
}

// OutboxRepository implements usecase.OutboxRepository.
//
// Mark updates only touch rows that are still pending, so re-applying a
// result for an already processed record is a no-op.
type OutboxRepository struct {
	pool    queryPool
	queries *generated.Queries
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return newOutboxRepository(pool)
}

func newOutboxRepository(pool queryPool) *OutboxRepository {
	return &OutboxRepository{
		pool:    pool,
		queries: generated.New(pool),
	}
}

// Enqueue inserts a record within the caller's transaction.
func (r *OutboxRepository) Enqueue(ctx context.Context, tx usecase.Transaction, record *domain.OutboxRecord) error {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return err
	}

	err = r.queries.WithTx(pgxTx).InsertOutbox(ctx, generated.InsertOutboxParams{
		ID:          record.ID,
		MessageType: record.MessageType,
		Payload:     record.Payload,
		CreatedAt:   timeToPgTimestamptz(record.CreatedAt),
		Attempts:    int32(record.Attempts),
	})
	if err != nil {
		return persistenceError("enqueue outbox record", err)
	}

	return nil
}

// FetchPending returns up to limit due records, oldest first.
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int, now time.Time) ([]*domain.OutboxRecord, error) {
	rows, err := r.queries.FetchPendingOutbox(ctx, generated.FetchPendingOutboxParams{
		Now:        timeToPgTimestamptz(now),
		BatchLimit: int32(limit),
	})
	if err != nil {
		return nil, persistenceError("fetch pending outbox", err)
	}

	records := make([]*domain.OutboxRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, rowToOutboxRecord(row))
	}

	return records, nil
}

// MarkProcessed records a terminal outcome. lastErr is nil on success.
func (r *OutboxRepository) MarkProcessed(ctx context.Context, id string, processedAt time.Time, lastErr *string) error {
	_, err := r.queries.MarkOutboxProcessed(ctx, generated.MarkOutboxProcessedParams{
		ID:          id,
		ProcessedAt: timeToPgTimestamptz(processedAt),
		LastError:   optionalText(lastErr),
	})
	if err != nil {
		return persistenceError("mark outbox processed", err)
	}
	return nil
}

// ScheduleRetry keeps the record pending until nextAttemptAt.
func (r *OutboxRepository) ScheduleRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastErr string) error {
	_, err := r.queries.UpdateOutboxAttempt(ctx, generated.UpdateOutboxAttemptParams{
		ID:            id,
		Attempts:      int32(attempts),
		NextAttemptAt: timeToPgTimestamptz(nextAttemptAt),
		LastError:     pgtype.Text{String: lastErr, Valid: true},
	})
	if err != nil {
		return persistenceError("schedule outbox retry", err)
	}
	return nil
}

// ApplyResults persists the outcome of a dispatch batch in one transaction.
func (r *OutboxRepository) ApplyResults(ctx context.Context, results []domain.DispatchResult) (err error) {
	if len(results) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return persistenceError("begin outbox batch", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	queries := r.queries.WithTx(tx)
	for _, result := range results {
		params := generated.UpdateOutboxAttemptParams{
			ID:        result.RecordID,
			Attempts:  int32(result.Attempts),
			LastError: optionalText(result.LastError),
		}

		switch result.Status {
		case domain.DispatchStatusPublished, domain.DispatchStatusDeadLettered:
			params.ProcessedAt = optionalTimestamptz(result.ProcessedAt)
		case domain.DispatchStatusRetry:
			params.NextAttemptAt = optionalTimestamptz(result.NextAttemptAt)
		default:
			return fmt.Errorf("%w: unknown dispatch status %q", domain.ErrInvalidOperation, result.Status)
		}

		if _, err = queries.UpdateOutboxAttempt(ctx, params); err != nil {
			return persistenceError("apply outbox result", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return persistenceError("commit outbox batch", err)
	}

	return nil
}

// CountPending returns the number of unprocessed records.
func (r *OutboxRepository) CountPending(ctx context.Context) (int64, error) {
	count, err := r.queries.CountPendingOutbox(ctx)
	if err != nil {
		return 0, persistenceError("count pending outbox", err)
	}
	return count, nil
}

// DeleteProcessed removes records processed before the cutoff.
func (r *OutboxRepository) DeleteProcessed(ctx context.Context, before time.Time) (int64, error) {
	deleted, err := r.queries.DeleteProcessedOutbox(ctx, timeToPgTimestamptz(before))
	if err != nil {
		return 0, persistenceError("delete processed outbox", err)
	}
	return deleted, nil
}

func rowToOutboxRecord(row generated.Outbox) *domain.OutboxRecord {
	return &domain.OutboxRecord{
		ID:            row.ID,
		MessageType:   row.MessageType,
		Payload:       row.Payload,
		CreatedAt:     row.CreatedAt.Time,
		ProcessedAt:   timestamptzPtr(row.ProcessedAt),
		LastError:     textPtr(row.LastError),
		Attempts:      int(row.Attempts),
		NextAttemptAt: timestamptzPtr(row.NextAttemptAt),
	}
}
