package sqlite

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/usecase"
)

// OutboxRepository implements usecase.OutboxRepository.
// Timestamps are stored in UTC so that text comparison orders them correctly.
type OutboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue inserts a record within the caller's transaction.
func (r *OutboxRepository) Enqueue(ctx context.Context, tx usecase.Transaction, record *domain.OutboxRecord) error {
	db, err := gormTxFrom(tx)
	if err != nil {
		return err
	}

	row := outboxModel{
		ID:          record.ID,
		MessageType: record.MessageType,
		Payload:     record.Payload,
		CreatedAt:   record.CreatedAt.UTC(),
		Attempts:    record.Attempts,
	}
	if err := db.WithContext(ctx).Create(&row).Error; err != nil {
		return persistenceError("enqueue outbox record", err)
	}
	return nil
}

// FetchPending returns up to limit due records, oldest first.
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int, now time.Time) ([]*domain.OutboxRecord, error) {
	var rows []outboxModel
	err := r.db.WithContext(ctx).
		Where("processed_at IS NULL AND (next_attempt_at IS NULL OR next_attempt_at <= ?)", now.UTC()).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, persistenceError("fetch pending outbox", err)
	}

	records := make([]*domain.OutboxRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, &domain.OutboxRecord{
			ID:            row.ID,
			MessageType:   row.MessageType,
			Payload:       row.Payload,
			CreatedAt:     row.CreatedAt,
			ProcessedAt:   row.ProcessedAt,
			LastError:     row.LastError,
			Attempts:      row.Attempts,
			NextAttemptAt: row.NextAttemptAt,
		})
	}
	return records, nil
}

// MarkProcessed records a terminal outcome. lastErr is nil on success.
func (r *OutboxRepository) MarkProcessed(ctx context.Context, id string, processedAt time.Time, lastErr *string) error {
	err := pending(r.db.WithContext(ctx), id).Updates(map[string]any{
		"processed_at":    processedAt.UTC(),
		"last_error":      lastErr,
		"next_attempt_at": nil,
	}).Error
	if err != nil {
		return persistenceError("mark outbox processed", err)
	}
	return nil
}

// ScheduleRetry keeps the record pending until nextAttemptAt.
func (r *OutboxRepository) ScheduleRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastErr string) error {
	err := pending(r.db.WithContext(ctx), id).Updates(map[string]any{
		"attempts":        attempts,
		"next_attempt_at": nextAttemptAt.UTC(),
		"last_error":      lastErr,
	}).Error
	if err != nil {
		return persistenceError("schedule outbox retry", err)
	}
	return nil
}

// ApplyResults persists the outcome of a dispatch batch in one transaction.
func (r *OutboxRepository) ApplyResults(ctx context.Context, results []domain.DispatchResult) error {
	if len(results) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, result := range results {
			updates := map[string]any{
				"attempts":   result.Attempts,
				"last_error": result.LastError,
			}
			switch result.Status {
			case domain.DispatchStatusPublished, domain.DispatchStatusDeadLettered:
				updates["processed_at"] = utcPtr(result.ProcessedAt)
				updates["next_attempt_at"] = nil
			case domain.DispatchStatusRetry:
				updates["next_attempt_at"] = utcPtr(result.NextAttemptAt)
			default:
				return fmt.Errorf("%w: unknown dispatch status %q", domain.ErrInvalidOperation, result.Status)
			}

			if err := pending(tx, result.RecordID).Updates(updates).Error; err != nil {
				return persistenceError("apply outbox result", err)
			}
		}
		return nil
	})
	return err
}

// CountPending returns the number of unprocessed records.
func (r *OutboxRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&outboxModel{}).Where("processed_at IS NULL").Count(&count).Error; err != nil {
		return 0, persistenceError("count pending outbox", err)
	}
	return count, nil
}

// DeleteProcessed removes records processed before the cutoff.
func (r *OutboxRepository) DeleteProcessed(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("processed_at IS NOT NULL AND processed_at < ?", before.UTC()).
		Delete(&outboxModel{})
	if res.Error != nil {
		return 0, persistenceError("delete processed outbox", res.Error)
	}
	return res.RowsAffected, nil
}

func pending(db *gorm.DB, id string) *gorm.DB {
	return db.Model(&outboxModel{}).Where("id = ? AND processed_at IS NULL", id)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
