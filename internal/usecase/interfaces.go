package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/iho/eventledger/internal/domain"
)

// EventStore is the append-only, per-aggregate event log.
type EventStore interface {
	// Append writes events as versions expectedVersion+1.. inside tx.
	// A stale expectedVersion fails with domain.ErrConcurrencyConflict.
	Append(ctx context.Context, tx Transaction, aggregateID string, events []domain.DomainEvent, expectedVersion int64) error
	// Load returns all events ordered by version. Unknown ids yield an empty slice.
	Load(ctx context.Context, aggregateID string) ([]domain.DomainEvent, error)
	LoadFrom(ctx context.Context, aggregateID string, afterVersion int64) ([]domain.DomainEvent, error)
	CurrentVersion(ctx context.Context, aggregateID string) (int64, error)
}

// OutboxRepository defines data access for outbox records.
type OutboxRepository interface {
	Enqueue(ctx context.Context, tx Transaction, record *domain.OutboxRecord) error
	FetchPending(ctx context.Context, limit int, now time.Time) ([]*domain.OutboxRecord, error)
	MarkProcessed(ctx context.Context, id string, processedAt time.Time, lastErr *string) error
	ScheduleRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastErr string) error
	ApplyResults(ctx context.Context, results []domain.DispatchResult) error
	CountPending(ctx context.Context) (int64, error)
	DeleteProcessed(ctx context.Context, before time.Time) (int64, error)
}

// AccountViewRepository defines data access for the materialized account read model.
type AccountViewRepository interface {
	// Upsert writes view unless a row with a newer version already exists.
	Upsert(ctx context.Context, tx Transaction, view domain.AccountView) error
	GetByID(ctx context.Context, id string) (*domain.AccountView, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.AccountView, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionManager handles transaction lifecycle.
type TransactionManager interface {
	Begin(ctx context.Context) (Transaction, error)
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// Retrier re-runs operation while it fails with a transient storage error.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
}

// Cache defines caching operations.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Clock returns the current time.
type Clock func() time.Time

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")
