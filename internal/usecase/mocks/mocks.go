package mocks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/usecase"
)

// MockTransactionManager is a mock implementation of TransactionManager.
type MockTransactionManager struct {
	mu sync.Mutex

	BeginFunc    func(ctx context.Context) (usecase.Transaction, error)
	Transactions []*MockTransaction
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) Begin(ctx context.Context) (usecase.Transaction, error) {
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &MockTransaction{}
	m.Transactions = append(m.Transactions, tx)
	return tx, nil
}

// Committed returns how many transactions were committed.
func (m *MockTransactionManager) Committed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, tx := range m.Transactions {
		if tx.Committed {
			n++
		}
	}
	return n
}

// MockTransaction is a mock implementation of Transaction. Writes made through the
// in-memory repositories below become visible only on Commit.
type MockTransaction struct {
	CommitFunc   func(ctx context.Context) error
	RollbackFunc func(ctx context.Context) error

	Committed  bool
	RolledBack bool

	mu       sync.Mutex
	onCommit []func()
	done     bool
}

// OnCommit registers fn to run when the transaction commits.
func (m *MockTransaction) OnCommit(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCommit = append(m.onCommit, fn)
}

func (m *MockTransaction) Commit(ctx context.Context) error {
	if m.CommitFunc != nil {
		if err := m.CommitFunc(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return errors.New("transaction already closed")
	}
	for _, fn := range m.onCommit {
		fn()
	}
	m.onCommit = nil
	m.done = true
	m.Committed = true
	return nil
}

func (m *MockTransaction) Rollback(ctx context.Context) error {
	if m.RollbackFunc != nil {
		return m.RollbackFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return nil
	}
	m.onCommit = nil
	m.done = true
	m.RolledBack = true
	return nil
}

func deferUntilCommit(tx usecase.Transaction, fn func()) {
	if mt, ok := tx.(*MockTransaction); ok {
		mt.OnCommit(fn)
		return
	}
	fn()
}

// MockEventStore is an in-memory EventStore.
type MockEventStore struct {
	mu      sync.RWMutex
	streams map[string][]domain.DomainEvent

	AppendFunc func(ctx context.Context, tx usecase.Transaction, aggregateID string, events []domain.DomainEvent, expectedVersion int64) error
	LoadFunc   func(ctx context.Context, aggregateID string) ([]domain.DomainEvent, error)
}

func NewMockEventStore() *MockEventStore {
	return &MockEventStore{streams: make(map[string][]domain.DomainEvent)}
}

func (m *MockEventStore) Append(ctx context.Context, tx usecase.Transaction, aggregateID string, events []domain.DomainEvent, expectedVersion int64) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, tx, aggregateID, events, expectedVersion)
	}

	m.mu.RLock()
	current := int64(len(m.streams[aggregateID]))
	m.mu.RUnlock()

	if current != expectedVersion {
		return fmt.Errorf("%w: %s is at version %d, expected %d", domain.ErrConcurrencyConflict, aggregateID, current, expectedVersion)
	}
	for i, evt := range events {
		if evt.Version != expectedVersion+int64(i)+1 {
			return fmt.Errorf("%w: event %s has version %d", domain.ErrConcurrencyConflict, evt.ID, evt.Version)
		}
	}

	staged := make([]domain.DomainEvent, len(events))
	copy(staged, events)
	deferUntilCommit(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.streams[aggregateID] = append(m.streams[aggregateID], staged...)
	})
	return nil
}

func (m *MockEventStore) Load(ctx context.Context, aggregateID string) ([]domain.DomainEvent, error) {
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx, aggregateID)
	}
	return m.LoadFrom(ctx, aggregateID, 0)
}

func (m *MockEventStore) LoadFrom(ctx context.Context, aggregateID string, afterVersion int64) ([]domain.DomainEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.DomainEvent{}
	for _, evt := range m.streams[aggregateID] {
		if evt.Version > afterVersion {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (m *MockEventStore) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.streams[aggregateID])), nil
}

// MockOutboxRepository is an in-memory OutboxRepository.
type MockOutboxRepository struct {
	mu      sync.RWMutex
	records map[string]*domain.OutboxRecord

	EnqueueFunc      func(ctx context.Context, tx usecase.Transaction, record *domain.OutboxRecord) error
	FetchPendingFunc func(ctx context.Context, limit int, now time.Time) ([]*domain.OutboxRecord, error)
	ApplyResultsFunc func(ctx context.Context, results []domain.DispatchResult) error
}

func NewMockOutboxRepository() *MockOutboxRepository {
	return &MockOutboxRepository{records: make(map[string]*domain.OutboxRecord)}
}

func (m *MockOutboxRepository) Enqueue(ctx context.Context, tx usecase.Transaction, record *domain.OutboxRecord) error {
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, tx, record)
	}
	rec := *record
	deferUntilCommit(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.records[rec.ID] = &rec
	})
	return nil
}

func (m *MockOutboxRepository) FetchPending(ctx context.Context, limit int, now time.Time) ([]*domain.OutboxRecord, error) {
	if m.FetchPendingFunc != nil {
		return m.FetchPendingFunc(ctx, limit, now)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pending []*domain.OutboxRecord
	for _, rec := range m.records {
		if rec.ProcessedAt != nil {
			continue
		}
		if rec.NextAttemptAt != nil && rec.NextAttemptAt.After(now) {
			continue
		}
		cp := *rec
		pending = append(pending, &cp)
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id string, processedAt time.Time, lastErr *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("outbox record %s not found", id)
	}
	rec.ProcessedAt = &processedAt
	rec.LastError = lastErr
	rec.NextAttemptAt = nil
	return nil
}

func (m *MockOutboxRepository) ScheduleRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("outbox record %s not found", id)
	}
	rec.Attempts = attempts
	rec.NextAttemptAt = &nextAttemptAt
	rec.LastError = &lastErr
	return nil
}

func (m *MockOutboxRepository) ApplyResults(ctx context.Context, results []domain.DispatchResult) error {
	if m.ApplyResultsFunc != nil {
		return m.ApplyResultsFunc(ctx, results)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, res := range results {
		rec, ok := m.records[res.RecordID]
		if !ok {
			return fmt.Errorf("outbox record %s not found", res.RecordID)
		}
		rec.Attempts = res.Attempts
		rec.ProcessedAt = res.ProcessedAt
		rec.NextAttemptAt = res.NextAttemptAt
		rec.LastError = res.LastError
	}
	return nil
}

func (m *MockOutboxRepository) CountPending(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, rec := range m.records {
		if rec.ProcessedAt == nil {
			n++
		}
	}
	return n, nil
}

func (m *MockOutboxRepository) DeleteProcessed(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.records {
		if rec.ProcessedAt != nil && rec.ProcessedAt.Before(before) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// Get returns a copy of a stored record.
func (m *MockOutboxRepository) Get(id string) (*domain.OutboxRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// All returns copies of every stored record ordered by creation.
func (m *MockOutboxRepository) All() []*domain.OutboxRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.OutboxRecord, 0, len(m.records))
	for _, rec := range m.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// MockAccountViewRepository is an in-memory AccountViewRepository.
type MockAccountViewRepository struct {
	mu    sync.RWMutex
	views map[string]domain.AccountView

	UpsertFunc func(ctx context.Context, tx usecase.Transaction, view domain.AccountView) error
}

func NewMockAccountViewRepository() *MockAccountViewRepository {
	return &MockAccountViewRepository{views: make(map[string]domain.AccountView)}
}

func (m *MockAccountViewRepository) Upsert(ctx context.Context, tx usecase.Transaction, view domain.AccountView) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, tx, view)
	}
	deferUntilCommit(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existing, ok := m.views[view.ID]; ok && existing.Version >= view.Version {
			return
		}
		m.views[view.ID] = view
	})
	return nil
}

func (m *MockAccountViewRepository) GetByID(ctx context.Context, id string) (*domain.AccountView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	view, ok := m.views[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &view, nil
}

func (m *MockAccountViewRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.AccountView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.AccountView
	for _, view := range m.views {
		if view.OwnerID == ownerID {
			v := view
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return []*domain.AccountView{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MockIDGenerator is a mock implementation of IDGenerator.
type MockIDGenerator struct {
	GenerateFunc func() string
	counter      int
	mu           sync.Mutex
}

func NewMockIDGenerator() *MockIDGenerator {
	return &MockIDGenerator{}
}

func (m *MockIDGenerator) Generate() string {
	if m.GenerateFunc != nil {
		return m.GenerateFunc()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	return fmt.Sprintf("mock-id-%04d", m.counter)
}

// MockCache is an in-memory Cache.
type MockCache struct {
	mu   sync.Mutex
	data map[string][]byte

	Deleted []string
}

func NewMockCache() *MockCache {
	return &MockCache{data: make(map[string][]byte)}
}

func (m *MockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, usecase.ErrCacheMiss
	}
	return v, nil
}

func (m *MockCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	m.Deleted = append(m.Deleted, key)
	return nil
}

// MockRetrier retries up to Attempts times while the error matches RetryOn.
type MockRetrier struct {
	Attempts int
	RetryOn  error
	Calls    int
}

func (m *MockRetrier) Retry(ctx context.Context, operation func() error) error {
	var err error
	for i := 0; i < m.Attempts; i++ {
		m.Calls++
		err = operation()
		if err == nil || !errors.Is(err, m.RetryOn) {
			return err
		}
	}
	return err
}
