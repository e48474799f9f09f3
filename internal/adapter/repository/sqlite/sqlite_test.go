package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/usecase"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "ledger.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func newAccount(t *testing.T, id string) *domain.Account {
	t.Helper()

	acc, err := domain.NewAccount(id, "ACC-"+id, "owner-1", "ARS", testNow)
	require.NoError(t, err)
	return acc
}

func appendCommitted(t *testing.T, db *gorm.DB, acc *domain.Account) {
	t.Helper()
	ctx := context.Background()

	tx, err := NewTxManager(db).Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, NewEventStore(db).Append(ctx, tx, acc.ID, acc.PendingEvents(), acc.ExpectedVersion()))
	require.NoError(t, tx.Commit(ctx))
	acc.ClearPendingEvents()
}

func TestEventStoreAppendAndLoad(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := NewEventStore(db)

	acc := newAccount(t, "acc-1")
	_, err := acc.Deposit("tx-1", domain.MustMoney("1000", "ARS"), "", testNow)
	require.NoError(t, err)
	_, err = acc.Withdraw("tx-2", domain.MustMoney("400", "ARS"), "", testNow)
	require.NoError(t, err)
	appendCommitted(t, db, acc)

	events, err := store.Load(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, events, 3)

	replayed, err := domain.ReplayAccount(events)
	require.NoError(t, err)
	assert.True(t, replayed.Balance.Equal(domain.MustMoney("600", "ARS")))
	assert.Equal(t, int64(3), replayed.Version)

	tail, err := store.LoadFrom(ctx, "acc-1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, domain.EventTypeMoneyWithdrawn, tail[0].Type())

	version, err := store.CurrentVersion(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), version)

	empty, err := store.Load(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEventStoreStaleAppendConflicts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := NewEventStore(db)

	appendCommitted(t, db, newAccount(t, "acc-1"))

	stale := newAccount(t, "acc-1")
	tx, err := NewTxManager(db).Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	err = store.Append(ctx, tx, stale.ID, stale.PendingEvents(), 0)
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	require.NoError(t, tx.Rollback(ctx))

	version, err := store.CurrentVersion(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestEventStoreUniqueSlotIsConflict(t *testing.T) {
	db := openTestDB(t)
	appendCommitted(t, db, newAccount(t, "acc-1"))

	// Bypass the version read to hit the unique index directly.
	dup := eventModel{ID: "other", AggregateID: "acc-1", AggregateType: "account", Version: 1, EventType: "account.created", Payload: []byte(`{}`), OccurredAt: testNow}
	err := db.Create(&dup).Error
	require.Error(t, err)
	assert.ErrorIs(t, classify("append", err), domain.ErrConcurrencyConflict)
}

func TestOutboxRepositoryLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewOutboxRepository(db)

	acc := newAccount(t, "acc-1")
	_, err := acc.Deposit("tx-1", domain.MustMoney("10", "ARS"), "", testNow)
	require.NoError(t, err)

	tx, err := NewTxManager(db).Begin(ctx)
	require.NoError(t, err)
	for i, evt := range acc.PendingEvents() {
		rec, err := domain.NewOutboxRecord([]string{"out-1", "out-2"}[i], evt, testNow.Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, err)
		require.NoError(t, repo.Enqueue(ctx, tx, rec))
	}
	require.NoError(t, tx.Commit(ctx))

	pending, err := repo.FetchPending(ctx, 10, testNow.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "out-1", pending[0].ID)
	assert.Equal(t, "ledger.account_created.v1", pending[0].MessageType)

	retryAt := testNow.Add(time.Minute)
	require.NoError(t, repo.ScheduleRetry(ctx, "out-2", 1, retryAt, "bus down"))
	require.NoError(t, repo.MarkProcessed(ctx, "out-1", testNow, nil))

	pending, err = repo.FetchPending(ctx, 10, testNow.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, pending, "retry is not due yet")

	pending, err = repo.FetchPending(ctx, 10, retryAt)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	require.NotNil(t, pending[0].LastError)
	assert.Equal(t, "bus down", *pending[0].LastError)

	count, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	deleted, err := repo.DeleteProcessed(ctx, testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestOutboxRepositoryApplyResults(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewOutboxRepository(db)

	acc := newAccount(t, "acc-1")
	tx, err := NewTxManager(db).Begin(ctx)
	require.NoError(t, err)
	for _, id := range []string{"out-1", "out-2", "out-3"} {
		rec, err := domain.NewOutboxRecord(id, acc.PendingEvents()[0], testNow)
		require.NoError(t, err)
		require.NoError(t, repo.Enqueue(ctx, tx, rec))
	}
	require.NoError(t, tx.Commit(ctx))

	processed := testNow
	retryAt := testNow.Add(time.Minute)
	lastErr := "boom"
	err = repo.ApplyResults(ctx, []domain.DispatchResult{
		{RecordID: "out-1", Status: domain.DispatchStatusPublished, Attempts: 1, ProcessedAt: &processed},
		{RecordID: "out-2", Status: domain.DispatchStatusRetry, Attempts: 1, NextAttemptAt: &retryAt, LastError: &lastErr},
		{RecordID: "out-3", Status: domain.DispatchStatusDeadLettered, Attempts: 5, ProcessedAt: &processed, LastError: &lastErr},
	})
	require.NoError(t, err)

	count, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// A bad result rolls back the whole batch.
	err = repo.ApplyResults(ctx, []domain.DispatchResult{
		{RecordID: "out-2", Status: domain.DispatchStatusPublished, Attempts: 2, ProcessedAt: &processed},
		{RecordID: "out-2", Status: "lost"},
	})
	require.ErrorIs(t, err, domain.ErrInvalidOperation)

	count, err = repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestAccountViewRepositoryNumberCollision(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewAccountViewRepository(db)
	txm := NewTxManager(db)

	tx, err := txm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(ctx, tx, newAccount(t, "acc-1").View()))
	require.NoError(t, tx.Commit(ctx))

	clash, err := domain.NewAccount("acc-2", "ACC-acc-1", "owner-2", "ARS", testNow)
	require.NoError(t, err)

	tx, err = txm.Begin(ctx)
	require.NoError(t, err)
	err = repo.Upsert(ctx, tx, clash.View())
	_ = tx.Rollback(ctx)

	require.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	assert.NotErrorIs(t, err, domain.ErrConcurrencyConflict)
}

func TestAccountViewRepositoryVersionGuard(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewAccountViewRepository(db)
	txm := NewTxManager(db)

	upsert := func(view domain.AccountView) {
		tx, err := txm.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, repo.Upsert(ctx, tx, view))
		require.NoError(t, tx.Commit(ctx))
	}

	acc := newAccount(t, "acc-1")
	v1 := acc.View()
	upsert(v1)

	_, err := acc.Deposit("tx-1", domain.MustMoney("25.50", "ARS"), "", testNow)
	require.NoError(t, err)
	upsert(acc.View())

	// A late writer with an older snapshot must not regress the row.
	upsert(v1)

	got, err := repo.GetByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, got.Balance.Amount.Equal(decimal.RequireFromString("25.5")))

	views, err := repo.ListByOwner(ctx, "owner-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, views, 1)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrAccountNotFound))
}

func TestLedgerUseCaseOnSQLite(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	views := NewAccountViewRepository(db)
	outbox := NewOutboxRepository(db)
	ledger := usecase.NewLedgerUseCase(NewTxManager(db), NewEventStore(db), outbox, views, &seqIDs{})

	a, err := ledger.OpenAccount(ctx, usecase.OpenAccountInput{OwnerID: "owner-1", Currency: "ARS"})
	require.NoError(t, err)
	b, err := ledger.OpenAccount(ctx, usecase.OpenAccountInput{OwnerID: "owner-1", Currency: "ARS"})
	require.NoError(t, err)

	_, err = ledger.Deposit(ctx, usecase.MovementInput{AccountID: a.ID, Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)
	_, err = ledger.Transfer(ctx, usecase.TransferInput{FromAccountID: a.ID, ToAccountID: b.ID, Amount: decimal.NewFromInt(300)})
	require.NoError(t, err)

	_, err = ledger.Withdraw(ctx, usecase.MovementInput{AccountID: b.ID, Amount: decimal.NewFromInt(301)})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	aView, err := views.GetByID(ctx, a.ID)
	require.NoError(t, err)
	bView, err := views.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, aView.Balance.Equal(domain.MustMoney("700", "ARS")))
	assert.True(t, bView.Balance.Equal(domain.MustMoney("300", "ARS")))

	count, err := outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

type seqIDs struct{ n int }

func (s *seqIDs) Generate() string {
	s.n++
	return fmt.Sprintf("id-%04d", s.n)
}
