package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/infrastructure/metrics"
	"github.com/iho/eventledger/internal/usecase"
	"github.com/iho/eventledger/internal/usecase/mocks"
)

type ledgerFixture struct {
	uc      *usecase.LedgerUseCase
	txm     *mocks.MockTransactionManager
	store   *mocks.MockEventStore
	outbox  *mocks.MockOutboxRepository
	views   *mocks.MockAccountViewRepository
	cache   *mocks.MockCache
	metrics *metrics.Metrics
}

func newLedgerFixture(opts ...usecase.Option) *ledgerFixture {
	f := &ledgerFixture{
		txm:     mocks.NewMockTransactionManager(),
		store:   mocks.NewMockEventStore(),
		outbox:  mocks.NewMockOutboxRepository(),
		views:   mocks.NewMockAccountViewRepository(),
		cache:   mocks.NewMockCache(),
		metrics: metrics.NewWithRegisterer(prometheus.NewRegistry()),
	}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	opts = append([]usecase.Option{
		usecase.WithCache(f.cache),
		usecase.WithMetrics(f.metrics),
		usecase.WithClock(func() time.Time { now = now.Add(time.Second); return now }),
	}, opts...)
	f.uc = usecase.NewLedgerUseCase(f.txm, f.store, f.outbox, f.views, mocks.NewMockIDGenerator(), opts...)
	return f
}

func (f *ledgerFixture) open(t *testing.T, currency string) *domain.Account {
	t.Helper()
	acc, err := f.uc.OpenAccount(context.Background(), usecase.OpenAccountInput{OwnerID: "owner-1", Currency: currency})
	if err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}
	return acc
}

func (f *ledgerFixture) deposit(t *testing.T, id, amount string) {
	t.Helper()
	_, err := f.uc.Deposit(context.Background(), usecase.MovementInput{AccountID: id, Amount: decimal.RequireFromString(amount)})
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
}

func TestLedgerUseCase_OpenAccount(t *testing.T) {
	f := newLedgerFixture()

	acc := f.open(t, "ars")

	if acc.Version != 1 || acc.HasPendingEvents() {
		t.Fatalf("expected saved account at version 1, got v%d pending=%v", acc.Version, acc.HasPendingEvents())
	}
	if acc.Currency() != "ARS" || acc.AccountNumber == "" {
		t.Fatalf("unexpected account %+v", acc)
	}

	events, _ := f.store.Load(context.Background(), acc.ID)
	if len(events) != 1 || events[0].Type() != domain.EventTypeAccountCreated {
		t.Fatalf("expected AccountCreated in store, got %+v", events)
	}

	view, err := f.views.GetByID(context.Background(), acc.ID)
	if err != nil || view.Version != 1 {
		t.Fatalf("expected view at version 1, got %+v, %v", view, err)
	}

	records := f.outbox.All()
	if len(records) != 1 || records[0].MessageType != "ledger.account_created.v1" {
		t.Fatalf("expected one account_created outbox record, got %+v", records)
	}

	if got := testutil.ToFloat64(f.metrics.AccountsOpened); got != 1 {
		t.Fatalf("expected AccountsOpened=1, got %v", got)
	}
}

func TestLedgerUseCase_OpenAccountInvalidCurrency(t *testing.T) {
	f := newLedgerFixture()

	_, err := f.uc.OpenAccount(context.Background(), usecase.OpenAccountInput{OwnerID: "owner-1", Currency: "XXX"})
	if !errors.Is(err, domain.ErrInvalidCurrency) {
		t.Fatalf("expected ErrInvalidCurrency, got %v", err)
	}
	if len(f.txm.Transactions) != 0 {
		t.Fatalf("expected no transaction to be started")
	}
}

func TestLedgerUseCase_DepositWithdrawScenario(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()
	acc := f.open(t, "ARS")

	f.deposit(t, acc.ID, "1000")
	wd, err := f.uc.Withdraw(ctx, usecase.MovementInput{AccountID: acc.ID, Amount: decimal.NewFromInt(400), Currency: "ARS"})
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if !wd.BalanceAfter.Equal(domain.MustMoney("600", "ARS")) {
		t.Fatalf("expected balance after 600 ARS, got %s", wd.BalanceAfter)
	}

	events, _ := f.store.Load(ctx, acc.ID)
	replayed, err := domain.ReplayAccount(events)
	if err != nil {
		t.Fatalf("ReplayAccount: %v", err)
	}
	if !replayed.Balance.Equal(domain.MustMoney("600", "ARS")) || replayed.Version != 3 || len(replayed.Transactions) != 2 {
		t.Fatalf("unexpected replayed state: %s v%d txs=%d", replayed.Balance, replayed.Version, len(replayed.Transactions))
	}

	view, _ := f.views.GetByID(ctx, acc.ID)
	if view.Version != 3 || !view.Balance.Equal(domain.MustMoney("600", "ARS")) {
		t.Fatalf("unexpected view %+v", view)
	}

	if len(f.outbox.All()) != 3 {
		t.Fatalf("expected 3 outbox records, got %d", len(f.outbox.All()))
	}
	if got := testutil.ToFloat64(f.metrics.AccountOperations.WithLabelValues(usecase.OperationDeposit)); got != 1 {
		t.Fatalf("expected one deposit metric, got %v", got)
	}
}

func TestLedgerUseCase_OperationErrors(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()
	acc := f.open(t, "ARS")
	f.deposit(t, acc.ID, "100")

	tests := []struct {
		name    string
		run     func() error
		wantErr error
	}{
		{
			name: "unknown account",
			run: func() error {
				_, err := f.uc.Deposit(ctx, usecase.MovementInput{AccountID: "missing", Amount: decimal.NewFromInt(1)})
				return err
			},
			wantErr: domain.ErrAccountNotFound,
		},
		{
			name: "insufficient funds",
			run: func() error {
				_, err := f.uc.Withdraw(ctx, usecase.MovementInput{AccountID: acc.ID, Amount: decimal.NewFromInt(500)})
				return err
			},
			wantErr: domain.ErrInsufficientFunds,
		},
		{
			name: "currency mismatch",
			run: func() error {
				_, err := f.uc.Deposit(ctx, usecase.MovementInput{AccountID: acc.ID, Amount: decimal.NewFromInt(5), Currency: "USD"})
				return err
			},
			wantErr: domain.ErrCurrencyMismatch,
		},
		{
			name: "negative amount",
			run: func() error {
				_, err := f.uc.Deposit(ctx, usecase.MovementInput{AccountID: acc.ID, Amount: decimal.NewFromInt(-5)})
				return err
			},
			wantErr: domain.ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if v, _ := f.store.CurrentVersion(ctx, acc.ID); v != 2 {
				t.Fatalf("expected version to stay 2, got %d", v)
			}
		})
	}

	if got := testutil.ToFloat64(f.metrics.OperationErrors.WithLabelValues(usecase.OperationWithdraw, "insufficient_funds")); got != 1 {
		t.Fatalf("expected insufficient_funds metric, got %v", got)
	}
}

func TestLedgerUseCase_SuspendThenWithdraw(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()
	acc := f.open(t, "ARS")
	f.deposit(t, acc.ID, "50")

	if err := f.uc.Suspend(ctx, acc.ID, "chargeback"); err != nil {
		t.Fatalf("Suspend: %v", err)
	}

	_, err := f.uc.Withdraw(ctx, usecase.MovementInput{AccountID: acc.ID, Amount: decimal.NewFromInt(10)})
	if !errors.Is(err, domain.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}

	if err := f.uc.Suspend(ctx, acc.ID, "again"); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}

	view, _ := f.views.GetByID(ctx, acc.ID)
	if view.Status != domain.AccountStatusSuspended || !view.Balance.Equal(domain.MustMoney("50", "ARS")) {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestLedgerUseCase_AtomicUnitRollsBackOnOutboxFailure(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()
	acc := f.open(t, "ARS")

	f.outbox.EnqueueFunc = func(ctx context.Context, tx usecase.Transaction, record *domain.OutboxRecord) error {
		return domain.ErrPersistenceUnavailable
	}

	_, err := f.uc.Deposit(ctx, usecase.MovementInput{AccountID: acc.ID, Amount: decimal.NewFromInt(10)})
	if !errors.Is(err, domain.ErrPersistenceUnavailable) {
		t.Fatalf("expected ErrPersistenceUnavailable, got %v", err)
	}

	if v, _ := f.store.CurrentVersion(ctx, acc.ID); v != 1 {
		t.Fatalf("expected no events appended, store at version %d", v)
	}
	view, _ := f.views.GetByID(ctx, acc.ID)
	if view.Version != 1 {
		t.Fatalf("expected view untouched, got version %d", view.Version)
	}
	last := f.txm.Transactions[len(f.txm.Transactions)-1]
	if !last.RolledBack || last.Committed {
		t.Fatalf("expected last transaction rolled back")
	}
}

func TestLedgerUseCase_ConcurrencyConflict(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()
	acc := f.open(t, "ARS")

	// Simulate another writer landing between load and append.
	f.store.LoadFunc = func(ctx context.Context, id string) ([]domain.DomainEvent, error) {
		f.store.LoadFunc = nil
		events, err := f.store.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if _, err := f.uc.Deposit(ctx, usecase.MovementInput{AccountID: id, Amount: decimal.NewFromInt(1)}); err != nil {
			t.Fatalf("concurrent deposit: %v", err)
		}
		return events, nil
	}

	_, err := f.uc.Deposit(ctx, usecase.MovementInput{AccountID: acc.ID, Amount: decimal.NewFromInt(5)})
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
	if v, _ := f.store.CurrentVersion(ctx, acc.ID); v != 2 {
		t.Fatalf("expected only the concurrent write to land, got version %d", v)
	}
	if got := testutil.ToFloat64(f.metrics.ConcurrencyConflicts); got != 1 {
		t.Fatalf("expected one conflict recorded, got %v", got)
	}
}

func TestLedgerUseCase_RetrierReloadsAggregate(t *testing.T) {
	retrier := &mocks.MockRetrier{Attempts: 3, RetryOn: domain.ErrConcurrencyConflict}
	f := newLedgerFixture(usecase.WithRetrier(retrier))
	ctx := context.Background()
	acc := f.open(t, "ARS")

	conflicts := 1
	f.store.AppendFunc = func(ctx context.Context, tx usecase.Transaction, id string, events []domain.DomainEvent, expected int64) error {
		if conflicts > 0 {
			conflicts--
			return domain.ErrConcurrencyConflict
		}
		f.store.AppendFunc = nil
		return f.store.Append(ctx, tx, id, events, expected)
	}

	if _, err := f.uc.Deposit(ctx, usecase.MovementInput{AccountID: acc.ID, Amount: decimal.NewFromInt(5)}); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if retrier.Calls != 3 {
		// open + failed deposit + retried deposit
		t.Fatalf("expected 3 retrier calls, got %d", retrier.Calls)
	}
	if v, _ := f.store.CurrentVersion(ctx, acc.ID); v != 2 {
		t.Fatalf("expected version 2, got %d", v)
	}
}

func TestLedgerUseCase_InvalidatesCache(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()
	acc := f.open(t, "ARS")

	stale, _ := json.Marshal(acc.View())
	_ = f.cache.Set(ctx, usecase.AccountCacheKey(acc.ID), stale, time.Minute)

	f.deposit(t, acc.ID, "10")

	if _, err := f.cache.Get(ctx, usecase.AccountCacheKey(acc.ID)); !errors.Is(err, usecase.ErrCacheMiss) {
		t.Fatalf("expected cache entry to be invalidated, got %v", err)
	}
}

func TestErrorKind(t *testing.T) {
	tests := map[error]string{
		domain.ErrAccountNotFound:        "not_found",
		domain.ErrConcurrencyConflict:    "concurrency_conflict",
		domain.ErrInsufficientFunds:      "insufficient_funds",
		domain.ErrCurrencyMismatch:       "currency_mismatch",
		domain.ErrInvalidStateTransition: "invalid_state_transition",
		domain.ErrSameAccount:            "invalid_operation",
		domain.ErrPersistenceUnavailable: "persistence_unavailable",
		errors.New("boom"):               "internal",
	}
	for err, want := range tests {
		if got := usecase.ErrorKind(err); got != want {
			t.Errorf("ErrorKind(%v) = %q, want %q", err, got, want)
		}
	}
}
