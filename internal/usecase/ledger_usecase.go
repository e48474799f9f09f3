package usecase

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/infrastructure/metrics"
)

// Operation names used in logs and metrics.
const (
	OperationOpen     = "open"
	OperationDeposit  = "deposit"
	OperationWithdraw = "withdraw"
	OperationTransfer = "transfer"
	OperationSuspend  = "suspend"
)

// AccountOperation mutates a freshly loaded account and returns the transaction it produced, if any.
type AccountOperation func(account *domain.Account) (*domain.Transaction, error)

// LedgerUseCase is the unit-of-work façade over the account aggregate. Every command
// loads the account by replay, applies one operation and persists events, the
// materialized view and one outbox record per event in a single database transaction.
type LedgerUseCase struct {
	txManager  TransactionManager
	eventStore EventStore
	outboxRepo OutboxRepository
	viewRepo   AccountViewRepository
	idGen      IDGenerator

	cache   Cache
	retrier Retrier
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     Clock
}

// Option configures optional LedgerUseCase collaborators.
type Option func(*LedgerUseCase)

// WithCache invalidates account views in cache after every successful write.
func WithCache(cache Cache) Option {
	return func(uc *LedgerUseCase) { uc.cache = cache }
}

// WithRetrier retries whole units of work on transient storage errors.
func WithRetrier(retrier Retrier) Option {
	return func(uc *LedgerUseCase) { uc.retrier = retrier }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(uc *LedgerUseCase) { uc.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(uc *LedgerUseCase) { uc.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now Clock) Option {
	return func(uc *LedgerUseCase) { uc.now = now }
}

// NewLedgerUseCase creates a new LedgerUseCase.
func NewLedgerUseCase(
	txManager TransactionManager,
	eventStore EventStore,
	outboxRepo OutboxRepository,
	viewRepo AccountViewRepository,
	idGen IDGenerator,
	opts ...Option,
) *LedgerUseCase {
	uc := &LedgerUseCase{
		txManager:  txManager,
		eventStore: eventStore,
		outboxRepo: outboxRepo,
		viewRepo:   viewRepo,
		idGen:      idGen,
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// OpenAccountInput represents input for opening an account.
type OpenAccountInput struct {
	OwnerID  string
	Currency string
}

// MovementInput represents input for a deposit or withdrawal.
// An empty Currency defaults to the account's currency.
type MovementInput struct {
	AccountID   string
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// OpenAccount creates a new active account with a zero balance.
func (uc *LedgerUseCase) OpenAccount(ctx context.Context, input OpenAccountInput) (*domain.Account, error) {
	start := time.Now()

	var account *domain.Account
	err := uc.retry(ctx, func() error {
		acc, err := domain.NewAccount(uc.idGen.Generate(), uc.newAccountNumber(), input.OwnerID, input.Currency, uc.now())
		if err != nil {
			return err
		}
		if err := uc.persist(ctx, acc); err != nil {
			return err
		}
		account = acc
		return nil
	})
	if err != nil {
		uc.recordFailure(OperationOpen, err)
		return nil, err
	}

	uc.recordSuccess(OperationOpen, start)
	if uc.metrics != nil {
		uc.metrics.AccountsOpened.Inc()
	}
	uc.logger.Info().
		Str("account_id", account.ID).
		Str("account_number", account.AccountNumber).
		Str("currency", account.Currency()).
		Msg("account opened")

	return account, nil
}

// Execute loads account id by replaying its events, applies op and persists the result
// as one unit. A stale version surfaces as domain.ErrConcurrencyConflict.
func (uc *LedgerUseCase) Execute(ctx context.Context, id string, op AccountOperation) (*domain.Transaction, error) {
	var result *domain.Transaction
	err := uc.retry(ctx, func() error {
		account, err := uc.load(ctx, id)
		if err != nil {
			return err
		}

		tx, err := op(account)
		if err != nil {
			return err
		}

		if err := uc.persist(ctx, account); err != nil {
			return err
		}
		result = tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Deposit credits an account.
func (uc *LedgerUseCase) Deposit(ctx context.Context, input MovementInput) (*domain.Transaction, error) {
	return uc.movement(ctx, OperationDeposit, input, func(account *domain.Account, amount domain.Money, now time.Time) (*domain.Transaction, error) {
		return account.Deposit(uc.idGen.Generate(), amount, input.Description, now)
	})
}

// Withdraw debits an account.
func (uc *LedgerUseCase) Withdraw(ctx context.Context, input MovementInput) (*domain.Transaction, error) {
	return uc.movement(ctx, OperationWithdraw, input, func(account *domain.Account, amount domain.Money, now time.Time) (*domain.Transaction, error) {
		return account.Withdraw(uc.idGen.Generate(), amount, input.Description, now)
	})
}

// Suspend moves an active account to suspended.
func (uc *LedgerUseCase) Suspend(ctx context.Context, accountID, reason string) error {
	start := time.Now()

	_, err := uc.Execute(ctx, accountID, func(account *domain.Account) (*domain.Transaction, error) {
		return nil, account.Suspend(reason, uc.now())
	})
	if err != nil {
		uc.recordFailure(OperationSuspend, err)
		return err
	}

	uc.recordSuccess(OperationSuspend, start)
	uc.logger.Info().Str("account_id", accountID).Str("reason", reason).Msg("account suspended")
	return nil
}

func (uc *LedgerUseCase) movement(
	ctx context.Context,
	operation string,
	input MovementInput,
	apply func(account *domain.Account, amount domain.Money, now time.Time) (*domain.Transaction, error),
) (*domain.Transaction, error) {
	start := time.Now()

	tx, err := uc.Execute(ctx, input.AccountID, func(account *domain.Account) (*domain.Transaction, error) {
		amount, err := moneyFor(account, input.Amount, input.Currency)
		if err != nil {
			return nil, err
		}
		return apply(account, amount, uc.now())
	})
	if err != nil {
		uc.recordFailure(operation, err)
		return nil, err
	}

	uc.recordSuccess(operation, start)
	uc.logger.Debug().
		Str("operation", operation).
		Str("account_id", input.AccountID).
		Str("transaction_id", tx.ID).
		Str("amount", tx.Amount.String()).
		Msg("account operation applied")
	return tx, nil
}

func (uc *LedgerUseCase) load(ctx context.Context, id string) (*domain.Account, error) {
	events, err := uc.eventStore.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.ReplayAccount(events)
}

// persist writes the pending events, views and outbox records of accounts in one
// database transaction. Accounts are written in ascending id order.
func (uc *LedgerUseCase) persist(ctx context.Context, accounts ...*domain.Account) error {
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })

	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	now := uc.now()
	var appended []domain.DomainEvent
	for _, account := range accounts {
		events := account.PendingEvents()
		if len(events) == 0 {
			continue
		}

		if err := uc.eventStore.Append(txCtx, tx, account.ID, events, account.ExpectedVersion()); err != nil {
			return err
		}

		if err := uc.viewRepo.Upsert(txCtx, tx, account.View()); err != nil {
			return err
		}

		for _, evt := range events {
			record, err := domain.NewOutboxRecord(uc.idGen.Generate(), evt, now)
			if err != nil {
				return err
			}
			if err := uc.outboxRepo.Enqueue(txCtx, tx, record); err != nil {
				return err
			}
		}
		appended = append(appended, events...)
	}

	if err := tx.Commit(txCtx); err != nil {
		return err
	}

	for _, account := range accounts {
		account.ClearPendingEvents()
		uc.invalidate(ctx, account.ID)
	}

	if uc.metrics != nil {
		for _, evt := range appended {
			uc.metrics.EventsAppended.WithLabelValues(string(evt.Type())).Inc()
		}
		uc.metrics.OutboxEnqueued.Add(float64(len(appended)))
	}

	return nil
}

func (uc *LedgerUseCase) invalidate(ctx context.Context, accountID string) {
	if uc.cache == nil {
		return
	}
	if err := uc.cache.Delete(ctx, AccountCacheKey(accountID)); err != nil {
		uc.logger.Warn().Err(err).Str("account_id", accountID).Msg("failed to invalidate account cache")
	}
}

func (uc *LedgerUseCase) retry(ctx context.Context, operation func() error) error {
	if uc.retrier == nil {
		return operation()
	}
	return uc.retrier.Retry(ctx, operation)
}

func (uc *LedgerUseCase) newAccountNumber() string {
	id := uc.idGen.Generate()
	// ULID random component
	if len(id) > 12 {
		id = id[len(id)-12:]
	}
	return AccountNumberPrefix + id
}

func (uc *LedgerUseCase) recordSuccess(operation string, start time.Time) {
	if uc.metrics == nil {
		return
	}
	uc.metrics.AccountOperations.WithLabelValues(operation).Inc()
	uc.metrics.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (uc *LedgerUseCase) recordFailure(operation string, err error) {
	kind := ErrorKind(err)
	if kind == "concurrency_conflict" {
		uc.logger.Warn().Err(err).Str("operation", operation).Msg("concurrency conflict, caller should reload and retry")
	}
	if uc.metrics == nil {
		return
	}
	uc.metrics.OperationErrors.WithLabelValues(operation, kind).Inc()
	if kind == "concurrency_conflict" {
		uc.metrics.ConcurrencyConflicts.Inc()
	}
}

// ErrorKind classifies err into a short label for metrics and exit codes.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrAccountNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrCurrencyMismatch):
		return "currency_mismatch"
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return "invalid_state_transition"
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidCurrency),
		errors.Is(err, domain.ErrSameAccount),
		errors.Is(err, domain.ErrInvalidOperation):
		return "invalid_operation"
	case errors.Is(err, domain.ErrPersistenceUnavailable):
		return "persistence_unavailable"
	default:
		return "internal"
	}
}

func moneyFor(account *domain.Account, amount decimal.Decimal, currency string) (domain.Money, error) {
	if currency == "" {
		currency = account.Currency()
	}
	return domain.NewMoney(amount, currency)
}
