package domain

import (
	"fmt"
	"strings"
	"time"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

// Account statuses
const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
	AccountStatusClosed    AccountStatus = "closed"
)

// MaxReasonLength bounds the free-text suspension reason.
const MaxReasonLength = 255

// Account is an event-sourced monetary account. State changes only through its
// operations, each of which raises exactly one event and bumps Version by one.
type Account struct {
	AggregateRoot

	OwnerID       string
	AccountNumber string
	Balance       Money
	Status        AccountStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Transactions  []Transaction

	savedTransactions int
}

// AccountView is the materialized read model of an account.
type AccountView struct {
	ID            string        `json:"id"`
	OwnerID       string        `json:"owner_id"`
	AccountNumber string        `json:"account_number"`
	Currency      string        `json:"currency"`
	Balance       Money         `json:"balance"`
	Status        AccountStatus `json:"status"`
	Version       int64         `json:"version"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NewAccount opens an active account with a zero balance and raises AccountCreated.
func NewAccount(id, accountNumber, ownerID, currency string, now time.Time) (*Account, error) {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(accountNumber) == "" {
		return nil, fmt.Errorf("%w: account id and number are required", ErrInvalidOperation)
	}
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrInvalidOperation)
	}
	currency = NormalizeCurrency(currency)
	if err := ValidateCurrency(currency); err != nil {
		return nil, err
	}

	a := &Account{}
	if err := a.raise(id, AccountCreated{
		AccountID:     id,
		OwnerID:       ownerID,
		AccountNumber: accountNumber,
		Currency:      currency,
	}, now); err != nil {
		return nil, err
	}
	return a, nil
}

// ReplayAccount rebuilds an account by folding its event stream from empty state.
func ReplayAccount(events []DomainEvent) (*Account, error) {
	if len(events) == 0 {
		return nil, ErrAccountNotFound
	}

	a := &Account{}
	for _, evt := range events {
		if evt.Version != a.Version+1 {
			return nil, fmt.Errorf("%w: expected version %d, got %d", ErrCorruptEventStream, a.Version+1, evt.Version)
		}
		if a.ID != "" && evt.AggregateID != a.ID {
			return nil, fmt.Errorf("%w: event %s belongs to %s", ErrCorruptEventStream, evt.ID, evt.AggregateID)
		}
		if err := a.apply(evt); err != nil {
			return nil, err
		}
	}
	a.savedTransactions = len(a.Transactions)
	return a, nil
}

// Currency returns the account's currency.
func (a *Account) Currency() string {
	return a.Balance.Currency
}

// IsActive reports whether the account accepts balance operations.
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// Deposit credits amount and raises MoneyDeposited.
func (a *Account) Deposit(txID string, amount Money, description string, now time.Time) (*Transaction, error) {
	if err := a.checkMovement(txID, amount, description); err != nil {
		return nil, err
	}

	balance, err := a.Balance.Add(amount)
	if err != nil {
		return nil, err
	}

	if err := a.raise(a.ID, MoneyDeposited{
		AccountID:     a.ID,
		TransactionID: txID,
		Amount:        amount,
		BalanceAfter:  balance,
		Description:   description,
	}, now); err != nil {
		return nil, err
	}
	return a.lastTransaction(), nil
}

// Withdraw debits amount and raises MoneyWithdrawn.
func (a *Account) Withdraw(txID string, amount Money, description string, now time.Time) (*Transaction, error) {
	if err := a.checkMovement(txID, amount, description); err != nil {
		return nil, err
	}

	balance, err := a.Balance.Sub(amount)
	if err != nil {
		return nil, err
	}

	if err := a.raise(a.ID, MoneyWithdrawn{
		AccountID:     a.ID,
		TransactionID: txID,
		Amount:        amount,
		BalanceAfter:  balance,
		Description:   description,
	}, now); err != nil {
		return nil, err
	}
	return a.lastTransaction(), nil
}

// Transfer moves amount from a to destination. The source raises MoneyTransferred and
// the destination raises TransferReceived, so both streams replay to the same balances.
// It returns the debit transaction recorded on the source.
func (a *Account) Transfer(destination *Account, debitTxID, creditTxID string, amount Money, description string, now time.Time) (*Transaction, error) {
	if destination == nil {
		return nil, fmt.Errorf("%w: destination account is required", ErrInvalidOperation)
	}
	if a.ID == destination.ID {
		return nil, ErrSameAccount
	}
	if strings.TrimSpace(creditTxID) == "" || debitTxID == creditTxID {
		return nil, fmt.Errorf("%w: distinct transaction ids are required", ErrInvalidOperation)
	}
	if err := a.checkMovement(debitTxID, amount, description); err != nil {
		return nil, err
	}
	if err := destination.requireActive(); err != nil {
		return nil, err
	}
	if destination.Currency() != a.Currency() {
		return nil, fmt.Errorf("%w: %s and %s", ErrCurrencyMismatch, a.Currency(), destination.Currency())
	}

	sourceBalance, err := a.Balance.Sub(amount)
	if err != nil {
		return nil, err
	}
	destinationBalance, err := destination.Balance.Add(amount)
	if err != nil {
		return nil, err
	}

	if err := a.raise(a.ID, MoneyTransferred{
		AccountID:            a.ID,
		TransactionID:        debitTxID,
		DestinationAccountID: destination.ID,
		Amount:               amount,
		BalanceAfter:         sourceBalance,
		Description:          description,
	}, now); err != nil {
		return nil, err
	}
	if err := destination.raise(destination.ID, TransferReceived{
		AccountID:           destination.ID,
		TransactionID:       creditTxID,
		SourceAccountID:     a.ID,
		SourceTransactionID: debitTxID,
		Amount:              amount,
		BalanceAfter:        destinationBalance,
		Description:         description,
	}, now); err != nil {
		return nil, err
	}
	return a.lastTransaction(), nil
}

// Suspend moves an active account to suspended and raises AccountSuspended.
func (a *Account) Suspend(reason string, now time.Time) error {
	if a.Status != AccountStatusActive {
		return fmt.Errorf("%w: cannot suspend %s account %s", ErrInvalidStateTransition, a.Status, a.ID)
	}
	if len(reason) > MaxReasonLength {
		return fmt.Errorf("%w: reason exceeds %d characters", ErrInvalidOperation, MaxReasonLength)
	}

	return a.raise(a.ID, AccountSuspended{AccountID: a.ID, Reason: reason}, now)
}

// NewTransactions returns transactions created since the last save.
func (a *Account) NewTransactions() []Transaction {
	out := make([]Transaction, len(a.Transactions)-a.savedTransactions)
	copy(out, a.Transactions[a.savedTransactions:])
	return out
}

// ClearPendingEvents marks pending events and transactions as saved.
func (a *Account) ClearPendingEvents() {
	a.AggregateRoot.ClearPendingEvents()
	a.savedTransactions = len(a.Transactions)
}

// View returns the materialized read model of the account.
func (a *Account) View() AccountView {
	return AccountView{
		ID:            a.ID,
		OwnerID:       a.OwnerID,
		AccountNumber: a.AccountNumber,
		Currency:      a.Currency(),
		Balance:       a.Balance,
		Status:        a.Status,
		Version:       a.Version,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func (a *Account) requireActive() error {
	if !a.IsActive() {
		return fmt.Errorf("%w: account %s is %s", ErrInvalidOperation, a.ID, a.Status)
	}
	return nil
}

func (a *Account) checkMovement(txID string, amount Money, description string) error {
	if err := a.requireActive(); err != nil {
		return err
	}
	if strings.TrimSpace(txID) == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidOperation)
	}
	if amount.Currency != a.Currency() {
		return fmt.Errorf("%w: account is %s, amount is %s", ErrCurrencyMismatch, a.Currency(), amount.Currency)
	}
	if err := ValidateAmount(amount.Amount); err != nil {
		return err
	}
	return ValidateDescription(description)
}

func (a *Account) lastTransaction() *Transaction {
	tx := a.Transactions[len(a.Transactions)-1]
	return &tx
}

// raise builds the next event, applies it and records it as pending.
func (a *Account) raise(aggregateID string, payload EventPayload, now time.Time) error {
	evt := DomainEvent{
		ID:          NewEventID(),
		AggregateID: aggregateID,
		Version:     a.Version + 1,
		OccurredAt:  now.UTC(),
		Payload:     payload,
	}
	if err := a.apply(evt); err != nil {
		return err
	}
	a.recordEvent(evt)
	return nil
}

// apply is the single state transition used by live operations and replay.
func (a *Account) apply(evt DomainEvent) error {
	switch p := evt.Payload.(type) {
	case AccountCreated:
		a.ID = p.AccountID
		a.OwnerID = p.OwnerID
		a.AccountNumber = p.AccountNumber
		a.Balance = ZeroMoney(p.Currency)
		a.Status = AccountStatusActive
		a.CreatedAt = evt.OccurredAt
	case MoneyDeposited:
		a.Balance = p.BalanceAfter
		a.Transactions = append(a.Transactions, Transaction{
			ID:           p.TransactionID,
			AccountID:    p.AccountID,
			Amount:       p.Amount,
			BalanceAfter: p.BalanceAfter,
			Type:         TransactionTypeDeposit,
			Description:  p.Description,
			CreatedAt:    evt.OccurredAt,
		})
	case MoneyWithdrawn:
		a.Balance = p.BalanceAfter
		a.Transactions = append(a.Transactions, Transaction{
			ID:           p.TransactionID,
			AccountID:    p.AccountID,
			Amount:       p.Amount,
			BalanceAfter: p.BalanceAfter,
			Type:         TransactionTypeWithdrawal,
			Description:  p.Description,
			CreatedAt:    evt.OccurredAt,
		})
	case MoneyTransferred:
		destination := p.DestinationAccountID
		a.Balance = p.BalanceAfter
		a.Transactions = append(a.Transactions, Transaction{
			ID:                   p.TransactionID,
			AccountID:            p.AccountID,
			DestinationAccountID: &destination,
			Amount:               p.Amount,
			BalanceAfter:         p.BalanceAfter,
			Type:                 TransactionTypeTransfer,
			Description:          p.Description,
			CreatedAt:            evt.OccurredAt,
		})
	case TransferReceived:
		source := p.SourceAccountID
		a.Balance = p.BalanceAfter
		a.Transactions = append(a.Transactions, Transaction{
			ID:              p.TransactionID,
			AccountID:       p.AccountID,
			SourceAccountID: &source,
			Amount:          p.Amount,
			BalanceAfter:    p.BalanceAfter,
			Type:            TransactionTypeTransfer,
			Description:     p.Description,
			CreatedAt:       evt.OccurredAt,
		})
	case AccountSuspended:
		a.Status = AccountStatusSuspended
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventType, evt.Type())
	}

	a.Version = evt.Version
	a.UpdatedAt = evt.OccurredAt
	return nil
}
