package domain

import "time"

// TransactionType classifies a balance movement.
type TransactionType string

// Transaction types
const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
	TransactionTypeTransfer   TransactionType = "transfer"
	TransactionTypeRefund     TransactionType = "refund"
)

// Transaction is an immutable balance movement owned by an Account.
// DestinationAccountID is set on the debit leg of a transfer, SourceAccountID on the credit leg.
type Transaction struct {
	ID                   string          `json:"id"`
	AccountID            string          `json:"account_id"`
	DestinationAccountID *string         `json:"destination_account_id,omitempty"`
	SourceAccountID      *string         `json:"source_account_id,omitempty"`
	Amount               Money           `json:"amount"`
	BalanceAfter         Money           `json:"balance_after"`
	Type                 TransactionType `json:"type"`
	Description          string          `json:"description,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// IsCredit reports whether the transaction increased the balance.
func (t Transaction) IsCredit() bool {
	switch t.Type {
	case TransactionTypeDeposit, TransactionTypeRefund:
		return true
	case TransactionTypeTransfer:
		return t.SourceAccountID != nil
	default:
		return false
	}
}
