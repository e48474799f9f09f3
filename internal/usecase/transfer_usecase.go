package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/eventledger/internal/domain"
)

// TransferInput represents input for a transfer between two accounts.
type TransferInput struct {
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Currency      string
	Description   string
}

// Transfer moves money between two accounts. Both aggregates are loaded, mutated
// together in memory and persisted in one database transaction, so the debit and
// the credit commit or fail together.
func (uc *LedgerUseCase) Transfer(ctx context.Context, input TransferInput) (*domain.Transaction, error) {
	if input.FromAccountID == input.ToAccountID {
		uc.recordFailure(OperationTransfer, domain.ErrSameAccount)
		return nil, domain.ErrSameAccount
	}

	start := time.Now()

	var result *domain.Transaction
	var creditID string
	err := uc.retry(ctx, func() error {
		source, err := uc.load(ctx, input.FromAccountID)
		if err != nil {
			return err
		}
		destination, err := uc.load(ctx, input.ToAccountID)
		if err != nil {
			return err
		}

		amount, err := moneyFor(source, input.Amount, input.Currency)
		if err != nil {
			return err
		}

		tx, err := source.Transfer(destination, uc.idGen.Generate(), uc.idGen.Generate(), amount, input.Description, uc.now())
		if err != nil {
			return err
		}

		credit := destination.NewTransactions()
		if len(credit) != 1 {
			return fmt.Errorf("%w: expected one credit leg, got %d", domain.ErrInvalidOperation, len(credit))
		}

		if err := uc.persist(ctx, source, destination); err != nil {
			return err
		}
		result = tx
		creditID = credit[0].ID
		return nil
	})
	if err != nil {
		uc.recordFailure(OperationTransfer, err)
		return nil, err
	}

	uc.recordSuccess(OperationTransfer, start)
	if uc.metrics != nil {
		uc.metrics.TransferAmount.Observe(result.Amount.Amount.InexactFloat64())
	}
	uc.logger.Info().
		Str("from_account_id", input.FromAccountID).
		Str("to_account_id", input.ToAccountID).
		Str("transaction_id", result.ID).
		Str("credit_transaction_id", creditID).
		Str("amount", result.Amount.String()).
		Msg("transfer completed")

	return result, nil
}
