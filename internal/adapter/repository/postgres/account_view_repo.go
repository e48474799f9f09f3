package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/infrastructure/postgres/generated"
	"github.com/iho/eventledger/internal/usecase"
)

// AccountViewRepository implements usecase.AccountViewRepository.
type AccountViewRepository struct {
	queries *generated.Queries
}

// NewAccountViewRepository creates a new AccountViewRepository.
func NewAccountViewRepository(pool *pgxpool.Pool) *AccountViewRepository {
	return newAccountViewRepository(pool)
}

func newAccountViewRepository(db generated.DBTX) *AccountViewRepository {
	return &AccountViewRepository{queries: generated.New(db)}
}

// Upsert writes the view within tx. Older versions never overwrite newer rows.
func (r *AccountViewRepository) Upsert(ctx context.Context, tx usecase.Transaction, view domain.AccountView) error {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return err
	}

	err = r.queries.WithTx(pgxTx).UpsertAccountView(ctx, generated.UpsertAccountViewParams{
		ID:            view.ID,
		OwnerID:       view.OwnerID,
		AccountNumber: view.AccountNumber,
		Currency:      view.Currency,
		Balance:       decimalToNumeric(view.Balance.Amount),
		Status:        string(view.Status),
		Version:       view.Version,
		CreatedAt:     timeToPgTimestamptz(view.CreatedAt),
		UpdatedAt:     timeToPgTimestamptz(view.UpdatedAt),
	})
	if err != nil {
		// Version races surface on the event append first. A unique violation
		// here is an account number collision, which no reload can resolve.
		return persistenceError("upsert account view", err)
	}

	return nil
}

// GetByID retrieves a view by account id.
func (r *AccountViewRepository) GetByID(ctx context.Context, id string) (*domain.AccountView, error) {
	row, err := r.queries.GetAccountView(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
		}
		return nil, persistenceError("get account view", err)
	}

	return rowToAccountView(row), nil
}

// ListByOwner returns the owner's accounts in opening order.
func (r *AccountViewRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.AccountView, error) {
	rows, err := r.queries.ListAccountViewsByOwner(ctx, generated.ListAccountViewsByOwnerParams{
		OwnerID: ownerID,
		Limit:   int32(limit),
		Offset:  int32(offset),
	})
	if err != nil {
		return nil, persistenceError("list account views", err)
	}

	views := make([]*domain.AccountView, 0, len(rows))
	for _, row := range rows {
		views = append(views, rowToAccountView(row))
	}

	return views, nil
}

func rowToAccountView(row generated.AccountView) *domain.AccountView {
	return &domain.AccountView{
		ID:            row.ID,
		OwnerID:       row.OwnerID,
		AccountNumber: row.AccountNumber,
		Currency:      row.Currency,
		Balance:       domain.Money{Amount: numericToDecimal(row.Balance), Currency: row.Currency},
		Status:        domain.AccountStatus(row.Status),
		Version:       row.Version,
		CreatedAt:     row.CreatedAt.Time,
		UpdatedAt:     row.UpdatedAt.Time,
	}
}
