package sqlite

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/usecase"
)

// AccountViewRepository implements usecase.AccountViewRepository.
type AccountViewRepository struct {
	db *gorm.DB
}

// NewAccountViewRepository creates a new AccountViewRepository.
func NewAccountViewRepository(db *gorm.DB) *AccountViewRepository {
	return &AccountViewRepository{db: db}
}

// Upsert writes the view within tx. Older versions never overwrite newer rows.
func (r *AccountViewRepository) Upsert(ctx context.Context, tx usecase.Transaction, view domain.AccountView) error {
	db, err := gormTxFrom(tx)
	if err != nil {
		return err
	}

	row := accountViewModel{
		ID:            view.ID,
		OwnerID:       view.OwnerID,
		AccountNumber: view.AccountNumber,
		Currency:      view.Currency,
		Balance:       view.Balance.Amount,
		Status:        string(view.Status),
		Version:       view.Version,
		CreatedAt:     view.CreatedAt.UTC(),
		UpdatedAt:     view.UpdatedAt.UTC(),
	}

	err = db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"balance", "status", "version", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "account_views.version < excluded.version"},
		}},
	}).Create(&row).Error
	if err != nil {
		// Only an account number collision can violate a constraint here.
		return persistenceError("upsert account view", err)
	}
	return nil
}

// GetByID retrieves a view by account id.
func (r *AccountViewRepository) GetByID(ctx context.Context, id string) (*domain.AccountView, error) {
	var row accountViewModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
		}
		return nil, persistenceError("get account view", err)
	}
	return toAccountView(row), nil
}

// ListByOwner returns the owner's accounts in opening order.
func (r *AccountViewRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.AccountView, error) {
	var rows []accountViewModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, persistenceError("list account views", err)
	}

	views := make([]*domain.AccountView, 0, len(rows))
	for _, row := range rows {
		views = append(views, toAccountView(row))
	}
	return views, nil
}

func toAccountView(row accountViewModel) *domain.AccountView {
	return &domain.AccountView{
		ID:            row.ID,
		OwnerID:       row.OwnerID,
		AccountNumber: row.AccountNumber,
		Currency:      row.Currency,
		Balance:       domain.Money{Amount: row.Balance, Currency: row.Currency},
		Status:        domain.AccountStatus(row.Status),
		Version:       row.Version,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}
