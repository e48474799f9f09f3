package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/iho/eventledger/internal/usecase"
)

// TxManager implements usecase.TransactionManager on gorm.
type TxManager struct {
	db *gorm.DB
}

// NewTxManager creates a new TxManager.
func NewTxManager(db *gorm.DB) *TxManager {
	return &TxManager{db: db}
}

// Begin starts a new transaction.
func (m *TxManager) Begin(ctx context.Context) (usecase.Transaction, error) {
	tx := m.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, persistenceError("begin transaction", tx.Error)
	}
	return &Tx{db: tx}, nil
}

// Tx wraps a gorm transaction.
type Tx struct {
	db *gorm.DB
}

// Commit commits the transaction.
func (t *Tx) Commit(context.Context) error {
	if err := t.db.Commit().Error; err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

// Rollback rolls back the transaction. Rolling back a finished transaction is a no-op.
func (t *Tx) Rollback(context.Context) error {
	err := t.db.Rollback().Error
	if err == nil || errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func gormTxFrom(tx usecase.Transaction) (*gorm.DB, error) {
	gormTx, ok := tx.(*Tx)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("sqlite: unsupported transaction type %T", tx)
	}
	return gormTx.db, nil
}
