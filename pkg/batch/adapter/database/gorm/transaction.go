package gorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tigerroll/csvimport/pkg/batch/adapter/database"
	"github.com/tigerroll/csvimport/pkg/batch/core/tx"
)

// GormTxAdapter implements tx.Tx on an open gorm transaction.
type GormTxAdapter struct {
	executor
}

var _ tx.Tx = (*GormTxAdapter)(nil)

func (t *GormTxAdapter) Savepoint(name string) error {
	return t.db.SavePoint(name).Error
}

func (t *GormTxAdapter) RollbackToSavepoint(name string) error {
	return t.db.RollbackTo(name).Error
}

func (t *GormTxAdapter) IsTableNotExistError(err error) bool {
	return isTableNotExistError(err)
}

func (t *GormTxAdapter) IsDuplicateKeyError(err error) bool {
	return isDuplicateKeyError(err)
}

// GormTransactionManager begins transactions on the connection named dbName.
// The connection is resolved on every Begin so that a reconnect is picked up.
type GormTransactionManager struct {
	dbResolver database.DBConnectionResolver
	dbName     string
}

// NewGormTransactionManager creates a manager for the connection named dbName.
func NewGormTransactionManager(dbResolver database.DBConnectionResolver, dbName string) *GormTransactionManager {
	return &GormTransactionManager{dbResolver: dbResolver, dbName: dbName}
}

func (m *GormTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	conn, err := m.dbResolver.ResolveDBConnection(ctx, m.dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve DB connection '%s' for transaction: %w", m.dbName, err)
	}
	adapter, ok := conn.(*GormDBAdapter)
	if !ok {
		return nil, fmt.Errorf("DB connection '%s' is %T, expected *GormDBAdapter", m.dbName, conn)
	}

	var txOpts *sql.TxOptions
	if len(opts) > 0 {
		txOpts = opts[0]
	}
	gormTx := adapter.GetGormDB().WithContext(ctx).Begin(txOpts)
	if gormTx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction on '%s': %w", m.dbName, gormTx.Error)
	}
	return &GormTxAdapter{executor: executor{db: gormTx}}, nil
}

func (m *GormTransactionManager) Commit(t tx.Tx) error {
	gormTx, ok := t.(*GormTxAdapter)
	if !ok {
		return fmt.Errorf("invalid transaction type: expected *GormTxAdapter, got %T", t)
	}
	return gormTx.db.Commit().Error
}

func (m *GormTransactionManager) Rollback(t tx.Tx) error {
	gormTx, ok := t.(*GormTxAdapter)
	if !ok {
		return fmt.Errorf("invalid transaction type: expected *GormTxAdapter, got %T", t)
	}
	err := gormTx.db.Rollback().Error
	if errors.Is(err, gorm.ErrInvalidTransaction) || errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// GormTransactionManagerFactory is the GORM implementation of tx.TransactionManagerFactory.
type GormTransactionManagerFactory struct {
	dbResolver database.DBConnectionResolver
}

// NewGormTransactionManagerFactory creates the factory.
func NewGormTransactionManagerFactory(dbResolver database.DBConnectionResolver) tx.TransactionManagerFactory {
	return &GormTransactionManagerFactory{dbResolver: dbResolver}
}

// NewTransactionManager returns a manager bound to the connection named dbName.
// The connection is not opened until the first Begin.
func (f *GormTransactionManagerFactory) NewTransactionManager(dbName string) tx.TransactionManager {
	return NewGormTransactionManager(f.dbResolver, dbName)
}
