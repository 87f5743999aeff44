// Package tx provides an abstraction for transaction management.
// A Tx begun by a TransactionManager travels through the call chain inside a
// context.Context so that repositories and item writers enlist in the same unit of work.
package tx

import (
	"context"
	"database/sql"
	"strings"
)

// TxExecutor defines the data operations executable within a transaction.
type TxExecutor interface {
	// ExecuteUpdate performs a write operation ("CREATE", "UPDATE", "DELETE") on tableName.
	// For UPDATE and DELETE, query holds the WHERE conditions combined with AND.
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)

	// ExecuteUpsert inserts model, updating updateColumns when conflictColumns collide.
	// An empty updateColumns turns the conflict into DO NOTHING.
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)

	// ExecuteQuery loads the rows matching query into target.
	ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error

	// ExecuteQueryAdvanced is ExecuteQuery with ordering and a row limit. A limit of 0 means no limit.
	ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error

	// Count counts the rows of model's table matching query.
	Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error)
}

// Tx represents an ongoing database transaction.
type Tx interface {
	TxExecutor

	// Savepoint creates a named savepoint within the transaction.
	Savepoint(name string) error
	// RollbackToSavepoint undoes the changes made after the named savepoint.
	RollbackToSavepoint(name string) error

	// IsTableNotExistError reports whether err means a table is missing.
	IsTableNotExistError(err error) bool
	// IsDuplicateKeyError reports whether err is a unique or primary key violation.
	IsDuplicateKeyError(err error) bool
}

// TransactionManager manages the lifecycle of transactions.
type TransactionManager interface {
	// Begin starts a new transaction. Only the first opts element is used.
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	Commit(tx Tx) error
	Rollback(tx Tx) error
}

// TransactionManagerFactory creates TransactionManagers bound to a named connection.
type TransactionManagerFactory interface {
	NewTransactionManager(dbName string) TransactionManager
}

type txContextKey struct{}

// NewContext returns a copy of ctx carrying t.
func NewContext(ctx context.Context, t Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, t)
}

// FromContext returns the transaction carried by ctx, if any.
func FromContext(ctx context.Context) (Tx, bool) {
	t, ok := ctx.Value(txContextKey{}).(Tx)
	return t, ok && t != nil
}

// Options builds the TxOptions for a configured isolation level name such as
// "READ_COMMITTED" or "serializable". An empty or unknown name yields nil, the driver default.
func Options(isolationLevel string) *sql.TxOptions {
	name := strings.ToUpper(strings.NewReplacer(" ", "_", "-", "_").Replace(strings.TrimSpace(isolationLevel)))
	var level sql.IsolationLevel
	switch name {
	case "READ_UNCOMMITTED":
		level = sql.LevelReadUncommitted
	case "READ_COMMITTED":
		level = sql.LevelReadCommitted
	case "REPEATABLE_READ":
		level = sql.LevelRepeatableRead
	case "SERIALIZABLE":
		level = sql.LevelSerializable
	default:
		return nil
	}
	return &sql.TxOptions{Isolation: level}
}
